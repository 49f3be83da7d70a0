package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"pointshub/internal/model"
)

func futureEvent(name string, published bool) *model.Event {
	return &model.Event{
		Name:         name,
		Description:  "desc",
		Location:     "BA 1160",
		StartTime:    testNow.Add(24 * time.Hour),
		EndTime:      testNow.Add(26 * time.Hour),
		PointsRemain: 500,
		Published:    published,
	}
}

func TestListEvents_HidesManagerFields(t *testing.T) {
	env := newTestEnv(t)
	regular := env.addUser("regular1", model.RoleRegular)
	manager := env.addUser("manager1", model.RoleManager)
	env.addEvent(futureEvent("Open", true))
	env.addEvent(futureEvent("Draft", false))

	w := env.do(http.MethodGet, "/events", regular, nil)
	expectStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	results := resp["results"].([]any)
	if resp["count"] != float64(1) || len(results) != 1 {
		t.Fatalf("regular should see only the published event, got %v", resp)
	}
	item := results[0].(map[string]any)
	for _, key := range []string{"pointsRemain", "pointsAwarded", "published"} {
		if _, ok := item[key]; ok {
			t.Fatalf("regular should not see %s", key)
		}
	}

	w = env.do(http.MethodGet, "/events", manager, nil)
	expectStatus(t, w, http.StatusOK)
	resp = decode(t, w)
	if resp["count"] != float64(2) {
		t.Fatalf("manager should see both events, got %v", resp)
	}
	if _, ok := resp["results"].([]any)[0].(map[string]any)["pointsRemain"]; !ok {
		t.Fatalf("manager should see pointsRemain")
	}

	expectStatus(t, env.do(http.MethodGet, "/events?started=true&ended=false", manager, nil), http.StatusBadRequest)
	expectStatus(t, env.do(http.MethodGet, "/events?page=0", manager, nil), http.StatusBadRequest)
}

func TestGetEvent_Visibility(t *testing.T) {
	env := newTestEnv(t)
	regular := env.addUser("regular1", model.RoleRegular)
	organizer := env.addUser("organiz1", model.RoleRegular)
	draft := futureEvent("Draft", false)
	draft.Organizers = []model.User{*organizer}
	env.addEvent(draft)
	path := "/events/" + itoa(draft.ID)

	expectStatus(t, env.do(http.MethodGet, path, regular, nil), http.StatusNotFound)

	w := env.do(http.MethodGet, path, organizer, nil)
	expectStatus(t, w, http.StatusOK)
	if _, ok := decode(t, w)["guests"]; !ok {
		t.Fatalf("organizer should see guests")
	}
	expectStatus(t, env.do(http.MethodGet, path+"/calendar", regular, nil), http.StatusNotFound)

	w = env.do(http.MethodGet, path+"/calendar", organizer, nil)
	expectStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "BEGIN:VEVENT") {
		t.Fatalf("expected ics body")
	}
}

func TestCreateEvent(t *testing.T) {
	env := newTestEnv(t)
	manager := env.addUser("manager1", model.RoleManager)
	valid := func() map[string]any {
		return map[string]any{
			"name":        "Games Night",
			"description": "board games",
			"location":    "SS 1088",
			"startTime":   "2025-03-10T18:00:00Z",
			"endTime":     "2025-03-10T21:00:00Z",
			"capacity":    20,
			"points":      300,
		}
	}

	w := env.do(http.MethodPost, "/events", manager, valid())
	expectStatus(t, w, http.StatusCreated)
	resp := decode(t, w)
	if resp["pointsRemain"] != float64(300) || resp["published"] != false {
		t.Fatalf("unexpected event %v", resp)
	}

	cases := map[string]func(map[string]any){
		"end before start": func(b map[string]any) { b["endTime"] = "2025-03-10T17:00:00Z" },
		"zero capacity":    func(b map[string]any) { b["capacity"] = 0 },
		"negative points":  func(b map[string]any) { b["points"] = -5 },
		"missing name":     func(b map[string]any) { delete(b, "name") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := valid()
			mutate(b)
			expectStatus(t, env.do(http.MethodPost, "/events", manager, b), http.StatusBadRequest)
		})
	}
}

func TestUpdateEvent_RejectedAfterStart(t *testing.T) {
	env := newTestEnv(t)
	manager := env.addUser("manager1", model.RoleManager)
	started := futureEvent("Started", true)
	started.StartTime = testNow.Add(-time.Hour)
	env.addEvent(started)
	upcoming := env.addEvent(futureEvent("Upcoming", false))

	expectStatus(t, env.do(http.MethodPatch, "/events/"+itoa(started.ID), manager, map[string]any{"name": "Renamed"}), http.StatusBadRequest)

	w := env.do(http.MethodPatch, "/events/"+itoa(upcoming.ID), manager, map[string]any{"name": "Renamed", "published": true})
	expectStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if resp["name"] != "Renamed" || resp["published"] != true {
		t.Fatalf("unexpected update %v", resp)
	}
	expectStatus(t, env.do(http.MethodPatch, "/events/"+itoa(upcoming.ID), manager, map[string]any{"published": false}), http.StatusBadRequest)
}

func TestUpdateEvent_OrganizerLimits(t *testing.T) {
	env := newTestEnv(t)
	organizer := env.addUser("organiz1", model.RoleRegular)
	other := env.addUser("regular1", model.RoleRegular)
	e := futureEvent("Meetup", true)
	e.Organizers = []model.User{*organizer}
	env.addEvent(e)
	path := "/events/" + itoa(e.ID)

	expectStatus(t, env.do(http.MethodPatch, path, other, map[string]any{"name": "x"}), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodPatch, path, organizer, map[string]any{"points": 100}), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodPatch, path, organizer, map[string]any{"location": "MY 150"}), http.StatusOK)
}

func TestGuests_JoinLeaveAndCapacity(t *testing.T) {
	env := newTestEnv(t)
	manager := env.addUser("manager1", model.RoleManager)
	first := env.addUser("guest001", model.RoleRegular)
	second := env.addUser("guest002", model.RoleRegular)
	capacity := 1
	e := futureEvent("Small", true)
	e.Capacity = &capacity
	env.addEvent(e)
	base := "/events/" + itoa(e.ID) + "/guests"

	w := env.do(http.MethodPost, base+"/me", first, nil)
	expectStatus(t, w, http.StatusCreated)
	if decode(t, w)["numGuests"] != float64(1) {
		t.Fatalf("expected one guest")
	}
	expectStatus(t, env.do(http.MethodPost, base+"/me", second, nil), http.StatusGone)
	expectStatus(t, env.do(http.MethodPost, base, manager, map[string]any{"utorid": "guest002"}), http.StatusGone)

	w = env.do(http.MethodGet, base+"/export", manager, nil)
	expectStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Header().Get("Content-Disposition"), "guests.xlsx") {
		t.Fatalf("unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}
	expectStatus(t, env.do(http.MethodGet, base+"/export", second, nil), http.StatusForbidden)

	expectStatus(t, env.do(http.MethodDelete, base+"/me", second, nil), http.StatusNotFound)
	expectStatus(t, env.do(http.MethodDelete, base+"/me", first, nil), http.StatusNoContent)
	expectStatus(t, env.do(http.MethodPost, base+"/me", second, nil), http.StatusCreated)
}

func TestOrganizers(t *testing.T) {
	env := newTestEnv(t)
	manager := env.addUser("manager1", model.RoleManager)
	guest := env.addUser("guest001", model.RoleRegular)
	env.addUser("organiz1", model.RoleRegular)
	e := env.addEvent(futureEvent("Meetup", true))
	base := "/events/" + itoa(e.ID)

	expectStatus(t, env.do(http.MethodPost, base+"/guests/me", guest, nil), http.StatusCreated)
	expectStatus(t, env.do(http.MethodPost, base+"/organizers", manager, map[string]any{"utorid": "guest001"}), http.StatusBadRequest)
	expectStatus(t, env.do(http.MethodPost, base+"/organizers", manager, map[string]any{"utorid": "nobody01"}), http.StatusNotFound)

	w := env.do(http.MethodPost, base+"/organizers", manager, map[string]any{"utorid": "organiz1"})
	expectStatus(t, w, http.StatusCreated)
	if len(decode(t, w)["organizers"].([]any)) != 1 {
		t.Fatalf("expected one organizer")
	}
}

func TestDeleteEvent(t *testing.T) {
	env := newTestEnv(t)
	manager := env.addUser("manager1", model.RoleManager)
	published := env.addEvent(futureEvent("Live", true))
	draft := env.addEvent(futureEvent("Draft", false))

	expectStatus(t, env.do(http.MethodDelete, "/events/"+itoa(published.ID), manager, nil), http.StatusBadRequest)
	expectStatus(t, env.do(http.MethodDelete, "/events/"+itoa(draft.ID), manager, nil), http.StatusNoContent)
	expectStatus(t, env.do(http.MethodDelete, "/events/"+itoa(draft.ID), manager, nil), http.StatusNotFound)
}
