package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"pointshub/internal/model"

	ics "github.com/arran4/golang-ical"
	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

func sampleEvent() *model.Event {
	start := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	return &model.Event{
		ID:          42,
		Name:        "Spring Mixer",
		Description: "Meet the team",
		Location:    "BA 1160",
		StartTime:   start,
		EndTime:     start.Add(2 * time.Hour),
		Guests: []model.User{
			{ID: 3, Utorid: "johndoe1", Name: "John", Email: "john.doe@mail.utoronto.ca"},
			{ID: 5, Utorid: "janedoe2", Name: "Jane", Email: "jane.doe@mail.utoronto.ca"},
		},
	}
}

func TestGuestsXLSX(t *testing.T) {
	data, err := GuestsXLSX(sampleEvent())
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(guestSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	want := [][]string{
		{"ID", "UTORid", "Name", "Email"},
		{"3", "johndoe1", "John", "john.doe@mail.utoronto.ca"},
		{"5", "janedoe2", "Jane", "jane.doe@mail.utoronto.ca"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestGuestsXLSX_NoGuests(t *testing.T) {
	e := sampleEvent()
	e.Guests = nil
	data, err := GuestsXLSX(e)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(guestSheet)
	if len(rows) != 1 {
		t.Fatalf("expected header only, got %d rows", len(rows))
	}
}

func TestEventICS(t *testing.T) {
	e := sampleEvent()
	data, err := EventICS(e, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	events := cal.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if got := ev.GetProperty(ics.ComponentPropertySummary).Value; got != "Spring Mixer" {
		t.Fatalf("summary = %q", got)
	}
	if got := ev.GetProperty(ics.ComponentPropertyLocation).Value; got != "BA 1160" {
		t.Fatalf("location = %q", got)
	}
	start, err := ev.GetStartAt()
	if err != nil || !start.Equal(e.StartTime) {
		t.Fatalf("start = %v, %v", start, err)
	}
	if !strings.Contains(string(data), "UID:event-42@pointshub") {
		t.Fatalf("missing uid in %s", data)
	}
}

func TestFilenames(t *testing.T) {
	e := sampleEvent()
	if got := GuestsFilename(e); got != "event-42-guests.xlsx" {
		t.Fatalf("guests filename = %q", got)
	}
	if got := CalendarFilename(e); got != "event-42.ics" {
		t.Fatalf("calendar filename = %q", got)
	}
}
