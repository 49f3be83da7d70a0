package validate

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
)

func TestUtorid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"abcdef", false},    // 6
		{"abcdefg", true},    // 7
		{"abcdef12", true},   // 8
		{"abcdefghi", false}, // 9
		{"ABCDEFG", false},
		{"abc_efg", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Utorid(tt.in); got != tt.want {
			t.Errorf("Utorid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEmail(t *testing.T) {
	tests := map[string]bool{
		"john.doe@mail.utoronto.ca":  true,
		"j1.d2@mail.utoronto.ca":     true,
		"johndoe@mail.utoronto.ca":   false,
		"john.doe@utoronto.ca":       false,
		"John.Doe@mail.utoronto.ca":  false,
		"john.doe@mail.utoronto.com": false,
	}
	for in, want := range tests {
		if got := Email(in); got != want {
			t.Errorf("Email(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPassword(t *testing.T) {
	tests := map[string]bool{
		"Abcdef1!":              true,
		"Abcdef1":               false, // short, no symbol
		"abcdefg1!":             false, // no upper
		"ABCDEFG1!":             false, // no lower
		"Abcdefgh!":             false, // no digit
		"Abcdefgh1":             false, // no symbol
		"Abcdefgh1!Abcdefgh1!":  true,  // 20
		"Abcdefgh1!Abcdefgh1!x": false, // 21
	}
	for in, want := range tests {
		if got := Password(in); got != want {
			t.Errorf("Password(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestName(t *testing.T) {
	long := make([]rune, MaxNameLength+1)
	for i := range long {
		long[i] = 'é'
	}
	if !Name(string(long[:MaxNameLength])) {
		t.Errorf("expected %d runes to pass", MaxNameLength)
	}
	if Name(string(long)) {
		t.Errorf("expected %d runes to fail", MaxNameLength+1)
	}
	if Name("") {
		t.Errorf("expected empty name to fail")
	}
}

func TestBirthday(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := map[string]bool{
		"2000-02-29": true,
		"2001-02-29": false,
		"2000-13-01": false,
		"2025-06-01": true,
		"2025-06-02": false,
		"2000-1-01":  false,
		"01/02/2000": false,
	}
	for in, want := range tests {
		if got := Birthday(in, now); got != want {
			t.Errorf("Birthday(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2025-03-01", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"2025-03-01T10:30", time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC), true},
		{"2025-03-01T10:30:15", time.Date(2025, 3, 1, 10, 30, 15, 0, time.UTC), true},
		{"2025-03-01T10:30:15.250Z", time.Date(2025, 3, 1, 10, 30, 15, 250_000_000, time.UTC), true},
		{"2025-03-01T10:30:00-05:00", time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC), true},
		{"2025-03-01T10:30Z", time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC), true},
		{"2025-02-30", time.Time{}, false},
		{"2025-03-01 10:30", time.Time{}, false},
		{"yesterday", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseTime(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseTime(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPagination(t *testing.T) {
	tests := []struct {
		page, limit string
		wantP       int
		wantL       int
		wantErr     bool
	}{
		{"", "", 1, 10, false},
		{"3", "25", 3, 25, false},
		{"0", "", 0, 0, true},
		{"", "-1", 0, 0, true},
		{"two", "", 0, 0, true},
		{"1.5", "", 0, 0, true},
	}
	for _, tt := range tests {
		p, l, err := Pagination(tt.page, tt.limit)
		if (err != nil) != tt.wantErr {
			t.Errorf("Pagination(%q,%q) err = %v", tt.page, tt.limit, err)
			continue
		}
		if p != tt.wantP || l != tt.wantL {
			t.Errorf("Pagination(%q,%q) = %d,%d", tt.page, tt.limit, p, l)
		}
	}
}

func TestQueryBool(t *testing.T) {
	if v, set, ok := QueryBool("true"); !v || !set || !ok {
		t.Errorf("true: %v %v %v", v, set, ok)
	}
	if v, set, ok := QueryBool("false"); v || !set || !ok {
		t.Errorf("false: %v %v %v", v, set, ok)
	}
	if _, set, ok := QueryBool(""); set || !ok {
		t.Errorf("empty: %v %v", set, ok)
	}
	if _, _, ok := QueryBool("yes"); ok {
		t.Errorf("yes should be rejected")
	}
}

func TestParseID(t *testing.T) {
	if id, ok := ParseID("42"); !ok || id != 42 {
		t.Errorf("ParseID(42) = %d, %v", id, ok)
	}
	for _, bad := range []string{"", "0", "-1", "abc", "1e3"} {
		if _, ok := ParseID(bad); ok {
			t.Errorf("ParseID(%q) should fail", bad)
		}
	}
}

func decode(t *testing.T, raw string) Payload {
	t.Helper()
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return p
}

func TestPayloadAccessors(t *testing.T) {
	p := decode(t, `{"name":"x","n":3,"f":2.5,"neg":-4,"b":true,"bs":"false","ids":[1,2,3],"bad_ids":[1,"2"],"nil":null}`)

	if !p.Has("name") || p.Has("nil") || p.Has("missing") {
		t.Errorf("Has mismatch")
	}
	if !p.Empty("nil", "missing") || p.Empty("nil", "name") {
		t.Errorf("Empty mismatch")
	}
	if _, ok := p.String("n"); ok {
		t.Errorf("number should not be a string")
	}
	if v, ok := p.Int("n"); !ok || v != 3 {
		t.Errorf("Int(n) = %d, %v", v, ok)
	}
	if _, ok := p.Int("f"); ok {
		t.Errorf("Int(f) should fail for 2.5")
	}
	if _, ok := p.PositiveInt("neg"); ok {
		t.Errorf("PositiveInt(neg) should fail")
	}
	if v, ok := p.Int("neg"); !ok || v != -4 {
		t.Errorf("Int(neg) = %d, %v", v, ok)
	}
	if v, ok := p.PositiveNumber("f"); !ok || v != 2.5 {
		t.Errorf("PositiveNumber(f) = %v, %v", v, ok)
	}
	if v, ok := p.Bool("b"); !ok || !v {
		t.Errorf("Bool(b) = %v, %v", v, ok)
	}
	if v, ok := p.Bool("bs"); !ok || v {
		t.Errorf("Bool(bs) = %v, %v", v, ok)
	}
	ids, ok := p.IDs("ids")
	if !ok {
		t.Fatalf("IDs(ids) failed")
	}
	if diff := cmp.Diff([]uint{1, 2, 3}, ids); diff != "" {
		t.Errorf("IDs mismatch (-want +got):\n%s", diff)
	}
	if _, ok := p.IDs("bad_ids"); ok {
		t.Errorf("IDs(bad_ids) should fail")
	}
}

func TestFromRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name    string
		body    string
		want    Payload
		wantErr bool
	}{
		{name: "object", body: `{"utorid":"johndoe1","points":5}`, want: Payload{"utorid": "johndoe1", "points": float64(5)}},
		{name: "empty body", body: "", want: Payload{}},
		{name: "null", body: "null", want: Payload{}},
		{name: "array", body: `[1,2]`, wantErr: true},
		{name: "broken", body: `{"a":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			got, err := FromRequest(c)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
