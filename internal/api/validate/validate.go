// Package validate holds the field rules shared by the HTTP handlers.
//
// Request bodies are decoded into a Payload so that each field can be type
// checked on its own and the handler can stop at the first bad field.
package validate

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

var (
	utoridRe   = regexp.MustCompile(`^[a-z0-9]{7,8}$`)
	emailRe    = regexp.MustCompile(`^[a-z0-9]+\.[a-z0-9]+@mail\.utoronto\.ca$`)
	birthdayRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	isoRe      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}(:\d{2}(?:\.\d{1,6})?)?(Z|[+-]\d{2}:\d{2})?)?$`)

	passwordUpper  = regexp.MustCompile(`[A-Z]`)
	passwordLower  = regexp.MustCompile(`[a-z]`)
	passwordDigit  = regexp.MustCompile(`[0-9]`)
	passwordSymbol = regexp.MustCompile(`[@$!%*?&]`)
)

// MaxNameLength is the longest accepted user name, in runes.
const MaxNameLength = 50

// ErrPagination is returned for a page or limit that is not a positive integer.
var ErrPagination = errors.New("invalid pagination")

func Utorid(s string) bool {
	return utoridRe.MatchString(s)
}

func Email(s string) bool {
	return emailRe.MatchString(s)
}

func Name(s string) bool {
	n := utf8.RuneCountInString(s)
	return n > 0 && n <= MaxNameLength
}

// Password requires 8-20 characters with an upper, a lower, a digit and one of @$!%*?&.
func Password(s string) bool {
	if len(s) < 8 || len(s) > 20 {
		return false
	}
	return passwordUpper.MatchString(s) &&
		passwordLower.MatchString(s) &&
		passwordDigit.MatchString(s) &&
		passwordSymbol.MatchString(s)
}

// Birthday accepts a real YYYY-MM-DD calendar date that is not after now.
func Birthday(s string, now time.Time) bool {
	if !birthdayRe.MatchString(s) {
		return false
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return false
	}
	return !d.After(now)
}

var isoLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
}

// ParseTime parses an ISO-8601 date or date-time. Values without a zone are UTC.
func ParseTime(s string) (time.Time, bool) {
	if !isoRe.MatchString(s) {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Pagination parses page and limit query values. Empty values default to 1 and 10.
func Pagination(page, limit string) (int, int, error) {
	p, err := positiveQueryInt(page, 1)
	if err != nil {
		return 0, 0, err
	}
	l, err := positiveQueryInt(limit, 10)
	if err != nil {
		return 0, 0, err
	}
	return p, l, nil
}

func positiveQueryInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, ErrPagination
	}
	return v, nil
}

// QueryBool parses an optional "true"/"false" query value.
// set is false when the value is empty; ok is false when it is anything else.
func QueryBool(s string) (value, set, ok bool) {
	switch s {
	case "":
		return false, false, true
	case "true":
		return true, true, true
	case "false":
		return false, true, true
	default:
		return false, true, false
	}
}

// ParseID parses a positive numeric path id.
func ParseID(s string) (uint, bool) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

// Payload is a loosely typed JSON object. Numbers decode as float64.
type Payload map[string]any

// FromRequest decodes a JSON object body. An empty body yields an empty payload.
func FromRequest(c *gin.Context) (Payload, error) {
	p := Payload{}
	if c.Request.Body == nil {
		return p, nil
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// Has reports whether key is present with a non-null value.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Empty reports whether none of keys carry a value.
func (p Payload) Empty(keys ...string) bool {
	for _, k := range keys {
		if p.Has(k) {
			return false
		}
	}
	return true
}

func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Int returns an integral number.
func (p Payload) Int(key string) (int64, bool) {
	f, ok := p[key].(float64)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// PositiveInt returns an integral number greater than zero.
func (p Payload) PositiveInt(key string) (int64, bool) {
	v, ok := p.Int(key)
	return v, ok && v > 0
}

func (p Payload) Number(key string) (float64, bool) {
	f, ok := p[key].(float64)
	return f, ok && !math.IsNaN(f) && !math.IsInf(f, 0)
}

// PositiveNumber returns a number greater than zero.
func (p Payload) PositiveNumber(key string) (float64, bool) {
	f, ok := p.Number(key)
	return f, ok && f > 0
}

// Bool accepts a JSON boolean or the strings "true" and "false".
func (p Payload) Bool(key string) (bool, bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(v) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// IDs returns an array of positive integers.
func (p Payload) IDs(key string) ([]uint, bool) {
	raw, ok := p[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]uint, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) || f < 1 || f > math.MaxUint32 {
			return nil, false
		}
		out = append(out, uint(f))
	}
	return out, true
}
