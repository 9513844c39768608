package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/zmcp/odata-provider/internal/models"
)

// legacyDate matches the OData v2 JSON date form /Date(ms[+-hhmm])/
var legacyDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// isoLayouts are tried in order when converting ISO input to the legacy form
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseLegacyDate returns the instant of a /Date(...)/ string. The optional
// offset only describes the original zone; the milliseconds are UTC.
func ParseLegacyDate(s string) (time.Time, bool) {
	m := legacyDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// LegacyToISO converts /Date(ms)/ to RFC 3339; other strings are returned as is
func LegacyToISO(s string) string {
	t, ok := ParseLegacyDate(s)
	if !ok {
		return s
	}
	return t.Format(time.RFC3339)
}

// ISOToLegacy converts an ISO 8601 string to /Date(ms)/; unparseable input is
// returned as is
func ISOToLegacy(s string) string {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return fmt.Sprintf("/Date(%d)/", t.UnixMilli())
		}
	}
	return s
}

// LegacyDatesToISO returns a copy of record with every legacy date, at any
// depth, converted to RFC 3339
func LegacyDatesToISO(record models.Record) models.Record {
	if record == nil {
		return nil
	}
	out := make(models.Record, len(record))
	for k, v := range record {
		out[k] = legacyValueToISO(v)
	}
	return out
}

func legacyValueToISO(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return LegacyToISO(v)
	case map[string]interface{}:
		return LegacyDatesToISO(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = legacyValueToISO(item)
		}
		return out
	default:
		return value
	}
}
