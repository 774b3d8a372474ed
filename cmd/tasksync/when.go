package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var whenParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseAt resolves a --at value relative to now. It accepts RFC 3339,
// YYYY-MM-DD and natural language such as "tomorrow 9am".
func parseAt(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "now" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(now.Location()), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, now.Location()); err == nil {
		return t, nil
	}

	r, err := whenParser.Parse(value, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", value, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", value)
	}
	return r.Time, nil
}
