package appointment

import (
	"sort"
	"strings"
	"time"

	"github.com/orion/tasksync/internal/schema"
)

// Group is one calendar day of appointments.
type Group struct {
	Date         string               `json:"date"` // YYYY-MM-DD
	DateLabel    string               `json:"dateLabel"`
	Appointments []schema.Appointment `json:"appointments"`
}

// Location resolves an IANA timezone id, falling back to fallback when the
// id is empty or unknown.
func Location(timezoneID string, fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.Local
	}
	if timezoneID == "" {
		return fallback
	}
	loc, err := time.LoadLocation(timezoneID)
	if err != nil {
		return fallback
	}
	return loc
}

// GroupByDate buckets appointments by their start date in loc. Groups are
// sorted by date and appointments within a group by start time.
// Appointments with an unparseable start time are left out.
func GroupByDate(appointments []schema.Appointment, loc *time.Location, now time.Time) []Group {
	if loc == nil {
		loc = now.Location()
	}

	type entry struct {
		start time.Time
		appt  schema.Appointment
	}
	byDate := make(map[string][]entry)
	for _, a := range appointments {
		start, err := a.Start()
		if err != nil {
			continue
		}
		start = start.In(loc)
		key := start.Format(time.DateOnly)
		byDate[key] = append(byDate[key], entry{start: start, appt: a})
	}

	groups := make([]Group, 0, len(byDate))
	for key, entries := range byDate {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].start.Before(entries[j].start) })
		items := make([]schema.Appointment, len(entries))
		for i, e := range entries {
			items[i] = e.appt
		}
		day, _ := time.ParseInLocation(time.DateOnly, key, loc)
		groups = append(groups, Group{
			Date:         key,
			DateLabel:    DateLabel(day, now.In(loc)),
			Appointments: items,
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Date < groups[j].Date })
	return groups
}

// DateLabel names date relative to today: Today, Tomorrow, Day After
// Tomorrow, or a date such as "Dec 12, 2025".
func DateLabel(date, today time.Time) string {
	switch dayOffset(date, today) {
	case 0:
		return "Today"
	case 1:
		return "Tomorrow"
	case 2:
		return "Day After Tomorrow"
	}
	return date.Format("Jan 2, 2006")
}

// dayOffset counts calendar days from today to date in today's location.
func dayOffset(date, today time.Time) int {
	date = date.In(today.Location())
	d := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, time.UTC)
	t := time.Date(today.Year(), today.Month(), today.Day(), 12, 0, 0, 0, time.UTC)
	return int(d.Sub(t).Hours() / 24)
}

// FormatTime renders t like "2:00 p. m.".
func FormatTime(t time.Time) string {
	period := "a. m."
	if t.Hour() >= 12 {
		period = "p. m."
	}
	return t.Format("3:04") + " " + period
}

// FormatTimeRange renders an ISO start and end in loc, e.g.
// "2:00 p. m. - 3:00 p. m.". Unparseable values are returned as given.
func FormatTimeRange(startAt, endAt string, loc *time.Location) string {
	return formatInstant(startAt, loc) + " - " + formatInstant(endAt, loc)
}

func formatInstant(value string, loc *time.Location) string {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	if loc != nil {
		t = t.In(loc)
	}
	return FormatTime(t)
}

// TimezoneAbbreviation is the first three letters of the last segment of
// an IANA id, uppercased: "America/New_York" is "NEW".
func TimezoneAbbreviation(timezoneID string) string {
	if timezoneID == "" {
		return ""
	}
	last := timezoneID[strings.LastIndex(timezoneID, "/")+1:]
	if len(last) > 3 {
		last = last[:3]
	}
	return strings.ToUpper(last)
}
