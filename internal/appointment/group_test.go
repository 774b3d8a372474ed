package appointment

import (
	"testing"
	"time"

	"github.com/orion/tasksync/internal/schema"
)

func TestGroupByDate(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, loc)

	groups := GroupByDate([]schema.Appointment{
		appt("late", "2026-03-10T20:00:00Z", 0),
		appt("early", "2026-03-10T14:00:00Z", 0),
		// 02:00 UTC on the 11th is still the 10th in EST
		appt("evening", "2026-03-11T02:00:00Z", 0),
		appt("next", "2026-03-11T15:00:00Z", 0),
		appt("later", "2026-03-20T15:00:00Z", 0),
		appt("bad", "", 0),
	}, loc, now)

	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3: %+v", len(groups), groups)
	}

	want := []struct {
		date  string
		label string
		ids   []string
	}{
		{"2026-03-10", "Today", []string{"early", "late", "evening"}},
		{"2026-03-11", "Tomorrow", []string{"next"}},
		{"2026-03-20", "Mar 20, 2026", []string{"later"}},
	}
	for i, w := range want {
		g := groups[i]
		if g.Date != w.date || g.DateLabel != w.label {
			t.Errorf("group %d = %s %q, want %s %q", i, g.Date, g.DateLabel, w.date, w.label)
		}
		if len(g.Appointments) != len(w.ids) {
			t.Errorf("group %d has %d appointments, want %d", i, len(g.Appointments), len(w.ids))
			continue
		}
		for j, id := range w.ids {
			if g.Appointments[j].AppointmentID != id {
				t.Errorf("group %d appointment %d = %s, want %s", i, j, g.Appointments[j].AppointmentID, id)
			}
		}
	}
}

func TestDateLabel(t *testing.T) {
	today := time.Date(2026, 12, 30, 23, 0, 0, 0, time.UTC)
	tests := []struct {
		date time.Time
		want string
	}{
		{time.Date(2026, 12, 30, 0, 0, 0, 0, time.UTC), "Today"},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), "Tomorrow"},
		{time.Date(2027, 1, 1, 9, 0, 0, 0, time.UTC), "Day After Tomorrow"},
		{time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC), "Jan 2, 2027"},
		{time.Date(2026, 12, 12, 0, 0, 0, 0, time.UTC), "Dec 12, 2026"},
	}
	for _, tt := range tests {
		if got := DateLabel(tt.date, today); got != tt.want {
			t.Errorf("DateLabel(%s) = %q, want %q", tt.date.Format(time.DateOnly), got, tt.want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	tests := []struct {
		hour, minute int
		want         string
	}{
		{14, 0, "2:00 p. m."},
		{12, 50, "12:50 p. m."},
		{0, 5, "12:05 a. m."},
		{9, 30, "9:30 a. m."},
	}
	for _, tt := range tests {
		got := FormatTime(time.Date(2026, 1, 1, tt.hour, tt.minute, 0, 0, time.UTC))
		if got != tt.want {
			t.Errorf("FormatTime(%02d:%02d) = %q, want %q", tt.hour, tt.minute, got, tt.want)
		}
	}
}

func TestFormatTimeRange(t *testing.T) {
	got := FormatTimeRange("2026-03-10T14:00:00Z", "2026-03-10T15:30:00Z", time.UTC)
	if want := "2:00 p. m. - 3:30 p. m."; got != want {
		t.Errorf("FormatTimeRange() = %q, want %q", got, want)
	}
	if got := FormatTimeRange("soon", "2026-03-10T15:30:00Z", time.UTC); got != "soon - 3:30 p. m." {
		t.Errorf("FormatTimeRange() with bad start = %q", got)
	}
}

func TestTimezoneAbbreviation(t *testing.T) {
	tests := map[string]string{
		"America/New_York": "NEW",
		"Europe/London":    "LON",
		"UTC":              "UTC",
		"":                 "",
		"Asia/Ho":          "HO",
	}
	for id, want := range tests {
		if got := TimezoneAbbreviation(id); got != want {
			t.Errorf("TimezoneAbbreviation(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestLocation_Fallback(t *testing.T) {
	fallback := time.FixedZone("X", 3600)
	if got := Location("", fallback); got != fallback {
		t.Errorf("Location(\"\") = %v, want fallback", got)
	}
	if got := Location("Not/AZone", fallback); got != fallback {
		t.Errorf("Location(unknown) = %v, want fallback", got)
	}
}
