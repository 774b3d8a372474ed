// Package grouping buckets tasks into days and times for display.
package grouping

import (
	"sort"
	"time"

	"github.com/orion/tasksync/internal/schema"
)

// TimeGroup is the tasks due at one time of day.
type TimeGroup struct {
	Key   string         `json:"key"`  // 15:04
	Time  string         `json:"time"` // 3:04 PM
	Tasks []*schema.Task `json:"tasks"`
}

// DayGroup is one calendar day of tasks.
type DayGroup struct {
	DayKey           string         `json:"dayKey"`   // YYYY-MM-DD
	DayLabel         string         `json:"dayLabel"` // Today, Tomorrow or "Mon, Jan 2"
	DayDate          string         `json:"dayDate"`  // Mon, Jan 2
	TasksWithoutTime []*schema.Task `json:"tasksWithoutTime"`
	TimeGroups       []TimeGroup    `json:"timeGroups"`
}

// Visible reports whether a task is shown at now. Active tasks always are;
// other tasks are shown until the end of their expiry day.
func Visible(task *schema.Task, now time.Time) bool {
	if task.Status.Active() {
		return true
	}
	expire, ok := task.ExpireTime(now.Location())
	if !ok {
		return true
	}
	return dayKey(expire) >= dayKey(now)
}

// GroupTasks buckets the visible tasks by expiry day in now's location.
//
// Tasks without an expiry go to today's TasksWithoutTime. Active tasks
// whose expiry day has passed are shown under today. Within a day, tasks
// are sub-grouped by exact hour and minute in ascending order. Days are
// sorted ascending, so Today comes first and Tomorrow second.
func GroupTasks(tasks []*schema.Task, now time.Time) []DayGroup {
	today := dayKey(now)
	days := make(map[string]*DayGroup)
	byTime := make(map[string]map[string]*TimeGroup)

	day := func(key string, date time.Time) *DayGroup {
		g, ok := days[key]
		if !ok {
			g = &DayGroup{DayKey: key}
			g.DayLabel, g.DayDate = dayLabel(date, now)
			days[key] = g
			byTime[key] = make(map[string]*TimeGroup)
		}
		return g
	}

	for _, task := range tasks {
		if !Visible(task, now) {
			continue
		}

		expire, ok := task.ExpireTime(now.Location())
		if !ok {
			g := day(today, now)
			g.TasksWithoutTime = append(g.TasksWithoutTime, task)
			continue
		}

		key := dayKey(expire)
		date := expire
		if key < today {
			key, date = today, now
		}
		day(key, date)

		timeKey := expire.Format("15:04")
		tg, ok := byTime[key][timeKey]
		if !ok {
			tg = &TimeGroup{Key: timeKey, Time: expire.Format("3:04 PM")}
			byTime[key][timeKey] = tg
		}
		tg.Tasks = append(tg.Tasks, task)
	}

	groups := make([]DayGroup, 0, len(days))
	for key, g := range days {
		for _, tg := range byTime[key] {
			g.TimeGroups = append(g.TimeGroups, *tg)
		}
		sort.Slice(g.TimeGroups, func(i, j int) bool { return g.TimeGroups[i].Key < g.TimeGroups[j].Key })
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].DayKey < groups[j].DayKey })
	return groups
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

func dayLabel(date, now time.Time) (label, display string) {
	display = date.Format("Mon, Jan 2")
	y, m, d := now.Date()
	switch dayKey(date) {
	case dayKey(now):
		return "Today", display
	case dayKey(time.Date(y, m, d+1, 12, 0, 0, 0, now.Location())):
		return "Tomorrow", display
	}
	return display, display
}
