package schema

import (
	"fmt"
	"time"
)

// TaskType classifies how a task is scheduled.
type TaskType string

const (
	TaskTypeScheduled TaskType = "SCHEDULED"
	TaskTypeTimed     TaskType = "TIMED"
	TaskTypeEpisodic  TaskType = "EPISODIC"
)

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "OPEN"
	TaskStatusVisible    TaskStatus = "VISIBLE"
	TaskStatusStarted    TaskStatus = "STARTED"
	TaskStatusInProgress TaskStatus = "INPROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusExpired    TaskStatus = "EXPIRED"
	TaskStatusRecalled   TaskStatus = "RECALLED"
)

// Active reports whether the status marks work the patient has begun or
// finished. Active tasks stay visible regardless of their expiry date.
func (s TaskStatus) Active() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusInProgress, TaskStatusStarted:
		return true
	}
	return false
}

// Task is a scheduled unit of work pointing at an Activity.
// Its business key is pk alone; sk is recorded but not used for matching.
type Task struct {
	Meta

	// ===== Identification =====
	PK             string `json:"pk"`
	SK             string `json:"sk"`
	TaskInstanceID string `json:"taskInstanceId,omitempty"`

	// ===== Content =====
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// ===== Classification =====
	TaskType TaskType   `json:"taskType"`
	Status   TaskStatus `json:"status"`

	// ===== Timing (unix millis) =====
	StartTimeInMillSec  int64  `json:"startTimeInMillSec,omitempty"`
	ExpireTimeInMillSec *int64 `json:"expireTimeInMillSec,omitempty"` // nil means no expiry
	EndTimeInMillSec    *int64 `json:"endTimeInMillSec,omitempty"`

	// ===== Activity reference =====
	EntityID         string `json:"entityId,omitempty"` // Activity pk; empty means no questions
	ActivityIndex    *int   `json:"activityIndex,omitempty"`
	ActivityAnswer   string `json:"activityAnswer,omitempty"`
	ActivityResponse string `json:"activityResponse,omitempty"`

	// ===== Completion rules =====
	ShowBeforeStart      *bool `json:"showBeforeStart,omitempty"`
	AllowEarlyCompletion *bool `json:"allowEarlyCompletion,omitempty"`
	AllowLateCompletion  *bool `json:"allowLateCompletion,omitempty"`
	AllowLateEdits       *bool `json:"allowLateEdits,omitempty"`
}

func (t *Task) ModelName() Model { return ModelTask }

func (t *Task) Keys() (string, string) { return t.PK, t.SK }

// Validate checks the fields required to store a task.
func (t *Task) Validate() error {
	if t.PK == "" {
		return fmt.Errorf("pk is required")
	}
	if t.Title == "" && t.Description == "" {
		return fmt.Errorf("title or description is required")
	}
	switch t.TaskType {
	case "", TaskTypeScheduled, TaskTypeTimed, TaskTypeEpisodic:
	default:
		return fmt.Errorf("invalid task type %q", t.TaskType)
	}
	return nil
}

// ExpireTime returns the expiry as a local time, or false when the task
// never expires.
func (t *Task) ExpireTime(loc *time.Location) (time.Time, bool) {
	if t.ExpireTimeInMillSec == nil || *t.ExpireTimeInMillSec == 0 {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(*t.ExpireTimeInMillSec).In(loc), true
}

// HasActivity reports whether the task references an activity.
func (t *Task) HasActivity() bool {
	return t.EntityID != ""
}
