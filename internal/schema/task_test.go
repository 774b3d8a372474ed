package schema

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid task",
			task:    Task{PK: "TASK-1", Title: "Morning survey", TaskType: TaskTypeScheduled},
			wantErr: false,
		},
		{
			name:    "description only",
			task:    Task{PK: "TASK-1", Description: "no title"},
			wantErr: false,
		},
		{
			name:    "missing pk",
			task:    Task{Title: "Morning survey"},
			wantErr: true,
			errMsg:  "pk is required",
		},
		{
			name:    "missing title and description",
			task:    Task{PK: "TASK-1"},
			wantErr: true,
			errMsg:  "title or description is required",
		},
		{
			name:    "bad task type",
			task:    Task{PK: "TASK-1", Title: "x", TaskType: "WEEKLY"},
			wantErr: true,
			errMsg:  `invalid task type "WEEKLY"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err.Error() != tt.errMsg {
				t.Errorf("Validate() error = %q, want %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestTaskStatus_Active(t *testing.T) {
	active := map[TaskStatus]bool{
		TaskStatusOpen:       false,
		TaskStatusVisible:    false,
		TaskStatusStarted:    true,
		TaskStatusInProgress: true,
		TaskStatusCompleted:  true,
		TaskStatusExpired:    false,
		TaskStatusRecalled:   false,
	}
	for status, want := range active {
		if got := status.Active(); got != want {
			t.Errorf("%s.Active() = %v, want %v", status, got, want)
		}
	}
}

func TestTask_ExpireTime(t *testing.T) {
	task := Task{PK: "TASK-1", Title: "x"}
	if _, ok := task.ExpireTime(time.UTC); ok {
		t.Error("task without expiry reported an expire time")
	}

	ms := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC).UnixMilli()
	task.ExpireTimeInMillSec = &ms
	got, ok := task.ExpireTime(time.UTC)
	if !ok {
		t.Fatal("ExpireTime() reported no expiry")
	}
	if got.Hour() != 14 || got.Minute() != 30 {
		t.Errorf("ExpireTime() = %v, want 14:30", got)
	}
}

func TestTask_JSONFieldNames(t *testing.T) {
	ms := int64(1700000000000)
	idx := 1
	task := Task{
		Meta:                Meta{ID: "abc", Version: 3, LastChangedAt: 42},
		PK:                  "TASK-1",
		SK:                  "SK-TASK-1",
		Title:               "x",
		TaskType:            TaskTypeTimed,
		Status:              TaskStatusOpen,
		ExpireTimeInMillSec: &ms,
		ActivityIndex:       &idx,
	}

	data, err := json.Marshal(&task)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"id", "_version", "_lastChangedAt", "pk", "sk", "taskType", "status", "expireTimeInMillSec", "activityIndex"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("expected key %q in %s", key, data)
		}
	}
	if _, ok := fields["_deleted"]; ok {
		t.Errorf("_deleted should be omitted when false: %s", data)
	}
}

func TestParseModel(t *testing.T) {
	for _, m := range AllModels() {
		got, err := ParseModel(string(m))
		if err != nil {
			t.Fatalf("ParseModel(%q) failed: %v", m, err)
		}
		if got != m {
			t.Errorf("ParseModel(%q) = %q", m, got)
		}
	}
	if _, err := ParseModel("task"); err == nil {
		t.Error("ParseModel should be case-sensitive")
	}
	if !ModelDataPoint.IsDerived() || ModelTask.IsDerived() {
		t.Error("IsDerived misclassified models")
	}
}
