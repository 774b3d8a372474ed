package fixture

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/orion/tasksync/internal/schema"
)

const (
	allTypesActivityPK  = "ACTIVITY-ALL-TYPES-FIXTURE-1"
	allTypesActivitySK  = "SK-ACTIVITY-ALL-TYPES-FIXTURE-1"
	multiPageActivityPK = "ACTIVITY-MULTI-PAGE-FIXTURE-1"
	multiPageActivitySK = "SK-ACTIVITY-MULTI-PAGE-FIXTURE-1"

	fixtureTimezone = "America/New_York"
)

// GenerateOptions controls Generate.
type GenerateOptions struct {
	// FixtureID labels the fixture and its descriptions
	FixtureID string

	// BaseDate is any time on the day to generate; its location is used
	// for the local task and appointment times
	BaseDate time.Time

	// AllTypesHour is the local hour of the first task (default 8)
	AllTypesHour int

	// TaskCount is the number of tasks, at least 1 (0 means 10)
	TaskCount int

	// AppointmentCount is the number of appointments (0 means 2, negative
	// means none)
	AppointmentCount int
}

// DefaultGenerateOptions returns the standard one-day fixture for today.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		FixtureID:        "fixture-1",
		BaseDate:         time.Now(),
		AllTypesHour:     8,
		TaskCount:        10,
		AppointmentCount: 2,
	}
}

type generatedQuestion struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Text         string            `json:"text"`
	FriendlyName string            `json:"friendlyName"`
	Required     bool              `json:"required"`
	Choices      []generatedChoice `json:"choices,omitempty"`
}

type generatedChoice struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Text  string `json:"text"`
	Value string `json:"value"`
}

var allTypesQuestions = []generatedQuestion{
	{ID: "q_text", Type: "textField", Text: "What is your name?", FriendlyName: "Name", Required: true},
	{ID: "q_single", Type: "singleSelect", Text: "Pick one option", FriendlyName: "Single Select", Required: true,
		Choices: []generatedChoice{
			{ID: "c1", Order: 1, Text: "Option A", Value: "A"},
			{ID: "c2", Order: 2, Text: "Option B", Value: "B"},
		}},
	{ID: "q_multi", Type: "multiSelect", Text: "Pick multiple options", FriendlyName: "Multi Select",
		Choices: []generatedChoice{
			{ID: "m1", Order: 1, Text: "Red", Value: "red"},
			{ID: "m2", Order: 2, Text: "Blue", Value: "blue"},
			{ID: "m3", Order: 3, Text: "Green", Value: "green"},
		}},
	{ID: "q_number", Type: "numberField", Text: "Enter a number", FriendlyName: "Number"},
	{ID: "q_date", Type: "dateField", Text: "Select a date", FriendlyName: "Date"},
	{ID: "q_bp", Type: "bloodPressure", Text: "Blood pressure", FriendlyName: "Blood Pressure"},
	{ID: "q_temp", Type: "temperature", Text: "Temperature", FriendlyName: "Temperature"},
	{ID: "q_pulse", Type: "pulse", Text: "Pulse", FriendlyName: "Pulse"},
	{ID: "q_weight_height", Type: "weightHeight", Text: "Weight & Height", FriendlyName: "Weight & Height"},
	{ID: "q_vas", Type: "horizontalVAS", Text: "Pain level", FriendlyName: "Pain"},
	{ID: "q_image", Type: "imageCapture", Text: "Capture an image", FriendlyName: "Image"},
}

var multiPageQuestions = []generatedQuestion{
	{ID: "mp_q1", Type: "textField", Text: "Multi-page: enter some text", FriendlyName: "Multi Text", Required: true},
	{ID: "mp_q2", Type: "numberField", Text: "Multi-page: enter a number", FriendlyName: "Multi Number"},
	{ID: "mp_q3", Type: "dateField", Text: "Multi-page: pick a date", FriendlyName: "Multi Date"},
}

type generatedLayout struct {
	Type    string            `json:"type"`
	Screens []generatedScreen `json:"screens"`
}

type generatedScreen struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Order    int                `json:"order"`
	Elements []generatedElement `json:"elements"`
}

type generatedElement struct {
	ID                string                     `json:"id"`
	Order             int                        `json:"order"`
	DisplayProperties []generatedDisplayProperty `json:"displayProperties"`
}

type generatedDisplayProperty struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func fullWidth(id string, order int) generatedElement {
	return generatedElement{
		ID:                id,
		Order:             order,
		DisplayProperties: []generatedDisplayProperty{{Key: "width", Value: `"100%"`}},
	}
}

// Generate builds a deterministic v1 fixture: an activity with every
// question type on one screen, a three-screen activity, their questions,
// TaskCount tasks through the day and AppointmentCount appointments.
func Generate(opts GenerateOptions) (*Fixture, error) {
	defaults := DefaultGenerateOptions()
	if opts.FixtureID == "" {
		opts.FixtureID = defaults.FixtureID
	}
	if opts.BaseDate.IsZero() {
		opts.BaseDate = defaults.BaseDate
	}
	if opts.AllTypesHour == 0 {
		opts.AllTypesHour = defaults.AllTypesHour
	}
	if opts.TaskCount == 0 {
		opts.TaskCount = defaults.TaskCount
	}
	if opts.TaskCount < 1 {
		opts.TaskCount = 1
	}
	if opts.AppointmentCount == 0 {
		opts.AppointmentCount = defaults.AppointmentCount
	}
	if opts.AppointmentCount < 0 {
		opts.AppointmentCount = 0
	}

	loc := opts.BaseDate.Location()
	y, m, d := opts.BaseDate.Date()
	at := func(hour, minute int) time.Time {
		return time.Date(y, m, d, hour, minute, 0, 0, loc)
	}

	activities, err := generateActivities(opts.FixtureID)
	if err != nil {
		return nil, err
	}

	questions, err := generateQuestions()
	if err != nil {
		return nil, err
	}

	fx := &Fixture{
		Version:    SupportedVersion,
		FixtureID:  opts.FixtureID,
		Activities: activities,
		Questions:  questions,
		Tasks:      generateTasks(opts, at),
	}
	if opts.AppointmentCount > 0 {
		fx.Appointments = generateAppointments(opts, at)
	}
	return fx, nil
}

func generateActivities(fixtureID string) ([]Entry[schema.Activity], error) {
	allTypesElements := make([]generatedElement, len(allTypesQuestions))
	for i, q := range allTypesQuestions {
		allTypesElements[i] = fullWidth(q.ID, i+1)
	}
	allTypesLayouts := []generatedLayout{{
		Type:    "MOBILE",
		Screens: []generatedScreen{{ID: "screen-1", Name: "All Types", Order: 0, Elements: allTypesElements}},
	}}

	multiPageScreens := make([]generatedScreen, len(multiPageQuestions))
	for i, q := range multiPageQuestions {
		multiPageScreens[i] = generatedScreen{
			ID:       fmt.Sprintf("mp-screen-%d", i+1),
			Name:     fmt.Sprintf("Step %d", i+1),
			Order:    i,
			Elements: []generatedElement{fullWidth(q.ID, 1)},
		}
	}
	multiPageLayouts := []generatedLayout{{Type: "MOBILE", Screens: multiPageScreens}}

	type groups []map[string]any
	specs := []struct {
		pk, sk, name, title, description string
		groups                           groups
		layouts                          []generatedLayout
	}{
		{
			pk: allTypesActivityPK, sk: allTypesActivitySK,
			name: "All Question Types", title: "All Question Types Test",
			description: fmt.Sprintf("Fixture activity (%s) with many question types on one screen", fixtureID),
			groups:      groups{{"id": "group-1", "questions": allTypesQuestions}},
			layouts:     allTypesLayouts,
		},
		{
			pk: multiPageActivityPK, sk: multiPageActivitySK,
			name: "Multi Page (3 screens)", title: "Multi Page Test",
			description: fmt.Sprintf("Fixture activity (%s) with 3 screens (1 question per screen)", fixtureID),
			groups:      groups{{"id": "group-1", "questions": multiPageQuestions}},
			layouts:     multiPageLayouts,
		},
	}

	entries := make([]Entry[schema.Activity], 0, len(specs))
	for _, s := range specs {
		groupsJSON, err := json.Marshal(s.groups)
		if err != nil {
			return nil, fmt.Errorf("failed to encode activity groups: %w", err)
		}
		layoutsJSON, err := json.Marshal(s.layouts)
		if err != nil {
			return nil, fmt.Errorf("failed to encode layouts: %w", err)
		}
		entries = append(entries, NewEntry(schema.Activity{
			PK:             s.pk,
			SK:             s.sk,
			Name:           s.name,
			Title:          s.title,
			Description:    s.description,
			Type:           "SURVEY",
			ActivityGroups: string(groupsJSON),
			Layouts:        string(layoutsJSON),
			Resumable:      boolPtr(true),
			ProgressBar:    boolPtr(true),
		}))
	}
	return entries, nil
}

func generateQuestions() ([]Entry[schema.Question], error) {
	var entries []Entry[schema.Question]
	add := func(activityPK string, qs []generatedQuestion) error {
		for i, q := range qs {
			var choices json.RawMessage
			if len(q.Choices) > 0 {
				raw, err := json.Marshal(q.Choices)
				if err != nil {
					return fmt.Errorf("failed to encode choices for %s: %w", q.ID, err)
				}
				choices = raw
			}
			entries = append(entries, NewEntry(schema.Question{
				PK:              "QUESTION-" + q.ID,
				SK:              "SK-" + activityPK,
				QuestionID:      q.ID,
				Question:        q.Text,
				FriendlyName:    q.FriendlyName,
				ControlType:     q.Type,
				QuestionVersion: intPtr(1),
				Index:           intPtr(i),
				Choices:         choices,
			}))
		}
		return nil
	}
	if err := add(allTypesActivityPK, allTypesQuestions); err != nil {
		return nil, err
	}
	if err := add(multiPageActivityPK, multiPageQuestions); err != nil {
		return nil, err
	}
	return entries, nil
}

var taskTypes = []schema.TaskType{schema.TaskTypeScheduled, schema.TaskTypeTimed, schema.TaskTypeEpisodic}

func generateTasks(opts GenerateOptions, at func(hour, minute int) time.Time) []Entry[schema.Task] {
	entries := make([]Entry[schema.Task], 0, opts.TaskCount)
	for i := 0; i < opts.TaskCount; i++ {
		hour := opts.AllTypesHour + i
		task := schema.Task{
			TaskType:             taskTypes[i%len(taskTypes)],
			Status:               schema.TaskStatusOpen,
			StartTimeInMillSec:   at(hour, 0).UnixMilli(),
			ExpireTimeInMillSec:  int64Ptr(at(hour, 30).UnixMilli()),
			ShowBeforeStart:      boolPtr(true),
			AllowEarlyCompletion: boolPtr(true),
			AllowLateCompletion:  boolPtr(true),
			AllowLateEdits:       boolPtr(false),
		}

		switch i {
		case 0:
			task.PK = "TASK-ALL-TYPES-FIXTURE-1"
			task.SK = "SK-TASK-ALL-TYPES-FIXTURE-1"
			task.Title = "All Question Types Test (Fixture)"
			task.Description = "Loaded from disk fixture: references the All Question Types activity"
			task.TaskType = schema.TaskTypeScheduled
			task.EntityID = allTypesActivityPK
			task.ActivityIndex = intPtr(0)
		case 1:
			task.PK = "TASK-MULTI-PAGE-FIXTURE-1"
			task.SK = "SK-TASK-MULTI-PAGE-FIXTURE-1"
			task.Title = "Multi Page (3 screens) Test (Fixture)"
			task.Description = "Loaded from disk fixture: references the Multi Page activity (3 screens, 1 question each)"
			task.TaskType = schema.TaskTypeScheduled
			task.EntityID = multiPageActivityPK
			task.ActivityIndex = intPtr(1)
		default:
			n := i + 1
			task.PK = fmt.Sprintf("TASK-FIXTURE-%d", n)
			task.SK = fmt.Sprintf("SK-TASK-FIXTURE-%d", n)
			task.Title = fmt.Sprintf("Sample Task %d (Fixture)", n)
			task.Description = fmt.Sprintf("Loaded from disk fixture (%s): sample task #%d", opts.FixtureID, n)
			if i%2 == 1 {
				task.EntityID = multiPageActivityPK
				task.ActivityIndex = intPtr(1)
			} else {
				task.EntityID = allTypesActivityPK
				task.ActivityIndex = intPtr(0)
			}
		}
		entries = append(entries, NewEntry(task))
	}
	return entries
}

func generateAppointments(opts GenerateOptions, at func(hour, minute int) time.Time) *schema.AppointmentData {
	stamp := at(0, 0).UTC().Format(time.RFC3339)
	items := make([]schema.Appointment, 0, opts.AppointmentCount)
	for i := 0; i < opts.AppointmentCount; i++ {
		n := i + 1
		appt := schema.Appointment{
			AppointmentID: fmt.Sprintf("Appointment.FIXTURE-%d", n),
			EventID:       fmt.Sprintf("Event.FIXTURE-%d", n),
			PatientID:     "Patient.FIXTURE-1",
			SiteID:        "Site.FIXTURE-1",
			Description:   fmt.Sprintf("Loaded from disk fixture (%s)", opts.FixtureID),
			Status:        schema.AppointmentScheduled,
			StartAt:       at(9+i, 0).UTC().Format(time.RFC3339),
			EndAt:         at(9+i, 30).UTC().Format(time.RFC3339),
			Instructions:  "Fixture appointment - safe to delete",
			Data:          "{}",
			Version:       1,
			CreatedAt:     stamp,
			UpdatedAt:     stamp,
			TypeName:      "SubjectStudyInstanceAppointment",
		}
		if i%2 == 0 {
			meeting := fmt.Sprintf("meeting-%d", n)
			appt.TelehealthMeetingID = &meeting
			appt.AppointmentType = schema.AppointmentTelevisit
			appt.Title = fmt.Sprintf("Telehealth Visit %d (Fixture)", n)
		} else {
			appt.AppointmentType = schema.AppointmentOnsite
			appt.Title = fmt.Sprintf("Onsite Visit %d (Fixture)", n)
		}
		items = append(items, appt)
	}
	return schema.NewAppointmentData(items, fixtureTimezone)
}

func boolPtr(b bool) *bool    { return &b }
func intPtr(i int) *int       { return &i }
func int64Ptr(i int64) *int64 { return &i }
