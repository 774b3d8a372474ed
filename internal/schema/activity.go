package schema

import "fmt"

// Activity is a questionnaire definition. Its business key is (pk, sk).
//
// ActivityGroups and Layouts are JSON documents stored as strings; the
// activity package decodes them.
type Activity struct {
	Meta

	PK string `json:"pk"`
	SK string `json:"sk"`

	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`

	ActivityGroups string `json:"activityGroups,omitempty"`
	Layouts        string `json:"layouts,omitempty"`

	Resumable   *bool `json:"resumable,omitempty"`
	ProgressBar *bool `json:"progressBar,omitempty"`
}

func (a *Activity) ModelName() Model { return ModelActivity }

func (a *Activity) Keys() (string, string) { return a.PK, a.SK }

// Validate checks the fields required to store an activity.
func (a *Activity) Validate() error {
	if a.PK == "" || a.SK == "" {
		return fmt.Errorf("pk and sk are required")
	}
	if a.Name == "" && a.Title == "" {
		return fmt.Errorf("name or title is required")
	}
	return nil
}

// DisplayName prefers the title and falls back to the name.
func (a *Activity) DisplayName() string {
	if a.Title != "" {
		return a.Title
	}
	return a.Name
}
