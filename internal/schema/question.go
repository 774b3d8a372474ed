package schema

import (
	"encoding/json"
	"fmt"
)

// Question is a stored question definition. Its business key is pk.
type Question struct {
	Meta

	PK         string `json:"pk"`
	SK         string `json:"sk,omitempty"`
	QuestionID string `json:"questionId,omitempty"`

	Question        string `json:"question,omitempty"`
	FriendlyName    string `json:"friendlyName,omitempty"`
	ControlType     string `json:"controlType,omitempty"`
	QuestionVersion *int   `json:"version,omitempty"` // content version, not the store _version
	Index           *int   `json:"index,omitempty"`

	// Free-form documents kept verbatim.
	Choices     json.RawMessage `json:"choices,omitempty"`
	Validations json.RawMessage `json:"validations,omitempty"`
	DataMappers json.RawMessage `json:"dataMappers,omitempty"`
}

func (q *Question) ModelName() Model { return ModelQuestion }

func (q *Question) Keys() (string, string) { return q.PK, q.SK }

// Validate checks the fields required to store a question.
func (q *Question) Validate() error {
	if q.PK == "" {
		return fmt.Errorf("pk is required")
	}
	return nil
}
