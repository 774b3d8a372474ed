package schema

import "fmt"

// Model names the stored record types.
type Model string

const (
	ModelActivity          Model = "Activity"
	ModelQuestion          Model = "Question"
	ModelTask              Model = "Task"
	ModelTaskAnswer        Model = "TaskAnswer"
	ModelTaskResult        Model = "TaskResult"
	ModelTaskHistory       Model = "TaskHistory"
	ModelDataPoint         Model = "DataPoint"
	ModelDataPointInstance Model = "DataPointInstance"
)

// CoreModels are the seed models a fixture owns.
var CoreModels = []Model{ModelActivity, ModelQuestion, ModelTask}

// DerivedModels hold submitted data and are never pruned by default.
var DerivedModels = []Model{
	ModelTaskAnswer,
	ModelTaskResult,
	ModelTaskHistory,
	ModelDataPointInstance,
	ModelDataPoint,
}

// AllModels lists every stored model in fixture processing order followed
// by the derived models.
func AllModels() []Model {
	all := make([]Model, 0, len(CoreModels)+len(DerivedModels))
	all = append(all, CoreModels...)
	return append(all, DerivedModels...)
}

// IsDerived reports whether m is a derived model.
func (m Model) IsDerived() bool {
	for _, d := range DerivedModels {
		if d == m {
			return true
		}
	}
	return false
}

// ParseModel resolves a model name, case-sensitively.
func ParseModel(name string) (Model, error) {
	for _, m := range AllModels() {
		if string(m) == name {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown model %q", name)
}

// Meta is the store-managed metadata embedded in every record.
type Meta struct {
	ID            string `json:"id,omitempty"`
	Version       int64  `json:"_version,omitempty"`
	LastChangedAt int64  `json:"_lastChangedAt,omitempty"` // unix millis
	Deleted       bool   `json:"_deleted,omitempty"`
}

// Metadata returns the embedded metadata so the store can stamp it.
func (m *Meta) Metadata() *Meta {
	return m
}

// Entity is implemented by every stored record type.
type Entity interface {
	ModelName() Model
	Metadata() *Meta
	Keys() (pk, sk string)
}
