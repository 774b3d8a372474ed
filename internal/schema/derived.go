package schema

// TaskAnswer is a patient's answer to one question of a task.
type TaskAnswer struct {
	Meta

	PK             string `json:"pk"`
	SK             string `json:"sk"`
	TaskInstanceID string `json:"taskInstanceId,omitempty"`
	ActivityID     string `json:"activityId,omitempty"`
	QuestionID     string `json:"questionId,omitempty"`
	Answer         string `json:"answer,omitempty"`
}

func (a *TaskAnswer) ModelName() Model { return ModelTaskAnswer }

func (a *TaskAnswer) Keys() (string, string) { return a.PK, a.SK }

// TaskResult is the submitted outcome of a whole task.
type TaskResult struct {
	Meta

	PK             string `json:"pk"`
	SK             string `json:"sk"`
	TaskInstanceID string `json:"taskInstanceId,omitempty"`
	Status         string `json:"status,omitempty"`
	Result         string `json:"result,omitempty"`
}

func (r *TaskResult) ModelName() Model { return ModelTaskResult }

func (r *TaskResult) Keys() (string, string) { return r.PK, r.SK }

// TaskHistory records a status transition of a task.
type TaskHistory struct {
	Meta

	PK             string `json:"pk"`
	SK             string `json:"sk"`
	TaskInstanceID string `json:"taskInstanceId,omitempty"`
	Status         string `json:"status,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

func (h *TaskHistory) ModelName() Model { return ModelTaskHistory }

func (h *TaskHistory) Keys() (string, string) { return h.PK, h.SK }

// DataPoint defines a measurable value that answers map onto.
type DataPoint struct {
	Meta

	PK          string `json:"pk"`
	SK          string `json:"sk"`
	DataPointID string `json:"dataPointId,omitempty"`
	Name        string `json:"name,omitempty"`
	ValueType   string `json:"valueType,omitempty"`
}

func (d *DataPoint) ModelName() Model { return ModelDataPoint }

func (d *DataPoint) Keys() (string, string) { return d.PK, d.SK }

// DataPointInstance is one captured value of a DataPoint.
type DataPointInstance struct {
	Meta

	PK          string `json:"pk"`
	SK          string `json:"sk"`
	DataPointID string `json:"dataPointId,omitempty"`
	ActivityID  string `json:"activityId,omitempty"`
	QuestionID  string `json:"questionId,omitempty"`
	Value       string `json:"value,omitempty"`
}

func (d *DataPointInstance) ModelName() Model { return ModelDataPointInstance }

func (d *DataPointInstance) Keys() (string, string) { return d.PK, d.SK }
