package asyncqueue

import "encoding/json"

// Status is the outcome reported in a progress event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Change is the progress event emitted once per settled task, in
// completion order.
type Change[T any] struct {
	Index  int
	Status Status
	Value  T
	Err    error

	// Progress is settled/Total at the time of the event.
	Progress float64
	// Total is the task-list length at the time of the event.
	Total int
}

// Data returns the task's value, or its error when Status is StatusError.
func (c Change[T]) Data() any {
	if c.Status == StatusError {
		return c.Err
	}
	return c.Value
}

// MarshalJSON renders the listener wire format:
//
//	{"index":0,"status":"success","data":1,"progress":0.5,"total":2}
//
// Errors are rendered as their message.
func (c Change[T]) MarshalJSON() ([]byte, error) {
	var data any = c.Value
	if c.Status == StatusError && c.Err != nil {
		data = c.Err.Error()
	}
	return json.Marshal(struct {
		Index    int     `json:"index"`
		Status   Status  `json:"status"`
		Data     any     `json:"data"`
		Progress float64 `json:"progress"`
		Total    int     `json:"total"`
	}{c.Index, c.Status, data, c.Progress, c.Total})
}
