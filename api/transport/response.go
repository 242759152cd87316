package transport

import (
	"github.com/bytedance/sonic"

	"github.com/fastygo/donote/domain"
)

// Envelope is the standard API response wrapper used for both success and error payloads.
type Envelope struct {
	Status string      `json:"status"`
	Code   string      `json:"code,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  interface{} `json:"error,omitempty"`
	Meta   interface{} `json:"meta,omitempty"`
}

// ErrorBody is the error payload. Fields is set for validation failures.
type ErrorBody struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// NewSuccess returns a success envelope.
func NewSuccess(data interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "success",
		Data:   data,
		Meta:   meta,
	}
}

// NewError returns an error envelope with optional metadata.
func NewError(code string, err interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "error",
		Code:   code,
		Error:  err,
		Meta:   meta,
	}
}

// String returns the JSON representation (best-effort) for logging purposes.
func (e Envelope) String() string {
	out, err := sonic.MarshalString(e)
	if err != nil {
		return "{}"
	}
	return out
}

// Accepted acknowledges a write whose effect shows up in the next snapshot.
type Accepted struct {
	ID string `json:"id,omitempty"`
}

// TaskView is a task as listed by the API.
type TaskView struct {
	domain.Task
	Overdue bool `json:"overdue"`
}

type ListMeta struct {
	View  string `json:"view,omitempty"`
	Count int    `json:"count"`
}

type MeResponse struct {
	Identity  domain.Identity      `json:"identity"`
	Streak    int                  `json:"streak"`
	Aggregate domain.UserAggregate `json:"aggregate"`
}

type PermissionResponse struct {
	Granted bool `json:"granted"`
}
