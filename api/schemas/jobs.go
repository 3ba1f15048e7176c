package schemas

import (
	"bytes"
	"encoding/json"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// JobHandle is the opaque reference returned by a successful submission.
type JobHandle struct {
	TaskID string `json:"task_id"`
}

// IsZero reports whether the handle carries no task id.
func (h JobHandle) IsZero() bool { return h.TaskID == "" }

// JobStatus is the backend's status string for a job.
type JobStatus string

const (
	StatusSuccess JobStatus = "SUCCESS"
	StatusFailure JobStatus = "FAILURE"
)

// IsTerminal reports whether no further polling is needed. Anything other than
// the two sentinels, including an absent status, counts as pending.
func (s JobStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Snapshot is one status response from a polling endpoint.
type Snapshot struct {
	TaskID string    `json:"task_id,omitempty"`
	Status JobStatus `json:"status,omitempty"`
	// State is the worker queue state reported while the job has no stored status.
	State  string          `json:"state,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Terminal reports whether the snapshot ends the poll loop.
func (s Snapshot) Terminal() bool { return s.Status.IsTerminal() }

// HasResult reports whether the snapshot carries a non-null result payload.
func (s Snapshot) HasResult() bool {
	trimmed := bytes.TrimSpace(s.Result)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// FailureReason extracts the backend's error text, looking first at the
// top-level error and then at result.error.
func (s Snapshot) FailureReason() string {
	if msg := rawText(s.Error); msg != "" {
		return msg
	}
	if s.HasResult() {
		var nested struct {
			Error json.RawMessage `json:"error"`
		}
		if err := jsonAPI.Unmarshal(s.Result, &nested); err == nil {
			if msg := rawText(nested.Error); msg != "" {
				return msg
			}
		}
	}
	return "Unknown error"
}

// rawText renders a JSON value as display text: strings unquoted, other
// values as their compact JSON.
func rawText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := jsonAPI.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(trimmed)
}
