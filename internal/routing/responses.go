package routing

import (
	"vyper-compiler-api/internal/jobs"
)

// CompileErrorResponse is returned when a request is rejected before a job
// is created.
type CompileErrorResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

type PendingResponse struct {
	Status string `json:"status"`
}

// CompletionMessage is pushed over the websocket once the job is finished.
type CompletionMessage struct {
	ID      string        `json:"id"`
	State   jobs.State    `json:"state"`
	Status  string        `json:"status"`
	Outcome *jobs.Outcome `json:"outcome"`
}

func newCompletionMessage(record *jobs.Record) *CompletionMessage {
	return &CompletionMessage{
		ID:      record.ID.String(),
		State:   record.State,
		Status:  record.State.Status(),
		Outcome: record.Outcome,
	}
}
