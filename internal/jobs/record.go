package jobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Record is the stored state of a single compile job, keyed by the id handed
// back to the client on submission.
type Record struct {
	ID    uuid.UUID
	State State
	// Outcome is nil while the job is pending.
	Outcome *Outcome
	// HTTPStatus is the status the artifacts endpoint answers with once the
	// job has finished.
	HTTPStatus int

	CreatedAt   time.Time
	CompletedAt time.Time
}

// NewPendingRecord creates the record stored when a job is accepted.
func NewPendingRecord(id uuid.UUID) *Record {
	return &Record{ID: id, State: Pending, CreatedAt: time.Now().UTC()}
}

func (r *Record) Clone() *Record {
	clone := *r
	clone.Outcome = r.Outcome.Clone()

	return &clone
}

func (r *Record) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", r.ID.String()).
		Str("state", r.State.String()).
		Int("httpStatus", r.HTTPStatus)
}
