package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"vyper-compiler-api/internal/jobs"
)

// Execution is the row stored per compile job. The outcome is kept as the
// json payload served to clients.
type Execution struct {
	ID string `gorm:"primaryKey"`

	State      string `gorm:"index"`
	HTTPStatus int    `gorm:"column:http_status"`
	Outcome    []byte

	CreatedAt   time.Time
	CompletedAt *time.Time
}

func (Execution) TableName() string {
	return "compilations"
}

func fromRecord(record *jobs.Record) (*Execution, error) {
	execution := &Execution{
		ID:         record.ID.String(),
		State:      record.State.String(),
		HTTPStatus: record.HTTPStatus,
		CreatedAt:  record.CreatedAt,
	}

	if record.Outcome != nil {
		data, err := encodeOutcome(record.Outcome)

		if err != nil {
			return nil, err
		}

		execution.Outcome = data
	}

	if !record.CompletedAt.IsZero() {
		completedAt := record.CompletedAt
		execution.CompletedAt = &completedAt
	}

	return execution, nil
}

func (e *Execution) toRecord() (*jobs.Record, error) {
	id, err := uuid.Parse(e.ID)

	if err != nil {
		return nil, errors.Wrapf(err, "invalid compilation id %q", e.ID)
	}

	state, err := jobs.ParseState(e.State)

	if err != nil {
		return nil, err
	}

	record := &jobs.Record{
		ID:         id,
		State:      state,
		HTTPStatus: e.HTTPStatus,
		CreatedAt:  e.CreatedAt.UTC(),
	}

	if e.CompletedAt != nil {
		record.CompletedAt = e.CompletedAt.UTC()
	}

	if len(e.Outcome) > 0 {
		var outcome jobs.Outcome

		if err := json.Unmarshal(e.Outcome, &outcome); err != nil {
			return nil, errors.Wrapf(err, "failed to decode outcome of compilation %s", e.ID)
		}

		record.Outcome = &outcome
	}

	return record, nil
}

func encodeOutcome(outcome *jobs.Outcome) ([]byte, error) {
	data, err := json.Marshal(outcome)
	return data, errors.Wrap(err, "failed to encode outcome")
}
