package jobs

import (
	"encoding/json"

	"github.com/pkg/errors"

	"vyper-compiler-api/internal/compiler"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Outcome is the result of a finished compile job as served to clients. A
// successful outcome carries the artifacts of the entrypoint unit at the top
// level and, when more than one unit was compiled, every unit under
// Contracts. A failed outcome carries the message and optionally the position
// the compiler reported.
type Outcome struct {
	Status string `json:"status"`

	*compiler.Artifacts
	Contracts map[string]*compiler.Artifacts `json:"contracts,omitempty"`

	Message string `json:"message,omitempty"`
	Line    *int   `json:"line,omitempty"`
	Column  *int   `json:"column,omitempty"`
}

// NewSuccess builds the outcome of a successful compilation, promoting the
// artifacts of primary to the top level.
func NewSuccess(bundle *compiler.Bundle, primary string) (*Outcome, error) {
	if bundle == nil {
		return nil, errors.New("compiler produced no bundle")
	}

	artifacts, ok := bundle.Contracts[primary]

	if !ok || artifacts == nil {
		return nil, errors.Errorf("compiler produced no artifacts for %s", primary)
	}

	outcome := &Outcome{Status: StatusSuccess, Artifacts: artifacts}

	if len(bundle.Contracts) > 1 {
		outcome.Contracts = bundle.Contracts
	}

	return outcome, nil
}

// NewFailure builds a failed outcome. The position is kept only when both the
// line and the column are known.
func NewFailure(message string, line *int, column *int) *Outcome {
	if line == nil || column == nil {
		line, column = nil, nil
	}

	return &Outcome{Status: StatusFailed, Message: message, Line: line, Column: column}
}

func (o *Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// State is the terminal job state the outcome leads to.
func (o *Outcome) State() State {
	if o.Succeeded() {
		return Succeeded
	}

	return Failed
}

// Clone returns a deep copy, so stored outcomes cannot be changed through the
// values handed to callers.
func (o *Outcome) Clone() *Outcome {
	if o == nil {
		return nil
	}

	clone := *o
	clone.Artifacts = cloneArtifacts(o.Artifacts)
	clone.Line = cloneInt(o.Line)
	clone.Column = cloneInt(o.Column)

	if o.Contracts != nil {
		clone.Contracts = make(map[string]*compiler.Artifacts, len(o.Contracts))

		for name, artifacts := range o.Contracts {
			clone.Contracts[name] = cloneArtifacts(artifacts)
		}
	}

	return &clone
}

func cloneArtifacts(artifacts *compiler.Artifacts) *compiler.Artifacts {
	if artifacts == nil {
		return nil
	}

	clone := *artifacts
	clone.ABI = append(json.RawMessage(nil), artifacts.ABI...)

	if artifacts.MethodIdentifiers != nil {
		clone.MethodIdentifiers = make(map[string]string, len(artifacts.MethodIdentifiers))

		for signature, selector := range artifacts.MethodIdentifiers {
			clone.MethodIdentifiers[signature] = selector
		}
	}

	return &clone
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}

	v := *value
	return &v
}
