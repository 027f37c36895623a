//go:generate mockgen -destination=mocks/compiler.go -package=mocks vyper-compiler-api/internal/compiler Compiler

package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Output is a single kind of artifact the compiler can be asked to produce.
type Output string

const (
	OutputABI               Output = "abi"
	OutputBytecode          Output = "bytecode"
	OutputBytecodeRuntime   Output = "bytecode_runtime"
	OutputIR                Output = "ir"
	OutputMethodIdentifiers Output = "method_identifiers"
)

// DefaultOutputs are requested for every compile job.
var DefaultOutputs = []Output{
	OutputABI,
	OutputBytecode,
	OutputBytecodeRuntime,
	OutputIR,
	OutputMethodIdentifiers,
}

type Request struct {
	// Sources maps the name of each source unit (e.g. token.vy) to its
	// content. Every unit is handed to the compiler so units can import each
	// other.
	Sources map[string]string
	// Outputs are the artifact kinds wanted, DefaultOutputs when empty.
	Outputs []Output
	// Entrypoint names the unit whose artifacts are reported at the top level
	// of the outcome. See Primary.
	Entrypoint string
}

// Primary returns the entrypoint unit, falling back to the lexicographically
// smallest unit name so the choice never depends on map iteration order.
func (r *Request) Primary() string {
	if r.Entrypoint != "" {
		return r.Entrypoint
	}

	names := r.Names()

	if len(names) == 0 {
		return ""
	}

	return names[0]
}

// Names returns the sorted source unit names.
func (r *Request) Names() []string {
	names := make([]string, 0, len(r.Sources))

	for name := range r.Sources {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

func (r *Request) outputs() []Output {
	if len(r.Outputs) == 0 {
		return DefaultOutputs
	}

	return r.Outputs
}

func (r *Request) MarshalZerologObject(e *zerolog.Event) {
	e.Strs("sources", r.Names()).
		Str("entrypoint", r.Primary())
}

// Artifacts are the compiled outputs for a single source unit.
type Artifacts struct {
	ABI               json.RawMessage   `json:"abi"`
	Bytecode          string            `json:"bytecode"`
	BytecodeRuntime   string            `json:"bytecode_runtime"`
	IR                string            `json:"ir"`
	MethodIdentifiers map[string]string `json:"method_identifiers"`
}

// Bundle is a successful compilation, keyed by source unit name.
type Bundle struct {
	Contracts map[string]*Artifacts
}

// Compiler is the boundary to the external compilation engine. Compile is
// blocking and CPU bound, callers are expected to offload it.
//
// Compile returns a *Error when the compiler rejected the source. Any other
// error is an internal fault of the compiler or its environment.
type Compiler interface {
	Compile(ctx context.Context, request *Request) (*Bundle, error)
	Version(ctx context.Context) (string, error)
}

// Error is a compiler reported failure, e.g. a syntax or type error in the
// submitted source. Line and Column are either both set or both nil.
type Error struct {
	Type    string
	Message string
	Line    *int
	Column  *int
}

// NewError builds a compiler error, dropping a source position which is only
// partially known.
func NewError(kind string, message string, line *int, column *int) *Error {
	if line == nil || column == nil {
		line, column = nil, nil
	}

	return &Error{Type: kind, Message: message, Line: line, Column: column}
}

func (e *Error) Error() string {
	if e.Line != nil {
		return fmt.Sprintf("%s (line %d, column %d)", e.Message, *e.Line, *e.Column)
	}

	return e.Message
}

// versionCache holds the compiler version after the first successful lookup,
// failed lookups are retried on the next call.
type versionCache struct {
	mu      sync.Mutex
	version string
}

func (v *versionCache) get(lookup func() (string, error)) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.version != "" {
		return v.version, nil
	}

	version, err := lookup()

	if err != nil {
		return "", err
	}

	v.version = version
	return version, nil
}
