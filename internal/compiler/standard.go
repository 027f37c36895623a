package compiler

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// The local and docker compilers both drive vyper through its standard JSON
// interface (vyper-json), which accepts every source unit at once and reports
// errors as structured data with source locations.

var outputSelectors = map[Output]string{
	OutputABI:               "abi",
	OutputBytecode:          "evm.bytecode.object",
	OutputBytecodeRuntime:   "evm.deployedBytecode.object",
	OutputIR:                "ir",
	OutputMethodIdentifiers: "evm.methodIdentifiers",
}

type standardInput struct {
	Language string                    `json:"language"`
	Sources  map[string]standardSource `json:"sources"`
	Settings standardSettings          `json:"settings"`
}

type standardSource struct {
	Content string `json:"content"`
}

type standardSettings struct {
	OutputSelection map[string][]string `json:"outputSelection"`
}

type standardOutput struct {
	Compiler  string                                   `json:"compiler"`
	Contracts map[string]map[string]*standardContract `json:"contracts"`
	Errors    []standardError                          `json:"errors"`
}

type standardContract struct {
	ABI json.RawMessage `json:"abi"`
	IR  json.RawMessage `json:"ir"`
	EVM struct {
		Bytecode struct {
			Object string `json:"object"`
		} `json:"bytecode"`
		DeployedBytecode struct {
			Object string `json:"object"`
		} `json:"deployedBytecode"`
		MethodIdentifiers map[string]string `json:"methodIdentifiers"`
	} `json:"evm"`
}

type standardError struct {
	Type             string          `json:"type"`
	Component        string          `json:"component"`
	Severity         string          `json:"severity"`
	Message          string          `json:"message"`
	FormattedMessage string          `json:"formattedMessage"`
	SourceLocation   *sourceLocation `json:"sourceLocation"`
}

type sourceLocation struct {
	File   string `json:"file"`
	Line   *int   `json:"lineno"`
	Column *int   `json:"col_offset"`
}

// annotationPosition matches the position vyper prints for the first
// annotation of an exception, e.g. `contract "a.vy:1", line 1:5`.
var annotationPosition = regexp.MustCompile(`line (\d+):(\d+)`)

func encodeStandardInput(request *Request) ([]byte, error) {
	selection := make([]string, 0, len(request.outputs()))

	for _, output := range request.outputs() {
		selector, ok := outputSelectors[output]

		if !ok {
			return nil, errors.Errorf("unsupported output %q", output)
		}

		selection = append(selection, selector)
	}

	input := standardInput{
		Language: "Vyper",
		Sources:  make(map[string]standardSource, len(request.Sources)),
		Settings: standardSettings{OutputSelection: map[string][]string{}},
	}

	for name, content := range request.Sources {
		input.Sources[name] = standardSource{Content: content}
		input.Settings.OutputSelection[name] = selection
	}

	data, err := json.Marshal(input)
	return data, errors.Wrap(err, "failed to encode standard json input")
}

func decodeStandardOutput(data []byte) (*Bundle, error) {
	var output standardOutput

	if err := json.Unmarshal(data, &output); err != nil {
		return nil, errors.Wrap(err, "failed to decode standard json output")
	}

	for i := range output.Errors {
		stdErr := output.Errors[i]

		if stdErr.Severity != "" && stdErr.Severity != "error" {
			continue
		}

		// json component errors mean the input we generated was rejected,
		// which is not something the submitter can fix.
		if stdErr.Component == "json" {
			return nil, errors.Errorf("compiler rejected standard json input: %s", stdErr.Message)
		}

		return nil, stdErr.toError()
	}

	bundle := &Bundle{Contracts: map[string]*Artifacts{}}

	for unit, contracts := range output.Contracts {
		for _, contract := range contracts {
			bundle.Contracts[unit] = contract.toArtifacts()
			break
		}
	}

	if len(bundle.Contracts) == 0 {
		return nil, errors.New("compiler returned neither contracts nor errors")
	}

	return bundle, nil
}

func (s *standardError) toError() *Error {
	message := s.FormattedMessage

	if message == "" {
		message = s.Message
	}

	var line, column *int

	if s.SourceLocation != nil {
		line, column = s.SourceLocation.Line, s.SourceLocation.Column
	}

	if line == nil || column == nil {
		line, column = positionFromAnnotation(message)
	}

	return NewError(s.Type, message, line, column)
}

func positionFromAnnotation(message string) (line *int, column *int) {
	match := annotationPosition.FindStringSubmatch(message)

	if match == nil {
		return nil, nil
	}

	l, lineErr := strconv.Atoi(match[1])
	c, columnErr := strconv.Atoi(match[2])

	if lineErr != nil || columnErr != nil {
		return nil, nil
	}

	return &l, &c
}

func (c *standardContract) toArtifacts() *Artifacts {
	return &Artifacts{
		ABI:               c.ABI,
		Bytecode:          c.EVM.Bytecode.Object,
		BytecodeRuntime:   c.EVM.DeployedBytecode.Object,
		IR:                irText(c.IR),
		MethodIdentifiers: c.EVM.MethodIdentifiers,
	}
}

// irText flattens the ir output, which depending on the compiler version is
// either a string or a json document.
func irText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)

	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	if trimmed[0] == '"' {
		var text string

		if err := json.Unmarshal(trimmed, &text); err == nil {
			return text
		}
	}

	var compact bytes.Buffer

	if err := json.Compact(&compact, trimmed); err != nil {
		return strings.TrimSpace(string(trimmed))
	}

	return compact.String()
}
