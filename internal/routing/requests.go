package routing

import (
	"vyper-compiler-api/internal/compiler"
)

type SourceUnit struct {
	Content string `json:"content" validate:"required"`
}

type CompileRequest struct {
	Sources    map[string]SourceUnit `json:"sources" validate:"required,min=1,dive,keys,required,endkeys"`
	Entrypoint string                `json:"entrypoint"`
}

func (c *CompileRequest) toCompilerRequest() *compiler.Request {
	sources := make(map[string]string, len(c.Sources))

	for name, unit := range c.Sources {
		sources[name] = unit.Content
	}

	return &compiler.Request{
		Sources:    sources,
		Outputs:    compiler.DefaultOutputs,
		Entrypoint: c.Entrypoint,
	}
}
