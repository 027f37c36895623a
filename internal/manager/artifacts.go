package manager

import (
	"encoding/json"

	"github.com/pkg/errors"

	"vyper-compiler-api/internal/compiler"
	"vyper-compiler-api/internal/files"
)

// ArtifactNames are the files archived for every successful compilation,
// mapped to how each is taken from the entrypoint artifacts.
var ArtifactNames = map[string]func(*compiler.Artifacts) ([]byte, error){
	"abi.json": func(a *compiler.Artifacts) ([]byte, error) {
		return a.ABI, nil
	},
	"bytecode": func(a *compiler.Artifacts) ([]byte, error) {
		return []byte(a.Bytecode), nil
	},
	"bytecode_runtime": func(a *compiler.Artifacts) ([]byte, error) {
		return []byte(a.BytecodeRuntime), nil
	},
	"ir": func(a *compiler.Artifacts) ([]byte, error) {
		return []byte(a.IR), nil
	},
	"method_identifiers.json": func(a *compiler.Artifacts) ([]byte, error) {
		return json.Marshal(a.MethodIdentifiers)
	},
}

func artifactFiles(id string, artifacts *compiler.Artifacts) ([]*files.File, error) {
	archived := make([]*files.File, 0, len(ArtifactNames))

	for name, extract := range ArtifactNames {
		data, err := extract(artifacts)

		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode %s", name)
		}

		archived = append(archived, &files.File{ID: id, Name: name, Data: data})
	}

	return archived, nil
}
