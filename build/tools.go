//go:build tools
// +build tools

// Package tools records build-time dependencies that aren't used by the
// service itself, but are tracked by go mod and required to generate code.
package build

import (
	_ "github.com/golang/mock/mockgen"
	_ "golang.org/x/tools/cmd/goimports"
	_ "golang.org/x/tools/cmd/stringer"
)
