package compiler

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// waitDelay bounds how long a killed compiler may keep its output pipes open.
const waitDelay = time.Second

// LocalCompiler runs the vyper binaries installed on the host.
type LocalCompiler struct {
	// Binary is the vyper executable, used for the version banner.
	Binary string
	// JSONBinary is the standard json executable used for compiling.
	JSONBinary string

	version versionCache
}

func NewLocalCompiler(binary string, jsonBinary string) *LocalCompiler {
	return &LocalCompiler{Binary: binary, JSONBinary: jsonBinary}
}

func (l *LocalCompiler) Compile(ctx context.Context, request *Request) (*Bundle, error) {
	input, err := encodeStandardInput(request)

	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, l.JSONBinary)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()

	// The error returned by Run is OS specific when the process is killed, the
	// context tells us if it was our deadline.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if stderr.Len() > 0 {
		log.Debug().Str("stderr", stderr.String()).Msg("vyper-json wrote to stderr")
	}

	if stdout.Len() == 0 {
		if runErr == nil {
			runErr = errors.New("no output")
		}

		return nil, errors.Wrapf(runErr, "%s failed: %s", l.JSONBinary, strings.TrimSpace(stderr.String()))
	}

	return decodeStandardOutput(stdout.Bytes())
}

func (l *LocalCompiler) Version(ctx context.Context) (string, error) {
	return l.version.get(func() (string, error) {
		output, err := exec.CommandContext(ctx, l.Binary, "--version").Output()

		if err != nil {
			return "", errors.Wrapf(err, "failed to read %s version", l.Binary)
		}

		return strings.TrimSpace(string(output)), nil
	})
}
