package compiler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ContainerClient is the part of the docker client the compiler needs,
// satisfied by *client.Client.
type ContainerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerCompiler runs every compilation in a fresh container of the compiler
// image with networking disabled, so untrusted source never touches the host
// toolchain.
type DockerCompiler struct {
	client  ContainerClient
	image   string
	profile *Profile
	// workDir is where the per job input directories are created before
	// being mounted into the container.
	workDir string

	version versionCache
}

func NewDockerCompiler(client ContainerClient, image string, profile *Profile, workDir string) *DockerCompiler {
	return &DockerCompiler{
		client:  client,
		image:   image,
		profile: profile,
		workDir: workDir,
	}
}

func (d *DockerCompiler) Compile(ctx context.Context, request *Request) (*Bundle, error) {
	input, err := encodeStandardInput(request)

	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(d.workDir, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to make required directories")
	}

	path, err := os.MkdirTemp(d.workDir, "compile-*")

	if err != nil {
		return nil, errors.Wrap(err, "failed to create input directory")
	}

	defer func() {
		if removeErr := os.RemoveAll(path); removeErr != nil {
			log.Warn().Err(removeErr).Str("path", path).Msg("failed to clean up input directory")
		}
	}()

	if err := os.WriteFile(filepath.Join(path, "input.json"), input, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write standard json input")
	}

	stdout, stderr, err := d.run(ctx, []string{"vyper-json"}, []string{"/input/input.json"}, path)

	if err != nil {
		return nil, err
	}

	if len(stdout) == 0 {
		return nil, errors.Errorf("compiler container produced no output: %s", strings.TrimSpace(string(stderr)))
	}

	return decodeStandardOutput(stdout)
}

func (d *DockerCompiler) Version(ctx context.Context) (string, error) {
	return d.version.get(func() (string, error) {
		stdout, stderr, err := d.run(ctx, []string{"vyper"}, []string{"--version"}, "")

		if err != nil {
			return "", err
		}

		if len(stdout) == 0 {
			return "", errors.Errorf("compiler container printed no version: %s", strings.TrimSpace(string(stderr)))
		}

		return strings.TrimSpace(string(stdout)), nil
	})
}

// run starts the compiler image with the given entrypoint and waits for it to
// exit, returning what it wrote to standard out and standard error. The
// container is always removed.
func (d *DockerCompiler) run(ctx context.Context, entrypoint []string, cmd []string, inputPath string) (stdout []byte, stderr []byte, err error) {
	hostConfig := &container.HostConfig{
		Runtime: d.profile.Runtime.String(),
		Resources: container.Resources{
			Memory:     d.profile.Memory.Bytes(),
			MemorySwap: d.profile.MemorySwap.Bytes(),
		},
	}

	if inputPath != "" {
		absolute, absErr := filepath.Abs(inputPath)

		if absErr != nil {
			return nil, nil, errors.Wrap(absErr, "failed to resolve input directory")
		}

		hostConfig.Binds = []string{fmt.Sprintf("%s:/input:ro", hostPath(absolute))}
	}

	created, err := d.client.ContainerCreate(ctx, &container.Config{
		Entrypoint:      entrypoint,
		Cmd:             cmd,
		Image:           d.image,
		NetworkDisabled: true,
		WorkingDir:      "/input",
	}, hostConfig, nil, nil, "")

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create container")
	}

	defer func() {
		// the job context may already be done, removal must still happen.
		if removeErr := d.client.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			log.Warn().Err(removeErr).Str("containerID", created.ID).Msg("failed to remove compiler container")
		}
	}()

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, nil, errors.Wrap(err, "failed to start the container")
	}

	statusCh, errCh := d.client.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)

	select {
	case waitErr := <-errCh:
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		if waitErr != nil {
			return nil, nil, errors.Wrap(waitErr, "failed waiting for the container")
		}
	case status := <-statusCh:
		log.Debug().
			Str("containerID", created.ID).
			Int64("exitCode", status.StatusCode).
			Msg("compiler container exited")
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	logs, err := d.client.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read container logs")
	}

	defer logs.Close()

	var stdoutBuf, stderrBuf bytes.Buffer

	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs); err != nil {
		return nil, nil, errors.Wrap(err, "failed to demultiplex container logs")
	}

	return stdoutBuf.Bytes(), stderrBuf.Bytes(), nil
}

// hostPath converts a windows path into the form docker expects for binds,
// C:\a\b => /c/a/b. Other paths are returned unchanged.
func hostPath(path string) string {
	volume := filepath.VolumeName(path)

	if volume == "" || !strings.HasSuffix(volume, ":") {
		return path
	}

	drive := strings.ToLower(strings.TrimSuffix(volume, ":"))
	rest := strings.ReplaceAll(strings.TrimPrefix(path, volume), "\\", "/")

	return "/" + drive + rest
}
