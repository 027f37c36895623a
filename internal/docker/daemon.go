package docker

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type dockerDaemonConfig struct {
	Runtimes map[string]struct {
		Path string `json:"path"`
	} `json:"runtimes"`
}

const (
	GVisorRuntime = "runsc"

	DefaultDaemonConfigPath = "/etc/docker/daemon.json"
)

// IsGvisorInstalled reports if the local docker daemon has been configured
// with the gVisor runtime, compiler containers are started with it when it is.
func IsGvisorInstalled() bool {
	return IsRuntimeInstalled(DefaultDaemonConfigPath, GVisorRuntime)
}

// IsRuntimeInstalled checks the daemon configuration at the given path for a
// registered runtime by name.
func IsRuntimeInstalled(daemonConfigPath string, runtime string) bool {
	if _, err := os.Stat(daemonConfigPath); errors.Is(err, os.ErrNotExist) {
		return false
	}

	fileBytes, err := os.ReadFile(daemonConfigPath)

	if err != nil {
		log.Err(err).Str("path", daemonConfigPath).Msg("failed to read daemon file but it exists")
		return false
	}

	daemon := &dockerDaemonConfig{}

	if err := json.Unmarshal(fileBytes, daemon); err != nil {
		log.Warn().Err(err).Str("path", daemonConfigPath).Msg("docker daemon file is not valid json")
		return false
	}

	_, ok := daemon.Runtimes[runtime]
	return ok
}
