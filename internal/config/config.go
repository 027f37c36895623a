package config

import (
	"os"
	"runtime"
	"strings"
	"sync"
)

const (
	DevelopmentEnvironment = "development"
	StagingEnvironment     = "staging"
	ProductionEnvironment  = "production"

	DefaultEnvironment = DevelopmentEnvironment
)

// environmentVariable selects the container profile and the log format.
const environmentVariable = "environment"

var (
	currentEnvironment string
	// envOnce reads the environment a single time, tests reset it.
	envOnce sync.Once
)

// GetCurrentEnvironment returns the environment the service is running in,
// falling back to development for unset or unknown values.
func GetCurrentEnvironment() string {
	envOnce.Do(func() {
		currentEnvironment = DefaultEnvironment

		switch value := os.Getenv(environmentVariable); value {
		case DevelopmentEnvironment, StagingEnvironment, ProductionEnvironment:
			currentEnvironment = value
		}
	})

	return currentEnvironment
}

// GetCurrentOs returns windows or linux, macOS is treated as linux.
func GetCurrentOs() string {
	if strings.EqualFold(runtime.GOOS, "windows") {
		return "windows"
	}

	return "linux"
}
