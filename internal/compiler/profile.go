package compiler

import (
	"vyper-compiler-api/internal/docker"
	"vyper-compiler-api/internal/memory"
)

type Runtime string

const (
	DefaultRuntime Runtime = ""
	GVisorRuntime  Runtime = docker.GVisorRuntime
)

func (r Runtime) String() string { return string(r) }

type Profile struct {
	// The runtime the compiler container will be started with. gVisor is only
	// used when the daemon has it registered.
	Runtime Runtime

	// The maximum amount of memory the container can use. Docker requires at
	// least 6 megabytes.
	Memory memory.Size

	// The amount of memory this container is allowed to swap to disk, -1
	// means unlimited and 0 leaves the docker default.
	MemorySwap memory.Size
}

// Profiles are the container limits per environment.
var Profiles = map[string]*Profile{
	"development": {
		Runtime: DefaultRuntime,
		Memory:  memory.Gigabyte * 2,
	},
	"staging": {
		Runtime: GVisorRuntime,
		Memory:  memory.Gigabyte,
	},
	"production": {
		Runtime: GVisorRuntime,
		Memory:  memory.Megabyte * 512,
	},
}

// GetProfile returns the profile for the environment with the memory limit
// overridden when one is given. gVisor is dropped if the daemon cannot run it.
func GetProfile(environment string, memoryLimit memory.Size, gvisorInstalled bool) *Profile {
	base, ok := Profiles[environment]

	if !ok {
		base = Profiles["development"]
	}

	profile := *base

	if memoryLimit > 0 {
		profile.Memory = memoryLimit
	}

	if profile.Runtime == GVisorRuntime && !gvisorInstalled {
		profile.Runtime = DefaultRuntime
	}

	return &profile
}
