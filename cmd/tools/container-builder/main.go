package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/namsral/flag"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vyper-compiler-api/internal/config"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: config.GetCurrentOs() == "windows"})

	var (
		versions   string
		dockerfile string
		repository string
		verbose    bool
	)

	flag.StringVar(&versions, "versions", "0.3.10", "comma separated vyper versions to build images for")
	flag.StringVar(&dockerfile, "dockerfile", "./build/dockerfiles/vyper.dockerfile", "")
	flag.StringVar(&repository, "repository", "vyper-compiler", "image repository, tagged with the vyper version")
	flag.BoolVar(&verbose, "v", false, "")

	flag.Parse()

	for _, version := range strings.Split(versions, ",") {
		version = strings.TrimSpace(version)

		if version == "" {
			continue
		}

		tag := fmt.Sprintf("%s:%s", repository, version)

		log.Info().Str("tag", tag).Msg("building compiler image")

		if err := runDockerBuild(dockerfile, tag, version, verbose); err != nil {
			log.Fatal().Err(err).Str("tag", tag).Msg("failed to build compiler image")
		}

		log.Info().Str("tag", tag).Msg("finished compiler image")
	}
}

func runDockerBuild(dockerfile string, tag string, version string, verbose bool) error {
	cmd := exec.Command("docker", "build",
		"-f", dockerfile,
		"-t", tag,
		"--build-arg", "VYPER_VERSION="+version)

	cmd.Stdout = nil
	cmd.Stderr = os.Stderr

	if verbose {
		cmd.Args = append(cmd.Args, "--progress=plain")
		cmd.Stdout = os.Stdout
	}

	cmd.Args = append(cmd.Args, ".")

	return cmd.Run()
}
