package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogger sets the global log level, writing human readable logs in
// development and json everywhere else.
func ConfigureLogger(level string) error {
	parsed, err := zerolog.ParseLevel(level)

	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}

	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if GetCurrentEnvironment() == DevelopmentEnvironment {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    GetCurrentOs() == "windows",
			TimeFormat: time.RFC3339,
		})
	}

	return nil
}
