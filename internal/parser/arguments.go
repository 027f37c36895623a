package parser

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/namsral/flag"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vyper-compiler-api/internal/memory"
	"vyper-compiler-api/internal/worker"
)

type Arguments struct {
	Host string `validate:"required"`
	Port int    `validate:"min=1,max=65535"`

	MaxWorkers     int           `validate:"min=1"`
	QueueSize      int           `validate:"min=0"`
	CompileTimeout time.Duration `validate:"gt=0"`

	LogLevel string `validate:"oneof=trace debug info warn error fatal panic disabled"`

	Compiler        string `validate:"oneof=local docker"`
	VyperBinary     string `validate:"required"`
	VyperJSONBinary string `validate:"required"`
	DockerImage     string `validate:"required_if=Compiler docker"`
	DockerMemory    memory.Size

	DatabaseDriver string `validate:"omitempty,oneof=postgres sqlite"`
	DatabaseConn   string `validate:"required_with=DatabaseDriver"`

	FilesBackend string `validate:"oneof=local s3"`
	FilesRoot    string `validate:"required_if=FilesBackend local"`
	S3BucketName string `validate:"required_if=FilesBackend s3"`

	Events       string `validate:"omitempty,oneof=nsq sqs redis"`
	NsqAddress   string `validate:"required_if=Events nsq"`
	NsqPort      int
	NsqTopic     string `validate:"required_if=Events nsq"`
	SqsQueue     string `validate:"required_if=Events sqs"`
	RedisAddress string `validate:"required_if=Events redis"`
	RedisChannel string `validate:"required_if=Events redis"`
}

func (a Arguments) MarshalZerologObject(e *zerolog.Event) {
	e.Str("host", a.Host).
		Int("port", a.Port).
		Int("maxWorkers", a.MaxWorkers).
		Int("queueSize", a.QueueSize).
		Dur("compileTimeout", a.CompileTimeout).
		Str("compiler", a.Compiler).
		Str("databaseDriver", a.DatabaseDriver).
		Str("filesBackend", a.FilesBackend).
		Str("events", a.Events)
}

// ParseDefaultConfigurationArguments loads .env when present and parses the
// command line, environment and optional config file into Arguments.
func ParseDefaultConfigurationArguments() (Arguments, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	return ParseArguments(flag.CommandLine, os.Args[1:])
}

func ParseArguments(fs *flag.FlagSet, arguments []string) (Arguments, error) {
	args := Arguments{DockerMemory: 512 * memory.Megabyte}

	fs.String(flag.DefaultConfigFlagname, "", "path to a config file")

	fs.StringVar(&args.Host, "host", "0.0.0.0", "address to listen on")
	fs.IntVar(&args.Port, "port", 8080, "port to listen on")

	fs.IntVar(&args.MaxWorkers, "max-workers", worker.DefaultWorkers, "compilations run at the same time")
	fs.IntVar(&args.QueueSize, "queue-size", worker.DefaultQueueSize, "compilations waiting for a worker before rejecting")
	fs.DurationVar(&args.CompileTimeout, "compile-timeout", worker.DefaultTimeout, "limit for a single compilation")

	fs.StringVar(&args.LogLevel, "log-level", "debug", "")

	fs.StringVar(&args.Compiler, "compiler", "local", "local or docker")
	fs.StringVar(&args.VyperBinary, "vyper-binary", "vyper", "")
	fs.StringVar(&args.VyperJSONBinary, "vyper-json-binary", "vyper-json", "")
	fs.StringVar(&args.DockerImage, "docker-image", "vyperlang/vyper:0.3.10", "")
	fs.Var(&args.DockerMemory, "docker-memory", "memory limit of the compiler container")

	fs.StringVar(&args.DatabaseDriver, "database-driver", "", "postgres or sqlite, memory when empty")
	fs.StringVar(&args.DatabaseConn, "database-connection-string", "", "")

	fs.StringVar(&args.FilesBackend, "files-backend", "local", "local or s3")
	fs.StringVar(&args.FilesRoot, "files-root", filepath.Join(os.TempDir(), "compilations"), "")
	fs.StringVar(&args.S3BucketName, "s3-bucket", "", "")

	fs.StringVar(&args.Events, "events", "", "nsq, sqs or redis, logged when empty")
	fs.StringVar(&args.NsqAddress, "nsq-address", "nsqd", "")
	fs.IntVar(&args.NsqPort, "nsq-port", 4150, "")
	fs.StringVar(&args.NsqTopic, "nsq-topic", "compilations", "")
	fs.StringVar(&args.SqsQueue, "sqs-queue", "", "")
	fs.StringVar(&args.RedisAddress, "redis-address", "localhost:6379", "")
	fs.StringVar(&args.RedisChannel, "redis-channel", "compilations", "")

	if err := fs.Parse(arguments); err != nil {
		return args, errors.Wrap(err, "failed to parse arguments")
	}

	if err := validator.New().Struct(args); err != nil {
		return args, errors.Wrap(err, "invalid arguments")
	}

	log.Info().Object("arguments", args).Msg("parsed arguments")

	return args, nil
}
