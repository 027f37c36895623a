package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"vyper-compiler-api/internal/compiler"
	"vyper-compiler-api/internal/config"
	"vyper-compiler-api/internal/docker"
	"vyper-compiler-api/internal/files"
	"vyper-compiler-api/internal/jobs"
	"vyper-compiler-api/internal/manager"
	"vyper-compiler-api/internal/metrics"
	"vyper-compiler-api/internal/parser"
	"vyper-compiler-api/internal/queue"
	"vyper-compiler-api/internal/repository"
	"vyper-compiler-api/internal/routing"
	"vyper-compiler-api/internal/validation"
	"vyper-compiler-api/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	args, err := parser.ParseDefaultConfigurationArguments()

	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse configuration")
	}

	if err := config.ConfigureLogger(args.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("failed to configure logger")
	}

	log.Info().
		Str("environment", config.GetCurrentEnvironment()).
		Msg("starting compiler-api")

	if err := run(args); err != nil {
		log.Fatal().Err(err).Msg("compiler-api stopped")
	}

	log.Info().Msg("compiler-api stopped")
}

type closer interface {
	Close() error
}

func run(args parser.Arguments) error {
	vyper, err := newCompiler(&args)

	if err != nil {
		return err
	}

	store, storeCloser, err := newStore(&args)

	if err != nil {
		return err
	}

	fileHandler, err := files.NewFilesHandler(&files.Config{
		Local:          &files.LocalConfig{LocalRootPath: args.FilesRoot},
		S3:             &files.S3Config{BucketName: args.S3BucketName},
		ForceLocalMode: args.FilesBackend == "local",
	})

	if err != nil {
		return errors.Wrap(err, "failed to create file handler")
	}

	publisher, err := queue.NewPublisher(&queue.Config{
		Backend: args.Events,
		Nsq:     &queue.NsqConfig{Topic: args.NsqTopic, Address: args.NsqAddress, Port: args.NsqPort},
		Sqs:     &queue.SqsConfig{QueueURL: args.SqsQueue},
		Redis:   &queue.RedisConfig{Address: args.RedisAddress, Channel: args.RedisChannel},
	})

	if err != nil {
		return errors.Wrap(err, "failed to create event publisher")
	}

	pool := worker.NewPool(vyper, worker.Config{
		Workers:   args.MaxWorkers,
		QueueSize: args.QueueSize,
		Timeout:   args.CompileTimeout,
	})

	collectors := metrics.New()
	collectors.RegisterPool(pool)

	mgr := manager.New(&manager.Config{
		Store:     store,
		Pool:      pool,
		Publisher: publisher,
		Files:     fileHandler,
		Metrics:   collectors,
	})

	validate, translator := validation.New()

	server := &http.Server{
		Addr: fmt.Sprintf("%s:%d", args.Host, args.Port),
		Handler: routing.NewRouter(&routing.CompilerHandlers{
			Manager:     mgr,
			Compiler:    vyper,
			FileHandler: fileHandler,
			Metrics:     collectors,
			Translator:  translator,
			Validator:   validate,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info().Str("address", server.Addr).Msg("listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "failed to listen")
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var result *multierror.Error

		if err := server.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "failed to shut down http server"))
		}

		pool.Stop()
		mgr.Wait()

		if err := publisher.Stop(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "failed to stop event publisher"))
		}

		if storeCloser != nil {
			if err := storeCloser.Close(); err != nil {
				result = multierror.Append(result, errors.Wrap(err, "failed to close job store"))
			}
		}

		return result.ErrorOrNil()
	})

	return group.Wait()
}

func newCompiler(args *parser.Arguments) (compiler.Compiler, error) {
	if args.Compiler == "local" {
		return compiler.NewLocalCompiler(args.VyperBinary, args.VyperJSONBinary), nil
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())

	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}

	profile := compiler.GetProfile(config.GetCurrentEnvironment(), args.DockerMemory, docker.IsGvisorInstalled())

	log.Info().
		Str("image", args.DockerImage).
		Str("runtime", profile.Runtime.String()).
		Str("memory", profile.Memory.String()).
		Msg("compiling in docker")

	return compiler.NewDockerCompiler(dockerClient, args.DockerImage, profile, filepath.Join(os.TempDir(), "vyper-inputs")), nil
}

func newStore(args *parser.Arguments) (jobs.Store, closer, error) {
	if args.DatabaseDriver == "" {
		return jobs.NewMemoryStore(), nil, nil
	}

	repo, err := repository.NewRepository(args.DatabaseDriver, args.DatabaseConn)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create database connection")
	}

	return repo, repo, nil
}
