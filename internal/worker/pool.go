package worker

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"vyper-compiler-api/internal/compiler"
	"vyper-compiler-api/internal/jobs"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 128
	DefaultTimeout   = time.Minute
)

var (
	ErrQueueFull   = errors.New("compile queue is full")
	ErrPoolStopped = errors.New("compile pool is stopped")
)

const internalFailureMessage = "internal compiler error"

type Config struct {
	// Workers is the number of compilations run at the same time.
	Workers int
	// QueueSize is how many accepted compilations may wait for a worker
	// before submissions are rejected.
	QueueSize int
	// Timeout bounds a single compilation.
	Timeout time.Duration
}

// Result is a finished compilation. HTTPStatus is the status the outcome is
// served with: 200 on success, 400 when the compiler rejected the source, 504
// when the compilation timed out and 500 for anything else.
type Result struct {
	Outcome    *jobs.Outcome
	HTTPStatus int
	Elapsed    time.Duration
}

type task struct {
	request *compiler.Request
	result  chan Result
}

// Pool runs compilations on a fixed number of goroutines so request handlers
// never block on the compiler.
type Pool struct {
	compiler compiler.Compiler
	config   Config

	mu      sync.RWMutex
	stopped bool
	queue   chan *task

	busy     atomic.Int64
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewPool(c compiler.Compiler, config Config) *Pool {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}

	if config.QueueSize < 0 {
		config.QueueSize = DefaultQueueSize
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	p := &Pool{
		compiler: c,
		config:   config,
		queue:    make(chan *task, config.QueueSize),
	}

	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	log.Info().
		Int("workers", config.Workers).
		Int("queueSize", config.QueueSize).
		Dur("timeout", config.Timeout).
		Msg("started compile pool")

	return p
}

// Submit queues the request without blocking. The returned channel receives
// exactly one result.
func (p *Pool) Submit(request *compiler.Request) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return nil, ErrPoolStopped
	}

	t := &task{request: request, result: make(chan Result, 1)}

	select {
	case p.queue <- t:
		return t.result, nil
	default:
		return nil, ErrQueueFull
	}
}

// Run submits the request and waits for its result.
func (p *Pool) Run(ctx context.Context, request *compiler.Request) (Result, error) {
	results, err := p.Submit(request)

	if err != nil {
		return Result{}, err
	}

	select {
	case result := <-results:
		return result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Stop rejects new submissions and waits for queued and running compilations
// to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()

		p.wg.Wait()
		log.Info().Msg("stopped compile pool")
	})
}

// QueueDepth is the number of compilations waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Busy is the number of workers currently compiling.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for t := range p.queue {
		p.busy.Add(1)
		t.result <- p.execute(t.request)
		p.busy.Add(-1)
	}

	log.Debug().Int("worker", id).Msg("compile worker stopped")
}

func (p *Pool) execute(request *compiler.Request) (result Result) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Object("request", request).
				Msg("compiler panicked")

			result = Result{
				Outcome:    jobs.NewFailure(internalFailureMessage, nil, nil),
				HTTPStatus: http.StatusInternalServerError,
				Elapsed:    time.Since(start),
			}
		}
	}()

	bundle, err := p.compiler.Compile(ctx, request)

	result = p.toResult(ctx, request, bundle, err)
	result.Elapsed = time.Since(start)

	return result
}

func (p *Pool) toResult(ctx context.Context, request *compiler.Request, bundle *compiler.Bundle, err error) Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return Result{
			Outcome:    jobs.NewFailure(fmt.Sprintf("compilation timed out after %s", p.config.Timeout), nil, nil),
			HTTPStatus: http.StatusGatewayTimeout,
		}
	}

	var compileErr *compiler.Error

	if errors.As(err, &compileErr) {
		return Result{
			Outcome:    jobs.NewFailure(compileErr.Message, compileErr.Line, compileErr.Column),
			HTTPStatus: http.StatusBadRequest,
		}
	}

	if err == nil {
		outcome, successErr := jobs.NewSuccess(bundle, request.Primary())

		if successErr == nil {
			return Result{Outcome: outcome, HTTPStatus: http.StatusOK}
		}

		err = successErr
	}

	log.Error().Err(err).Object("request", request).Msg("compilation failed unexpectedly")

	return Result{
		Outcome:    jobs.NewFailure(internalFailureMessage, nil, nil),
		HTTPStatus: http.StatusInternalServerError,
	}
}
