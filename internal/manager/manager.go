package manager

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"vyper-compiler-api/internal/compiler"
	"vyper-compiler-api/internal/files"
	"vyper-compiler-api/internal/jobs"
	"vyper-compiler-api/internal/metrics"
	"vyper-compiler-api/internal/queue"
	"vyper-compiler-api/internal/worker"
)

const busyMessage = "server is busy"

// Offloader runs compilations away from the caller.
type Offloader interface {
	Submit(request *compiler.Request) (<-chan worker.Result, error)
}

type Config struct {
	Store     jobs.Store
	Pool      Offloader
	Publisher queue.Publisher
	// Files is optional, finished artifacts are not archived without it.
	Files files.Files
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Manager owns the lifecycle of compile jobs: it hands out ids, stores the
// pending record before the id leaves the process and records the outcome
// before anyone waiting on the job is released.
type Manager struct {
	store     jobs.Store
	pool      Offloader
	publisher queue.Publisher
	files     files.Files
	metrics   *metrics.Metrics

	mu      sync.Mutex
	waiters map[uuid.UUID]chan struct{}

	wg sync.WaitGroup
}

func New(config *Config) *Manager {
	publisher := config.Publisher

	if publisher == nil {
		publisher = queue.LogPublisher{}
	}

	return &Manager{
		store:     config.Store,
		pool:      config.Pool,
		publisher: publisher,
		files:     config.Files,
		metrics:   config.Metrics,
		waiters:   map[uuid.UUID]chan struct{}{},
	}
}

// Submit accepts the request and returns its id once the pending record is
// stored. The compilation itself runs later on the pool.
func (m *Manager) Submit(ctx context.Context, request *compiler.Request) (uuid.UUID, error) {
	id := uuid.New()
	done := m.register(id)

	if err := m.store.Put(ctx, jobs.NewPendingRecord(id)); err != nil {
		m.release(id)
		return uuid.Nil, errors.Wrap(err, "failed to store pending compilation")
	}

	results, err := m.pool.Submit(request)

	if err != nil {
		// the id is never handed out, the record is still completed so it
		// does not stay pending forever.
		if completeErr := m.store.Complete(context.Background(), id,
			jobs.NewFailure(busyMessage, nil, nil), http.StatusServiceUnavailable); completeErr != nil {
			log.Error().Err(completeErr).Str("id", id.String()).Msg("failed to complete rejected compilation")
		}

		m.release(id)
		m.observeRejection(err)

		return uuid.Nil, errors.Wrap(err, "failed to queue compilation")
	}

	if m.metrics != nil {
		m.metrics.Submitted.Inc()
	}

	log.Debug().Str("id", id.String()).Object("request", request).Msg("queued compilation")

	m.wg.Add(1)
	go m.collect(id, request, results, done)

	return id, nil
}

// Lookup returns the current record of the job.
func (m *Manager) Lookup(ctx context.Context, id uuid.UUID) (*jobs.Record, error) {
	return m.store.Get(ctx, id)
}

// Await blocks until the job is terminal or ctx is done and returns its
// record.
func (m *Manager) Await(ctx context.Context, id uuid.UUID) (*jobs.Record, error) {
	m.mu.Lock()
	done, pending := m.waiters[id]
	m.mu.Unlock()

	if pending {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return m.store.Get(ctx, id)
}

// Wait blocks until every accepted job has been recorded. The pool must be
// stopped first.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) collect(id uuid.UUID, request *compiler.Request, results <-chan worker.Result, done chan struct{}) {
	defer m.wg.Done()

	result := <-results
	ctx := context.Background()

	if err := m.store.Complete(ctx, id, result.Outcome, result.HTTPStatus); err != nil {
		log.Error().Err(err).Str("id", id.String()).Msg("failed to store compilation outcome")
	}

	if result.Outcome.Succeeded() {
		m.archive(id, result.Outcome.Artifacts)
	}

	m.release(id)
	close(done)

	state := result.Outcome.State().String()

	event := &queue.CompletionEvent{
		ID:          id.String(),
		State:       state,
		HTTPStatus:  result.HTTPStatus,
		DurationMs:  result.Elapsed.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}

	if err := m.publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("id", id.String()).Msg("failed to publish completion event")
	}

	if m.metrics != nil {
		m.metrics.ObserveCompletion(state, result.HTTPStatus, result.Elapsed)
	}

	log.Info().
		Object("event", event).
		Str("entrypoint", request.Primary()).
		Msg("compilation finished")
}

func (m *Manager) archive(id uuid.UUID, artifacts *compiler.Artifacts) {
	if m.files == nil {
		return
	}

	archived, err := artifactFiles(id.String(), artifacts)

	if err == nil {
		err = m.files.WriteFiles(archived...)
	}

	if err != nil {
		log.Warn().Err(err).Str("id", id.String()).Msg("failed to archive artifacts")
	}
}

func (m *Manager) register(id uuid.UUID) chan struct{} {
	done := make(chan struct{})

	m.mu.Lock()
	m.waiters[id] = done
	m.mu.Unlock()

	return done
}

func (m *Manager) release(id uuid.UUID) {
	m.mu.Lock()
	delete(m.waiters, id)
	m.mu.Unlock()
}

func (m *Manager) observeRejection(err error) {
	if m.metrics == nil {
		return
	}

	reason := metrics.ReasonQueueFull

	if errors.Is(err, worker.ErrPoolStopped) {
		reason = metrics.ReasonStopped
	}

	m.metrics.Rejected.WithLabelValues(reason).Inc()
}
