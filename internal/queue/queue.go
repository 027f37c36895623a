package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	BackendNone  = ""
	BackendNsq   = "nsq"
	BackendSqs   = "sqs"
	BackendRedis = "redis"
)

// CompletionEvent is published once for every compilation that reaches a
// terminal state.
type CompletionEvent struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	HTTPStatus  int       `json:"http_status"`
	DurationMs  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

func (e *CompletionEvent) MarshalZerologObject(event *zerolog.Event) {
	event.Str("id", e.ID).
		Str("state", e.State).
		Int("httpStatus", e.HTTPStatus).
		Int64("durationMs", e.DurationMs)
}

// Publisher notifies interested services of finished compilations.
type Publisher interface {
	Publish(ctx context.Context, event *CompletionEvent) error
	Stop() error
}

type Config struct {
	Backend string

	Nsq   *NsqConfig
	Sqs   *SqsConfig
	Redis *RedisConfig
}

func NewPublisher(config *Config) (Publisher, error) {
	switch config.Backend {
	case BackendNone:
		return LogPublisher{}, nil
	case BackendNsq:
		return newNsqPublisher(config.Nsq)
	case BackendSqs:
		return newSqsPublisher(config.Sqs)
	case BackendRedis:
		return newRedisPublisher(config.Redis)
	default:
		return nil, errors.Errorf("unsupported events backend %q", config.Backend)
	}
}

// LogPublisher only logs events, used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event *CompletionEvent) error {
	log.Debug().Object("event", event).Msg("compilation completed")
	return nil
}

func (LogPublisher) Stop() error { return nil }

func encodeEvent(event *CompletionEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	return data, errors.Wrap(err, "failed to encode completion event")
}
