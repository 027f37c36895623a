package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vyper-compiler-api/internal/compiler"
	"vyper-compiler-api/internal/compiler/mocks"
)

func intPtr(value int) *int { return &value }

func testRequest(name string) *compiler.Request {
	return &compiler.Request{Sources: map[string]string{name: "@external\ndef f() -> uint256:\n    return 1\n"}}
}

func testBundle(names ...string) *compiler.Bundle {
	bundle := &compiler.Bundle{Contracts: map[string]*compiler.Artifacts{}}

	for _, name := range names {
		bundle.Contracts[name] = &compiler.Artifacts{
			ABI:               []byte(`[]`),
			Bytecode:          "0x" + name,
			BytecodeRuntime:   "0x61",
			IR:                "[seq]",
			MethodIdentifiers: map[string]string{"f()": "0x26121ff0"},
		}
	}

	return bundle
}

func newTestPool(t *testing.T, config Config) (*Pool, *mocks.MockCompiler) {
	ctrl := gomock.NewController(t)
	mock := mocks.NewMockCompiler(ctrl)

	pool := NewPool(mock, config)
	t.Cleanup(pool.Stop)

	return pool, mock
}

func TestPoolRun(t *testing.T) {
	tests := []struct {
		name       string
		bundle     *compiler.Bundle
		err        error
		wantStatus int
		check      func(t *testing.T, result Result)
	}{{
		name:       "should succeed with the entrypoint artifacts",
		bundle:     testBundle("a.vy"),
		wantStatus: http.StatusOK,
		check: func(t *testing.T, result Result) {
			assert.True(t, result.Outcome.Succeeded())
			assert.Equal(t, "0xa.vy", result.Outcome.Bytecode)
		},
	}, {
		name:       "should fail with the compiler position",
		err:        compiler.NewError("SyntaxException", "invalid syntax", intPtr(1), intPtr(5)),
		wantStatus: http.StatusBadRequest,
		check: func(t *testing.T, result Result) {
			assert.False(t, result.Outcome.Succeeded())
			assert.Equal(t, "invalid syntax", result.Outcome.Message)
			assert.Equal(t, 1, *result.Outcome.Line)
			assert.Equal(t, 5, *result.Outcome.Column)
		},
	}, {
		name:       "should find wrapped compiler errors",
		err:        errors.Wrap(compiler.NewError("TypeMismatch", "bad types", nil, nil), "compile"),
		wantStatus: http.StatusBadRequest,
		check: func(t *testing.T, result Result) {
			assert.Equal(t, "bad types", result.Outcome.Message)
			assert.Nil(t, result.Outcome.Line)
			assert.Nil(t, result.Outcome.Column)
		},
	}, {
		name:       "should hide internal faults",
		err:        errors.New("vyper-json: no such file or directory"),
		wantStatus: http.StatusInternalServerError,
		check: func(t *testing.T, result Result) {
			assert.Equal(t, internalFailureMessage, result.Outcome.Message)
		},
	}, {
		name:       "should fail when the entrypoint was not compiled",
		bundle:     testBundle("b.vy"),
		wantStatus: http.StatusInternalServerError,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, mock := newTestPool(t, Config{Workers: 1, QueueSize: 1, Timeout: time.Second})

			mock.EXPECT().Compile(gomock.Any(), gomock.Any()).Return(tt.bundle, tt.err)

			result, err := pool.Run(context.Background(), testRequest("a.vy"))
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, result.HTTPStatus)

			if tt.check != nil {
				tt.check(t, result)
			}
		})
	}
}

func TestPoolTimeout(t *testing.T) {
	pool, mock := newTestPool(t, Config{Workers: 1, QueueSize: 1, Timeout: 50 * time.Millisecond})

	mock.EXPECT().Compile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ *compiler.Request) (*compiler.Bundle, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	result, err := pool.Run(context.Background(), testRequest("a.vy"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusGatewayTimeout, result.HTTPStatus)
	assert.Equal(t, "compilation timed out after 50ms", result.Outcome.Message)
}

func TestPoolPanic(t *testing.T) {
	pool, mock := newTestPool(t, Config{Workers: 1, QueueSize: 1, Timeout: time.Second})

	gomock.InOrder(
		mock.EXPECT().Compile(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, *compiler.Request) (*compiler.Bundle, error) {
				panic("compiler exploded")
			}),
		mock.EXPECT().Compile(gomock.Any(), gomock.Any()).Return(testBundle("a.vy"), nil),
	)

	result, err := pool.Run(context.Background(), testRequest("a.vy"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, result.HTTPStatus)
	assert.Equal(t, internalFailureMessage, result.Outcome.Message)

	t.Run("should keep serving after a panic", func(t *testing.T) {
		result, err := pool.Run(context.Background(), testRequest("a.vy"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, result.HTTPStatus)
	})
}

func TestPoolQueueFull(t *testing.T) {
	pool, mock := newTestPool(t, Config{Workers: 1, QueueSize: 1, Timeout: time.Second})

	started := make(chan struct{}, 2)
	release := make(chan struct{})

	mock.EXPECT().Compile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *compiler.Request) (*compiler.Bundle, error) {
			started <- struct{}{}
			<-release
			return testBundle("a.vy"), nil
		}).
		Times(2)

	first, err := pool.Submit(testRequest("a.vy"))
	require.NoError(t, err)

	<-started
	assert.Equal(t, 1, pool.Busy())

	second, err := pool.Submit(testRequest("a.vy"))
	require.NoError(t, err)
	assert.Equal(t, 1, pool.QueueDepth())

	_, err = pool.Submit(testRequest("a.vy"))
	assert.True(t, errors.Is(err, ErrQueueFull))

	close(release)

	assert.Equal(t, http.StatusOK, (<-first).HTTPStatus)
	assert.Equal(t, http.StatusOK, (<-second).HTTPStatus)
}

func TestPoolStop(t *testing.T) {
	pool, mock := newTestPool(t, Config{Workers: 1, QueueSize: 4, Timeout: time.Second})

	release := make(chan struct{})

	mock.EXPECT().Compile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *compiler.Request) (*compiler.Bundle, error) {
			<-release
			return testBundle("a.vy"), nil
		}).
		Times(3)

	var results []<-chan Result

	for i := 0; i < 3; i++ {
		result, err := pool.Submit(testRequest("a.vy"))
		require.NoError(t, err)
		results = append(results, result)
	}

	stopped := make(chan struct{})

	go func() {
		pool.Stop()
		close(stopped)
	}()

	// stop must wait for the queued compilations.
	close(release)
	<-stopped

	for _, result := range results {
		select {
		case r := <-result:
			assert.Equal(t, http.StatusOK, r.HTTPStatus)
		default:
			t.Fatal("queued compilation was dropped on stop")
		}
	}

	_, err := pool.Submit(testRequest("a.vy"))
	assert.True(t, errors.Is(err, ErrPoolStopped))
}

func TestPoolConcurrentJobs(t *testing.T) {
	pool, mock := newTestPool(t, Config{Workers: 4, QueueSize: 64, Timeout: time.Second})

	mock.EXPECT().Compile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, request *compiler.Request) (*compiler.Bundle, error) {
			time.Sleep(5 * time.Millisecond)
			return testBundle(request.Primary()), nil
		}).
		Times(32)

	var wg sync.WaitGroup
	results := make([]Result, 32)

	for i := range results {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			result, err := pool.Run(context.Background(), testRequest(fmt.Sprintf("%02d.vy", i)))
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}

	wg.Wait()

	for i, result := range results {
		require.NotNil(t, result.Outcome)
		assert.Equal(t, fmt.Sprintf("0x%02d.vy", i), result.Outcome.Bytecode)
	}
}

func TestPoolRunContextDone(t *testing.T) {
	pool, mock := newTestPool(t, Config{Workers: 1, QueueSize: 1, Timeout: time.Second})

	release := make(chan struct{})
	defer close(release)

	mock.EXPECT().Compile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *compiler.Request) (*compiler.Bundle, error) {
			<-release
			return testBundle("a.vy"), nil
		})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := pool.Run(ctx, testRequest("a.vy"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
