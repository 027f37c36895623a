package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vyper-compiler-api/internal/compiler"
	"vyper-compiler-api/internal/compiler/mocks"
	"vyper-compiler-api/internal/files"
	"vyper-compiler-api/internal/jobs"
	"vyper-compiler-api/internal/manager"
	"vyper-compiler-api/internal/metrics"
	"vyper-compiler-api/internal/validation"
	"vyper-compiler-api/internal/worker"
)

const (
	validSource   = "@external\ndef f() -> int128:\n    return 1"
	invalidSource = "this is not valid"
)

func intPtr(value int) *int { return &value }

func compileBody(sources map[string]string) string {
	units := map[string]SourceUnit{}

	for name, content := range sources {
		units[name] = SourceUnit{Content: content}
	}

	data, _ := json.Marshal(CompileRequest{Sources: units})
	return string(data)
}

// fakeCompile compiles valid sources and rejects anything containing the
// invalid source, blocking on release when it is set.
func fakeCompile(release <-chan struct{}) func(context.Context, *compiler.Request) (*compiler.Bundle, error) {
	return func(_ context.Context, request *compiler.Request) (*compiler.Bundle, error) {
		if release != nil {
			<-release
		}

		bundle := &compiler.Bundle{Contracts: map[string]*compiler.Artifacts{}}

		for name, content := range request.Sources {
			if content == invalidSource {
				return nil, compiler.NewError("SyntaxException", "invalid syntax", intPtr(1), intPtr(0))
			}

			bundle.Contracts[name] = &compiler.Artifacts{
				ABI:               json.RawMessage(`[{"name":"f","outputs":[{"type":"int128"}],"type":"function"}]`),
				Bytecode:          "0x6100",
				BytecodeRuntime:   "0x6101",
				IR:                "[seq, [return, 0, [lll, 0]]]",
				MethodIdentifiers: map[string]string{"f()": "0x26121ff0"},
			}
		}

		return bundle, nil
	}
}

type RoutingSuite struct {
	suite.Suite

	compiler *mocks.MockCompiler
	pool     *worker.Pool
	manager  *manager.Manager
	handlers *CompilerHandlers
	server   *httptest.Server
	release  chan struct{}
}

func (s *RoutingSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.compiler = mocks.NewMockCompiler(ctrl)
	s.release = nil

	s.pool = worker.NewPool(s.compiler, worker.Config{Workers: 2, QueueSize: 8, Timeout: 2 * time.Second})
	s.manager = manager.New(&manager.Config{Store: jobs.NewMemoryStore(), Pool: s.pool})

	validate, translator := validation.New()

	s.handlers = &CompilerHandlers{
		Manager:    s.manager,
		Compiler:   s.compiler,
		Metrics:    metrics.New(),
		Translator: translator,
		Validator:  validate,
	}

	s.server = httptest.NewServer(NewRouter(s.handlers))
}

func (s *RoutingSuite) TearDownTest() {
	if s.release != nil {
		close(s.release)
	}

	s.server.Close()
	s.pool.Stop()
	s.manager.Wait()
}

func (s *RoutingSuite) expectCompiles() {
	s.compiler.EXPECT().Compile(gomock.Any(), gomock.Any()).DoAndReturn(fakeCompile(s.release)).AnyTimes()
}

func (s *RoutingSuite) do(method string, path string, body string) (*http.Response, []byte) {
	request, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	s.Require().NoError(err)

	response, err := s.server.Client().Do(request)
	s.Require().NoError(err)

	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	s.Require().NoError(err)

	return response, data
}

func (s *RoutingSuite) submit(body string) uuid.UUID {
	response, data := s.do(http.MethodPost, "/compile", body)
	s.Require().Equal(http.StatusOK, response.StatusCode, string(data))

	var id string
	s.Require().NoError(json.Unmarshal(data, &id))

	parsed, err := uuid.Parse(id)
	s.Require().NoError(err)

	return parsed
}

func (s *RoutingSuite) await(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.manager.Await(ctx, id)
	s.Require().NoError(err)
}

func (s *RoutingSuite) TestVersion() {
	s.compiler.EXPECT().Version(gomock.Any()).Return("0.3.10+commit.91361694", nil)

	response, data := s.do(http.MethodGet, "/", "")

	s.Equal(http.StatusOK, response.StatusCode)
	s.Equal("Vyper Compiler. Version: 0.3.10+commit.91361694 \n", string(data))
}

func (s *RoutingSuite) TestVersionUnavailable() {
	s.compiler.EXPECT().Version(gomock.Any()).Return("", errors.New("vyper: not found"))

	response, _ := s.do(http.MethodGet, "/", "")
	s.Equal(http.StatusBadGateway, response.StatusCode)
}

func (s *RoutingSuite) TestCompileSuccess() {
	s.expectCompiles()

	id := s.submit(compileBody(map[string]string{"a.vy": validSource}))
	s.await(id)

	response, data := s.do(http.MethodGet, "/status/"+id.String(), "")
	s.Equal(http.StatusOK, response.StatusCode)
	s.Equal("SUCCESS", string(data))

	response, data = s.do(http.MethodGet, "/artifacts/"+id.String(), "")
	s.Equal(http.StatusOK, response.StatusCode)

	var payload map[string]any
	s.Require().NoError(json.Unmarshal(data, &payload))

	s.Equal("success", payload["status"])

	for _, key := range []string{"abi", "bytecode", "bytecode_runtime", "ir", "method_identifiers"} {
		s.Contains(payload, key)
	}

	s.NotContains(payload, "contracts")

	s.Run("should answer lookups identically", func() {
		_, again := s.do(http.MethodGet, "/artifacts/"+id.String(), "")
		s.Equal(data, again)
	})
}

func (s *RoutingSuite) TestCompileMultipleUnits() {
	s.expectCompiles()

	body := `{"sources": {"b.vy": {"content": "x: uint256"}, "a.vy": {"content": "y: uint256"}}, "entrypoint": "b.vy"}`
	id := s.submit(body)
	s.await(id)

	_, data := s.do(http.MethodGet, "/artifacts/"+id.String(), "")

	var payload struct {
		Contracts map[string]json.RawMessage `json:"contracts"`
	}

	s.Require().NoError(json.Unmarshal(data, &payload))
	s.Len(payload.Contracts, 2)
}

func (s *RoutingSuite) TestCompileRejectedSource() {
	s.expectCompiles()

	id := s.submit(compileBody(map[string]string{"a.vy": invalidSource}))
	s.await(id)

	response, data := s.do(http.MethodGet, "/status/"+id.String(), "")
	s.Equal(http.StatusOK, response.StatusCode)
	s.Equal("FAILED", string(data))

	response, data = s.do(http.MethodGet, "/artifacts/"+id.String(), "")
	s.Equal(http.StatusBadRequest, response.StatusCode)
	s.JSONEq(`{"status":"failed","message":"invalid syntax","line":1,"column":0}`, string(data))
}

func (s *RoutingSuite) TestCompileWait() {
	s.expectCompiles()

	response, data := s.do(http.MethodPost, "/compile?wait=true", compileBody(map[string]string{"a.vy": invalidSource}))
	s.Equal(http.StatusBadRequest, response.StatusCode)

	var id string
	s.Require().NoError(json.Unmarshal(data, &id))

	_, status := s.do(http.MethodGet, "/status/"+id, "")
	s.Equal("FAILED", string(status))
}

func (s *RoutingSuite) TestCompileInvalidRequests() {
	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "empty sources", body: `{"sources": {}}`, code: http.StatusBadRequest},
		{name: "missing sources", body: `{}`, code: http.StatusBadRequest},
		{name: "empty content", body: `{"sources": {"a.vy": {"content": ""}}}`, code: http.StatusBadRequest},
		{name: "empty unit name", body: `{"sources": {"": {"content": "x: uint256"}}}`, code: http.StatusBadRequest},
		{name: "content not a string", body: `{"sources": {"a.vy": {"content": 7}}}`, code: http.StatusBadRequest},
		{name: "unknown entrypoint", body: `{"sources": {"a.vy": {"content": "x"}}, "entrypoint": "b.vy"}`, code: http.StatusBadRequest},
		{name: "malformed json", body: `{"sources": `, code: http.StatusBadRequest},
		{name: "bad syntax", body: `{"sources" 1}`, code: http.StatusBadRequest},
		{name: "empty body", body: ``, code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			response, data := s.do(http.MethodPost, "/compile", tt.body)
			s.Equal(tt.code, response.StatusCode, string(data))

			var payload CompileErrorResponse
			s.Require().NoError(json.Unmarshal(data, &payload))
			s.Equal("failed", payload.Status)
			s.NotEmpty(payload.Message)
		})
	}

	s.Equal(0, s.pool.QueueDepth())
}

func (s *RoutingSuite) TestPending() {
	s.release = make(chan struct{})
	s.expectCompiles()

	id := s.submit(compileBody(map[string]string{"a.vy": validSource}))

	response, data := s.do(http.MethodGet, "/status/"+id.String(), "")
	s.Equal(http.StatusOK, response.StatusCode)
	s.Equal("PENDING", string(data))

	response, data = s.do(http.MethodGet, "/artifacts/"+id.String(), "")
	s.Equal(http.StatusAccepted, response.StatusCode)
	s.JSONEq(`{"status":"pending"}`, string(data))

	response, _ = s.do(http.MethodGet, "/artifacts/"+id.String()+"/bytecode", "")
	s.Equal(http.StatusNotFound, response.StatusCode)
}

func (s *RoutingSuite) TestUnknownIDs() {
	for _, path := range []string{
		"/status/" + uuid.NewString(),
		"/artifacts/" + uuid.NewString(),
		"/artifacts/" + uuid.NewString() + "/bytecode",
		"/status/not-a-uuid",
		"/artifacts/not-a-uuid",
		"/ws/" + uuid.NewString(),
	} {
		response, data := s.do(http.MethodGet, path, "")
		s.Equal(http.StatusNotFound, response.StatusCode, path)
		s.Equal("NOT FOUND", string(data), path)
	}
}

func (s *RoutingSuite) TestArtifactFile() {
	s.expectCompiles()

	id := s.submit(compileBody(map[string]string{"a.vy": validSource}))
	s.await(id)

	response, data := s.do(http.MethodGet, "/artifacts/"+id.String()+"/bytecode_runtime", "")
	s.Equal(http.StatusOK, response.StatusCode)
	s.Equal("0x6101", string(data))

	response, data = s.do(http.MethodGet, "/artifacts/"+id.String()+"/method_identifiers.json", "")
	s.Equal(http.StatusOK, response.StatusCode)
	s.Equal("application/json", response.Header.Get("Content-Type"))
	s.JSONEq(`{"f()":"0x26121ff0"}`, string(data))

	response, _ = s.do(http.MethodGet, "/artifacts/"+id.String()+"/source.vy", "")
	s.Equal(http.StatusNotFound, response.StatusCode)
}

func (s *RoutingSuite) TestArtifactFileFromArchive() {
	handler, err := files.NewFilesHandler(&files.Config{Local: &files.LocalConfig{LocalRootPath: s.T().TempDir()}})
	s.Require().NoError(err)

	s.manager = manager.New(&manager.Config{Store: jobs.NewMemoryStore(), Pool: s.pool, Files: handler})
	s.handlers.Manager = s.manager
	s.handlers.FileHandler = handler

	s.expectCompiles()

	id := s.submit(compileBody(map[string]string{"a.vy": validSource}))
	s.await(id)

	response, data := s.do(http.MethodGet, "/artifacts/"+id.String()+"/ir", "")
	s.Equal(http.StatusOK, response.StatusCode)
	s.Equal("[seq, [return, 0, [lll, 0]]]", string(data))
}

func (s *RoutingSuite) TestCors() {
	s.Run("should answer preflight requests", func() {
		request, err := http.NewRequest(http.MethodOptions, s.server.URL+"/compile", nil)
		s.Require().NoError(err)

		request.Header.Set("Origin", "https://remix.ethereum.org")
		request.Header.Set("Access-Control-Request-Method", http.MethodPost)
		request.Header.Set("Access-Control-Request-Headers", "Content-Type")

		response, err := s.server.Client().Do(request)
		s.Require().NoError(err)
		defer response.Body.Close()

		s.Equal(http.StatusOK, response.StatusCode)
		s.Equal("*", response.Header.Get("Access-Control-Allow-Origin"))
		s.Equal("86400", response.Header.Get("Access-Control-Max-Age"))
	})

	s.Run("should answer options without an origin", func() {
		response, _ := s.do(http.MethodOptions, "/any/path", "")

		s.Equal(http.StatusOK, response.StatusCode)
		s.Equal("*", response.Header.Get("Access-Control-Allow-Origin"))
		s.Equal("POST, GET, OPTIONS", response.Header.Get("Access-Control-Allow-Methods"))
	})

	s.Run("should allow cross origin lookups", func() {
		request, err := http.NewRequest(http.MethodGet, s.server.URL+"/status/"+uuid.NewString(), nil)
		s.Require().NoError(err)
		request.Header.Set("Origin", "https://remix.ethereum.org")

		response, err := s.server.Client().Do(request)
		s.Require().NoError(err)
		defer response.Body.Close()

		s.Equal("*", response.Header.Get("Access-Control-Allow-Origin"))
	})
}

func (s *RoutingSuite) TestWebsocket() {
	s.release = make(chan struct{})
	s.expectCompiles()

	id := s.submit(compileBody(map[string]string{"a.vy": validSource}))

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/" + id.String()
	conn, response, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()

	s.Equal(http.StatusSwitchingProtocols, response.StatusCode)

	close(s.release)
	s.release = nil

	var message CompletionMessage
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	s.Require().NoError(conn.ReadJSON(&message))

	s.Equal(id.String(), message.ID)
	s.Equal(jobs.Succeeded, message.State)
	s.Equal("SUCCESS", message.Status)
	s.Equal("0x6100", message.Outcome.Bytecode)

	_, _, err = conn.ReadMessage()
	s.True(websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func (s *RoutingSuite) TestMetrics() {
	response, data := s.do(http.MethodGet, "/metrics", "")

	s.Equal(http.StatusOK, response.StatusCode)
	s.Contains(string(data), "vyper_compile_submitted_total")
}

func TestRoutingSuite(t *testing.T) {
	suite.Run(t, new(RoutingSuite))
}

type fakeManager struct {
	submitErr error
	panics    bool
}

func (f *fakeManager) Submit(context.Context, *compiler.Request) (uuid.UUID, error) {
	return uuid.Nil, f.submitErr
}

func (f *fakeManager) Await(context.Context, uuid.UUID) (*jobs.Record, error) {
	return nil, jobs.ErrNotFound
}

func (f *fakeManager) Lookup(context.Context, uuid.UUID) (*jobs.Record, error) {
	if f.panics {
		panic("store exploded")
	}

	return nil, jobs.ErrNotFound
}

func newFakeRouter(m JobManager) http.Handler {
	validate, translator := validation.New()

	return NewRouter(&CompilerHandlers{
		Manager:    m,
		Translator: translator,
		Validator:  validate,
	})
}

func TestCompileServerBusy(t *testing.T) {
	for _, err := range []error{worker.ErrQueueFull, worker.ErrPoolStopped} {
		router := newFakeRouter(&fakeManager{submitErr: errors.Wrap(err, "failed to queue compilation")})

		recorder := httptest.NewRecorder()
		body := bytes.NewBufferString(compileBody(map[string]string{"a.vy": validSource}))
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/compile", body))

		assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
		assert.JSONEq(t, `{"status":"failed","message":"server is busy"}`, recorder.Body.String())
	}
}

func TestCompileOversizedBody(t *testing.T) {
	router := newFakeRouter(&fakeManager{})

	body := `{"sources": {"a.vy": {"content": "` + strings.Repeat("a", maxRequestBytes) + `"}}}`

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/compile", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, recorder.Code)
}

func TestHandlerPanic(t *testing.T) {
	router := newFakeRouter(&fakeManager{panics: true})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/status/"+uuid.NewString(), nil))

	require.Equal(t, http.StatusInternalServerError, recorder.Code)

	t.Run("should keep serving", func(t *testing.T) {
		router := newFakeRouter(&fakeManager{})

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/status/"+uuid.NewString(), nil))

		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})
}
