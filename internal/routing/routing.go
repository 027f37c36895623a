package routing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// maxRequestBytes is the largest compile request body accepted.
const maxRequestBytes = 1_048576 * 2

const notFoundText = "NOT FOUND"

// NewRouter registers every route of the compiler api and wraps them with
// the cors, recovery, compression and access log middleware.
func NewRouter(h *CompilerHandlers) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", h.HandleVersion).Methods(http.MethodGet)
	r.HandleFunc("/compile", h.HandleCompile).Methods(http.MethodPost)
	r.HandleFunc("/status/{id}", h.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/artifacts/{id}", h.HandleArtifacts).Methods(http.MethodGet)
	r.HandleFunc("/artifacts/{id}/{name}", h.HandleArtifactFile).Methods(http.MethodGet)
	r.HandleFunc("/ws/{id}", h.HandleWebsocket).Methods(http.MethodGet)

	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.PathPrefix("/").HandlerFunc(handleOptions).Methods(http.MethodOptions)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodPost, http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type"}),
		handlers.IgnoreOptions(),
	)

	return handlers.CustomLoggingHandler(io.Discard,
		handlers.RecoveryHandler(
			handlers.RecoveryLogger(recoveryLogger{}),
		)(cors(handlers.CompressHandler(r))),
		logFormatter)
}

// handleOptions answers every preflight request, with or without an origin.
func handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "X-Requested-With, Content-Type")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusOK)
}

func logFormatter(_ io.Writer, params handlers.LogFormatterParams) {
	log.Info().
		Str("method", params.Request.Method).
		Str("path", params.URL.Path).
		Int("status", params.StatusCode).
		Int("size", params.Size).
		Dur("duration", time.Since(params.TimeStamp)).
		Msg("request")
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error().Msg(fmt.Sprint(v...))
}

func handleJSONResponse(w http.ResponseWriter, body any, code int) {
	response, err := json.Marshal(body)

	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

func handleTextResponse(w http.ResponseWriter, text string, code int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(text))
}

func handleErrorResponse(w http.ResponseWriter, message string, code int, errs ...string) {
	handleJSONResponse(w, CompileErrorResponse{
		Status:  "failed",
		Message: message,
		Errors:  errs,
	}, code)
}

func handleDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var unmarshalTypeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError

	switch {
	case errors.As(err, &syntaxError):
		msg := fmt.Sprintf("Request body contains badly-formed JSON (at position %d)", syntaxError.Offset)
		handleErrorResponse(w, msg, http.StatusBadRequest)

	case errors.Is(err, io.ErrUnexpectedEOF):
		handleErrorResponse(w, "Request body contains badly-formed JSON", http.StatusBadRequest)

	case errors.As(err, &unmarshalTypeError):
		msg := fmt.Sprintf("Request body contains an invalid value for the %q field (at position %d)", unmarshalTypeError.Field, unmarshalTypeError.Offset)
		handleErrorResponse(w, msg, http.StatusBadRequest)

	case errors.Is(err, io.EOF):
		handleErrorResponse(w, "Request body must not be empty", http.StatusBadRequest)

	case errors.As(err, &maxBytesError):
		handleErrorResponse(w, "Request body must not be larger than 2MB", http.StatusRequestEntityTooLarge)

	case strings.HasPrefix(err.Error(), "json: "):
		handleErrorResponse(w, strings.TrimPrefix(err.Error(), "json: "), http.StatusBadRequest)

	default:
		log.Error().Err(err).Msg("failed to read compile request")
		handleErrorResponse(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
