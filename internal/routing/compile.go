package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"vyper-compiler-api/internal/compiler"
	"vyper-compiler-api/internal/files"
	"vyper-compiler-api/internal/jobs"
	"vyper-compiler-api/internal/manager"
	"vyper-compiler-api/internal/metrics"
	"vyper-compiler-api/internal/validation"
	"vyper-compiler-api/internal/worker"
)

// JobManager is the job lifecycle the handlers drive.
type JobManager interface {
	Submit(ctx context.Context, request *compiler.Request) (uuid.UUID, error)
	Await(ctx context.Context, id uuid.UUID) (*jobs.Record, error)
	Lookup(ctx context.Context, id uuid.UUID) (*jobs.Record, error)
}

type CompilerHandlers struct {
	Manager  JobManager
	Compiler compiler.Compiler
	// FileHandler serves archived artifacts, the stored outcome is used when
	// it is nil.
	FileHandler files.Files
	Metrics     *metrics.Metrics
	Translator  ut.Translator
	Validator   *validator.Validate
}

func (h *CompilerHandlers) HandleVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.Compiler.Version(r.Context())

	if err != nil {
		log.Error().Err(err).Msg("failed to read compiler version")
		handleTextResponse(w, "failed to read compiler version\n", http.StatusBadGateway)

		return
	}

	handleTextResponse(w, fmt.Sprintf("Vyper Compiler. Version: %s \n", version), http.StatusOK)
}

func (h *CompilerHandlers) HandleCompile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var request CompileRequest

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		handleDecodeError(w, err)
		return
	}

	if err := h.Validator.Struct(request); err != nil {
		errs := validation.TranslateError(err, h.Translator)
		handleErrorResponse(w, strings.Join(errs, ", "), http.StatusBadRequest, errs...)

		return
	}

	if _, ok := request.Sources[request.Entrypoint]; request.Entrypoint != "" && !ok {
		handleErrorResponse(w, fmt.Sprintf("entrypoint %s is not one of the sources", request.Entrypoint), http.StatusBadRequest)
		return
	}

	id, err := h.Manager.Submit(r.Context(), request.toCompilerRequest())

	if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrPoolStopped) {
		handleErrorResponse(w, "server is busy", http.StatusServiceUnavailable)
		return
	}

	if err != nil {
		log.Error().Err(err).Msg("failed to submit compilation")
		handleErrorResponse(w, "failed to submit compilation", http.StatusInternalServerError)

		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		handleJSONResponse(w, id.String(), http.StatusOK)
		return
	}

	record, err := h.Manager.Await(r.Context(), id)

	if err != nil {
		log.Warn().Err(err).Str("id", id.String()).Msg("stopped waiting for compilation")
		handleJSONResponse(w, id.String(), http.StatusOK)

		return
	}

	handleJSONResponse(w, id.String(), record.HTTPStatus)
}

func (h *CompilerHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	record, ok := h.lookup(w, r)

	if !ok {
		return
	}

	handleTextResponse(w, record.State.Status(), http.StatusOK)
}

func (h *CompilerHandlers) HandleArtifacts(w http.ResponseWriter, r *http.Request) {
	record, ok := h.lookup(w, r)

	if !ok {
		return
	}

	if !record.State.Terminal() {
		handleJSONResponse(w, PendingResponse{Status: "pending"}, http.StatusAccepted)
		return
	}

	handleJSONResponse(w, record.Outcome, record.HTTPStatus)
}

func (h *CompilerHandlers) HandleArtifactFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	extract, known := manager.ArtifactNames[name]

	if !known {
		handleTextResponse(w, notFoundText, http.StatusNotFound)
		return
	}

	record, ok := h.lookup(w, r)

	if !ok {
		return
	}

	if record.State != jobs.Succeeded {
		handleTextResponse(w, notFoundText, http.StatusNotFound)
		return
	}

	data, err := h.artifactFile(record, name, extract)

	if errors.Is(err, files.ErrNotFound) {
		handleTextResponse(w, notFoundText, http.StatusNotFound)
		return
	}

	if err != nil {
		log.Error().Err(err).Str("id", record.ID.String()).Str("name", name).Msg("failed to read artifact")
		handleTextResponse(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

		return
	}

	contentType := "text/plain; charset=utf-8"

	if strings.HasSuffix(name, ".json") {
		contentType = "application/json"
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *CompilerHandlers) artifactFile(record *jobs.Record, name string, extract func(*compiler.Artifacts) ([]byte, error)) ([]byte, error) {
	if h.FileHandler != nil {
		return h.FileHandler.GetFile(record.ID.String(), name)
	}

	return extract(record.Outcome.Artifacts)
}

// lookup resolves the {id} route variable to its record, answering with not
// found when the id is malformed or unknown.
func (h *CompilerHandlers) lookup(w http.ResponseWriter, r *http.Request) (*jobs.Record, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])

	if err != nil {
		handleTextResponse(w, notFoundText, http.StatusNotFound)
		return nil, false
	}

	record, err := h.Manager.Lookup(r.Context(), id)

	if errors.Is(err, jobs.ErrNotFound) {
		handleTextResponse(w, notFoundText, http.StatusNotFound)
		return nil, false
	}

	if err != nil {
		log.Error().Err(err).Str("id", id.String()).Msg("failed to look up compilation")
		handleTextResponse(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

		return nil, false
	}

	return record, true
}
