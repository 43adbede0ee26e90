package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brunobiangulo/petnlp"
	"github.com/brunobiangulo/petnlp/document"
	"github.com/brunobiangulo/petnlp/results"
	"github.com/brunobiangulo/petnlp/schema"
	"github.com/brunobiangulo/petnlp/store"
)

// maxBodyBytes bounds request bodies; retraining batches are the largest.
const maxBodyBytes = 64 << 20

type handler struct {
	engine petnlp.Engine
}

func newHandler(e petnlp.Engine) *handler {
	return &handler{engine: e}
}

// POST /annotate
// Body: {"text": "...", "option": "NoAI|BadAI|AverageAI|GoodAI|<model>"}.
// Responds with the annotated document in the revised format.
func (h *handler) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Text   string `json:"text"`
		Option string `json:"option"`
		Name   string `json:"name,omitempty"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected JSON with 'text' and 'option'")
		return
	}

	var opts []petnlp.AnnotateOption
	if req.Option != "" {
		opts = append(opts, petnlp.WithModel(petnlp.ModelForOption(req.Option)))
	}
	if req.Name != "" {
		opts = append(opts, petnlp.WithDocumentName(req.Name))
	}

	doc, err := h.engine.Annotate(ctx, req.Text, opts...)
	if err != nil {
		writeEngineError(w, "annotation failed", err)
		return
	}

	data, err := schema.MarshalRevised(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode document")
		slog.Error("encoding annotated document", "error", err)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// POST /retrain?format=revised|pet
// Body: corrected documents (array, JSON lines or a single object).
func (h *handler) handleRetrain(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	docs, ok := readDocuments(w, r)
	if !ok {
		return
	}

	n, err := h.engine.Retrain(ctx, docs)
	if err != nil {
		writeEngineError(w, "retraining failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("Completed retraining successful! Number of documents: %d", n),
		"documents": n,
	})
}

// POST /evaluate?model=<name>&format=revised|pet
// Body: annotated documents to score the model against.
func (h *handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	model := r.URL.Query().Get("model")
	if model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	docs, ok := readDocuments(w, r)
	if !ok {
		return
	}

	ev, err := h.engine.Evaluate(ctx, petnlp.ModelForOption(model), docs)
	if err != nil {
		writeEngineError(w, "evaluation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// GET /results/{user}/{task}
func (h *handler) handleGetResults(w http.ResponseWriter, r *http.Request) {
	records, err := h.engine.Results().Read(r.PathValue("user"), r.PathValue("task"))
	if err != nil {
		writeResultsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// POST /results/{user}/{task}
// Body: any JSON value, appended to the user's task file.
func (h *handler) handleAppendResult(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}

	n, err := h.engine.Results().Append(r.PathValue("user"), r.PathValue("task"), json.RawMessage(body))
	if err != nil {
		writeResultsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "count": n})
}

// GET /documents?limit=N&format=revised|pet
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	format, ok := formatParam(w, r)
	if !ok {
		return
	}

	docs, err := h.engine.ListDocuments(r.Context(), limit)
	if err != nil {
		writeEngineError(w, "failed to list documents", err)
		return
	}

	var buf bytes.Buffer
	if err := schema.Write(&buf, format, docs); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode documents")
		slog.Error("encoding documents", "error", err)
		return
	}
	writeRaw(w, http.StatusOK, buf.Bytes())
}

// GET /documents/{id}?format=revised|pet
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	format, ok := formatParam(w, r)
	if !ok {
		return
	}
	doc, err := h.engine.Document(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, "failed to load document", err)
		return
	}

	var buf bytes.Buffer
	if err := schema.Write(&buf, format, []*document.Document{doc}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode document")
		slog.Error("encoding document", "id", doc.ID, "error", err)
		return
	}
	writeRaw(w, http.StatusOK, buf.Bytes())
}

// GET /status
func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Status(r.Context())
	if err != nil {
		writeEngineError(w, "failed to read status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /runs?limit=N
func (h *handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := h.engine.Runs(r.Context(), limit)
	if err != nil {
		writeEngineError(w, "failed to read run log", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GET /models
func (h *handler) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.engine.Models()})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	trained := 0
	for _, m := range h.engine.Models() {
		if m.Trained {
			trained++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"trained_models": trained,
	})
}

func formatParam(w http.ResponseWriter, r *http.Request) (schema.Format, bool) {
	name := r.URL.Query().Get("format")
	if name == "" {
		return schema.FormatRevised, true
	}
	f, err := schema.ParseFormat(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return f, true
}

func readDocuments(w http.ResponseWriter, r *http.Request) ([]*document.Document, bool) {
	format, ok := formatParam(w, r)
	if !ok {
		return nil, false
	}
	docs, err := schema.Read(http.MaxBytesReader(w, r.Body, maxBodyBytes), format)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid documents: %v", err))
		return nil, false
	}
	if len(docs) == 0 {
		writeError(w, http.StatusBadRequest, "no documents")
		return nil, false
	}
	return docs, true
}

// writeEngineError maps engine errors to status codes. Client errors are
// echoed, anything else is logged and reported as msg.
func writeEngineError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, petnlp.ErrEmptyText),
		errors.Is(err, petnlp.ErrUnknownModel),
		errors.Is(err, petnlp.ErrNoDocuments),
		errors.Is(err, document.ErrOutOfRange),
		errors.Is(err, document.ErrInconsistent),
		errors.Is(err, document.ErrNoEntity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, petnlp.ErrModelNotTrained):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, msg+": timed out")
	default:
		writeError(w, http.StatusInternalServerError, msg)
		slog.Error(msg, "error", err)
	}
}

func writeResultsError(w http.ResponseWriter, err error) {
	if errors.Is(err, results.ErrInvalidKey) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "result storage failed")
	slog.Error("result storage error", "error", err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
