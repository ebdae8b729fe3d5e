package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"harvester/internal/httpx"
	"harvester/internal/rawstore"
)

// Runner is the part of Service the handler needs.
type Runner interface {
	Run(ctx context.Context, opts Options) (*Dataset, error)
	Latest() (string, *Dataset, error)
}

type HTTPHandler struct {
	svc Runner
}

func NewHTTPHandler(svc Runner) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// Routes registers the handler under /internal/jobs/harvest. The caller is
// expected to wrap the mux with httpx.InternalSecretMiddleware.
func (h *HTTPHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/jobs/harvest", h.Trigger)
	mux.HandleFunc("GET /internal/jobs/harvest/latest", h.Latest)
}

// Trigger handles POST /internal/jobs/harvest. The optional JSON body holds
// Options; the response is the run summary. resume_from must name a failure
// file in the raw directory, never a path.
func (h *HTTPHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var opts Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if opts.ResumeFrom != "" && !rawstore.IsFailedName(opts.ResumeFrom) {
		httpx.JSONError(w, r, http.StatusBadRequest, "INVALID_RESUME_FILE", "resume_from must be a failed_ids_<timestamp>.json file name")
		return
	}

	ds, err := h.svc.Run(r.Context(), opts)
	switch {
	case errors.Is(err, ErrRunInProgress):
		httpx.JSONError(w, r, http.StatusConflict, "HARVEST_RUNNING", err.Error())
		return
	case errors.Is(err, ErrUnknownSource):
		httpx.JSONError(w, r, http.StatusBadRequest, "UNKNOWN_SOURCE", err.Error())
		return
	case err != nil && ds == nil:
		httpx.JSONError(w, r, http.StatusInternalServerError, "HARVEST_FAILED", err.Error())
		return
	case err != nil:
		httpx.JSONError(w, r, http.StatusInternalServerError, "HARVEST_NOT_PERSISTED", err.Error())
		return
	}

	httpx.JSONSuccess(w, r, ds.Summary)
}

// Latest handles GET /internal/jobs/harvest/latest.
func (h *HTTPHandler) Latest(w http.ResponseWriter, r *http.Request) {
	path, ds, err := h.svc.Latest()
	if errors.Is(err, rawstore.ErrNotFound) {
		httpx.JSONError(w, r, http.StatusNotFound, "NOT_FOUND", "no dataset has been written yet")
		return
	}
	if err != nil {
		httpx.JSONError(w, r, http.StatusInternalServerError, "LATEST_FAILED", err.Error())
		return
	}

	httpx.JSONSuccess(w, r, map[string]any{
		"path":    path,
		"summary": ds.Summary,
	})
}
