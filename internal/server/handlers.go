package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/engine"
	"github.com/leapstack-labs/leapmetrics/internal/server/notifier"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Handlers provides the API endpoints.
type Handlers struct {
	engine   *engine.Engine
	notifier *notifier.Notifier
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *engine.Engine, n *notifier.Notifier, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{engine: eng, notifier: n, logger: logger}
}

// RegisterRoutes registers every API route except the event stream.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/api/healthz", h.Health)
	r.Post("/api/reload", h.Reload)
	r.Get("/api/validate", h.Validate)
	r.Get("/api/results", h.Results)

	r.Route("/api/metrics", func(r chi.Router) {
		r.Get("/", h.ListMetrics)
		r.Get("/{id}", h.GetMetric)
		r.Get("/{id}/variants", h.MetricVariants)
	})

	r.Route("/api/variants", func(r chi.Router) {
		r.Get("/", h.ListVariants)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetVariant)
			r.Patch("/", h.PatchVariant)
			r.Post("/{action}", h.TransitionVariant)
			r.Get("/dimensions", h.Dimensions)
			r.Get("/dates", h.Dates)
			r.Get("/calculate", h.Calculate)
			r.Get("/explain", h.Explain)
			r.Get("/lineage", h.Lineage)
			r.Get("/dependencies", h.Dependencies)
			r.Get("/dependencies/graph", h.DependencyGraph)
		})
	})
}

// ============================================================================
// Responses
// ============================================================================

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string    `json:"error"`
	ErrorKind core.Kind `json:"errorKind"`
	Retryable bool      `json:"retryable,omitempty"`
	Path      []string  `json:"path,omitempty"`
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind core.Kind) int {
	switch kind {
	case core.KindNotFound, core.KindNoData:
		return http.StatusNotFound
	case core.KindUnsupportedDimension:
		return http.StatusBadRequest
	case core.KindValidation, core.KindCyclicDependency:
		return http.StatusUnprocessableEntity
	case core.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	status := StatusFor(kind)
	resp := ErrorResponse{Error: err.Error(), ErrorKind: kind, Retryable: core.IsRetryable(err)}
	var ce *core.Error
	if errors.As(err, &ce) {
		resp.Path = ce.Path
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error_kind", kind, "error", err)
	}
	h.writeJSON(w, status, resp)
}

func dimensionParam(r *http.Request) (core.Dimension, error) {
	raw := r.URL.Query().Get("dimension")
	if raw == "" {
		return core.DimFacility, nil
	}
	d, err := core.ParseDimension(raw)
	if err != nil {
		return "", core.Wrap(core.KindUnsupportedDimension, chi.URLParam(r, "id"), err, "invalid dimension")
	}
	return d, nil
}

// ============================================================================
// Catalog
// ============================================================================

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Reload re-reads the catalog and dictionary files.
func (h *Handlers) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reload(r.Context()); err != nil {
		h.notifier.Publish(notifier.Event{Kind: notifier.EventReloadFailed, Error: err.Error()})
		h.writeError(w, r, err)
		return
	}
	h.notifier.Publish(notifier.Event{Kind: notifier.EventReloaded})
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// ListMetrics returns every parent metric.
func (h *Handlers) ListMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.engine.Catalog().ListMetrics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, metrics)
}

// GetMetric returns one parent metric.
func (h *Handlers) GetMetric(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.Catalog().GetMetric(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

// MetricVariants returns the variants of a parent metric.
func (h *Handlers) MetricVariants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.engine.Catalog().GetMetric(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	variants, err := h.engine.Catalog().VariantsOf(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, nonNil(variants))
}

// ListVariants returns every variant, optionally filtered by ?status= and ?metric=.
func (h *Handlers) ListVariants(w http.ResponseWriter, r *http.Request) {
	variants, err := h.engine.Catalog().ListVariants(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := core.VariantStatus(strings.ToUpper(r.URL.Query().Get("status")))
	metric := r.URL.Query().Get("metric")
	out := make([]*core.Variant, 0, len(variants))
	for _, v := range variants {
		if status != "" && v.Status != status {
			continue
		}
		if metric != "" && v.ParentMetricID != metric {
			continue
		}
		out = append(out, v)
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetVariant returns one variant.
func (h *Handlers) GetVariant(w http.ResponseWriter, r *http.Request) {
	v, err := h.engine.Catalog().GetVariant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

// PatchVariant applies a strict partial update.
func (h *Handlers) PatchVariant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := catalog.DecodeVariantPatch(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.engine.Catalog().PatchVariant(r.Context(), id, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.notifier.Publish(notifier.Event{Kind: notifier.EventVariant, ID: id})
	h.writeJSON(w, http.StatusOK, v)
}

// transitionRequest is the optional body of a lifecycle action.
type transitionRequest struct {
	SupersededBy string `json:"superseded_by"`
	Revision     int64  `json:"revision"`
}

// TransitionVariant applies a lifecycle action.
func (h *Handlers) TransitionVariant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	action, err := catalog.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, core.Wrap(core.KindValidation, id, err, "invalid request body"))
		return
	}
	v, err := h.engine.Catalog().Transition(r.Context(), id, action, catalog.TransitionOptions{
		SupersededBy:     body.SupersededBy,
		ExpectedRevision: body.Revision,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.notifier.Publish(notifier.Event{Kind: notifier.EventVariant, ID: id})
	h.writeJSON(w, http.StatusOK, v)
}

// ============================================================================
// Calculation
// ============================================================================

// Dimensions returns the dimensions a variant may be computed at.
func (h *Handlers) Dimensions(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Dimensions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// Dates returns the snapshot dates available at ?dimension=.
func (h *Handlers) Dates(w http.ResponseWriter, r *http.Request) {
	dim, err := dimensionParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dates, err := h.engine.Dates(r.Context(), chi.URLParam(r, "id"), dim)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"dimension": dim, "dates": nonNil(dates)})
}

// Calculate computes a variant at ?dimension= and optional ?as_of=. Failures
// carry the RunOutput body with the mapped status.
func (h *Handlers) Calculate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dim, err := dimensionParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := h.engine.Calculate(r.Context(), core.CalcRequest{
		VariantID: id,
		Dimension: dim,
		AsOfDate:  r.URL.Query().Get("as_of"),
	})
	status := http.StatusOK
	if !out.OK {
		status = StatusFor(out.ErrorKind)
	}
	h.writeJSON(w, status, out)
}

// Explain returns the evaluation plan of a variant at ?dimension=.
func (h *Handlers) Explain(w http.ResponseWriter, r *http.Request) {
	dim, err := dimensionParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ex, err := h.engine.Explain(r.Context(), chi.URLParam(r, "id"), dim)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ex)
}

// ============================================================================
// Lineage and dependencies
// ============================================================================

// Lineage returns the lineage graph of a variant.
func (h *Handlers) Lineage(w http.ResponseWriter, r *http.Request) {
	g, err := h.engine.Lineage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, g)
}

// Dependencies returns the direct upstream and downstream of a variant.
func (h *Handlers) Dependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := h.engine.Dependencies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deps)
}

// DependencyGraph returns the dependency graph within ?depth= hops
// (default unlimited).
func (h *Handlers) DependencyGraph(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	depth := -1
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, core.Wrap(core.KindValidation, id, err, "invalid depth"))
			return
		}
		depth = n
	}
	view, err := h.engine.DependencyView(r.Context(), id, depth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// ============================================================================
// Validation and results
// ============================================================================

// Validate checks catalog content. ?variant= may repeat; ?approval=true
// applies the activation checks.
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	approval, _ := strconv.ParseBool(q.Get("approval"))
	issues, err := h.engine.Validate(r.Context(), engine.ValidateOptions{
		VariantIDs: q["variant"],
		Approval:   approval,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": len(issues) == 0, "issues": nonNil(issues)})
}

// Results returns stored batch results for ?run_version= and ?as_of=.
func (h *Handlers) Results(w http.ResponseWriter, r *http.Request) {
	store := h.engine.Results()
	if store == nil {
		h.writeJSON(w, http.StatusNotImplemented, ErrorResponse{
			Error:     "no state database configured",
			ErrorKind: core.KindConfig,
		})
		return
	}
	q := r.URL.Query()
	runVersion, asOf := q.Get("run_version"), q.Get("as_of")
	if runVersion == "" || asOf == "" {
		h.writeError(w, r, core.Errorf(core.KindValidation, "", "run_version and as_of are required"))
		return
	}
	if err := core.ValidateAsOfDate(asOf); err != nil {
		h.writeError(w, r, err)
		return
	}
	results, err := store.ListResults(r.Context(), runVersion, asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, nonNil(results))
}

// ============================================================================
// Events
// ============================================================================

// Events streams catalog change events as server-sent events.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.notifier.Subscribe()
	defer h.notifier.Unsubscribe(ch)

	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
