// Package rest exposes the catalog over HTTP. All endpoints require an
// authenticated principal; responses for hidden or unknown resources
// are indistinguishable.
package rest

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/groupgate/groupgate/internal/catalog"
	"github.com/groupgate/groupgate/internal/deferral"
	"github.com/groupgate/groupgate/internal/resolver"
)

// Handler serves the API.
type Handler struct {
	source   catalog.Source
	resolver *resolver.Resolver
	deferrer *deferral.Deferrer
	metrics  *Metrics
	logger   *slog.Logger
}

// NewHandler builds the API handler.
func NewHandler(source catalog.Source, resolver *resolver.Resolver, deferrer *deferral.Deferrer, metrics *Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		source:   source,
		resolver: resolver,
		deferrer: deferrer,
		metrics:  metrics,
		logger:   logger,
	}
}

// Routes returns the fully wired handler, including the health and
// metrics endpoints which bypass authentication.
func (h *Handler) Routes(registry *prometheus.Registry) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/environments", h.listEnvironments)
	api.HandleFunc("GET /api/environments/{env}", h.getEnvironment)
	api.HandleFunc("GET /api/environments/{env}/policy", h.getPolicy)
	api.HandleFunc("GET /api/environments/{env}/status", h.getStatus)
	api.HandleFunc("GET /api/environments/{env}/systems/{sys}", h.getSystem)
	api.HandleFunc("GET /api/environments/{env}/systems/{sys}/groups/{name}", h.getGroup)
	api.HandleFunc("POST /api/environments/{env}/systems/{sys}/groups/{name}", h.postGroup)

	root := http.NewServeMux()
	root.Handle("/api/", h.instrument(PrincipalMiddleware(api)))
	root.Handle("GET /healthz", healthHandler())
	if registry != nil {
		root.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return TraceMiddleware(h.logger)(root)
}

// catalog scopes the catalog to the request's principal.
func (h *Handler) catalog(r *http.Request) (*catalog.Catalog, bool) {
	user, ok := PrincipalFromContext(r.Context())
	if !ok {
		return nil, false
	}
	return catalog.NewCatalog(h.source, h.resolver.Subject(user)), true
}

type environmentInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (h *Handler) listEnvironments(w http.ResponseWriter, r *http.Request) {
	c, ok := h.catalog(r)
	if !ok {
		writeHidden(w)
		return
	}
	headers := c.Environments()
	infos := make([]environmentInfo, 0, len(headers))
	for _, header := range headers {
		infos = append(infos, environmentInfo{Name: header.Name, Description: header.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"environments": infos})
}

type systemInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (h *Handler) getEnvironment(w http.ResponseWriter, r *http.Request) {
	c, ok := h.catalog(r)
	if !ok {
		writeHidden(w)
		return
	}
	env, ok, err := c.Environment(r.Context(), r.PathValue("env"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if !ok {
		writeHidden(w)
		return
	}

	systems, err := env.Systems(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	infos := make([]systemInfo, 0, len(systems))
	for _, system := range systems {
		infos = append(infos, systemInfo{
			Name:        system.Policy().Name(),
			Description: system.Policy().Description(),
		})
	}

	canExport, err := env.CanExport(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	canReconcile, err := env.CanReconcile(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":         env.Policy().Name(),
		"description":  env.Policy().Description(),
		"systems":      infos,
		"canExport":    canExport,
		"canReconcile": canReconcile,
	})
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	c, ok := h.catalog(r)
	if !ok {
		writeHidden(w)
		return
	}
	env, ok, err := c.Environment(r.Context(), r.PathValue("env"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if !ok {
		writeHidden(w)
		return
	}

	doc, err := env.Export(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	text, err := doc.Text()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	metadata := env.Policy().Metadata()
	writeJSON(w, http.StatusOK, map[string]any{
		"policy":       text,
		"source":       metadata.Source,
		"lastModified": metadata.LastModified.Format(time.RFC3339),
	})
}

type complianceInfo struct {
	Group string `json:"group"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := h.catalog(r)
	if !ok {
		writeHidden(w)
		return
	}
	env, ok, err := c.Environment(r.Context(), r.PathValue("env"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if !ok {
		writeHidden(w)
		return
	}

	compliance, err := env.Reconcile(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	infos := make([]complianceInfo, 0, len(compliance))
	for _, entry := range compliance {
		info := complianceInfo{Group: entry.Group.String(), State: string(entry.State)}
		if entry.Err != nil {
			info.Error = entry.Err.Error()
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": infos})
}

func (h *Handler) getSystem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.catalog(r)
	if !ok {
		writeHidden(w)
		return
	}
	env, ok, err := c.Environment(r.Context(), r.PathValue("env"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if !ok {
		writeHidden(w)
		return
	}
	system, ok, err := env.System(r.Context(), r.PathValue("sys"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if !ok {
		writeHidden(w)
		return
	}

	groups, err := system.Groups(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	names := make([]string, 0, len(groups))
	for _, group := range groups {
		names = append(names, group.Policy().Name())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        system.Policy().Name(),
		"description": system.Policy().Description(),
		"groups":      names,
	})
}

// instrument records request count and duration.
func (h *Handler) instrument(next http.Handler) http.Handler {
	if h.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		h.metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(recorder.status)).Inc()
		h.metrics.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
