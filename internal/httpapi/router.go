package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kinobot/internal/campaign"
	"kinobot/internal/observability"
	"kinobot/internal/runtime/supervisor"
	"kinobot/internal/storage"
	logx "kinobot/pkg/logx"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100

	// ActorHTTP is the audit actor id for actions taken through this API.
	ActorHTTP int64 = 0
)

// Campaigns is the read/cancel surface of the campaign coordinator.
type Campaigns interface {
	History(ctx context.Context, limit int) ([]storage.Campaign, error)
	Get(ctx context.Context, id int64) (storage.Campaign, bool, error)
	Stats(ctx context.Context) (campaign.Stats, error)
	Cancel(ctx context.Context, id int64) bool
	ActiveIDs() []int64
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Deps struct {
	Campaigns Campaigns
	// Snapshot reports process goroutines for /healthz; optional.
	Snapshot func() supervisor.Snapshot
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	// Audit records cancels; optional.
	Audit Auditor
	Log   logx.Logger
}

// NewRouter builds the ops API. A non-empty token protects everything except /healthz.
func NewRouter(token string, pprof bool, d Deps) http.Handler {
	g := d.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &handlers{d: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(countRequests)

	r.Get("/healthz", h.health)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))
		r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
		r.Route("/v1/campaigns", func(r chi.Router) {
			r.Get("/", h.list)
			r.Get("/stats", h.stats)
			r.Get("/{id}", h.get)
			r.Post("/{id}/cancel", h.cancel)
		})
		if pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

type handlers struct{ d Deps }

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"ok":               true,
		"active_campaigns": h.d.Campaigns.ActiveIDs(),
	}
	if h.d.Snapshot != nil {
		out["supervisor"] = h.d.Snapshot()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	list, err := h.d.Campaigns.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []storage.Campaign{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.d.Campaigns.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	c, found, err := h.d.Campaigns.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	ok = h.d.Campaigns.Cancel(r.Context(), id)
	if h.d.Audit != nil {
		e := storage.AuditEntry{
			At:      time.Now(),
			ActorID: ActorHTTP,
			Action:  "broadcast.cancel",
			Target:  strconv.FormatInt(id, 10),
			OK:      ok,
		}
		if !ok {
			e.Error = "not running"
		}
		if err := h.d.Audit.AppendAudit(r.Context(), e); err != nil {
			h.d.Log.Warn("audit append failed", logx.String("action", e.Action), logx.String("req", middleware.GetReqID(r.Context())), logx.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func campaignID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
					got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
				}
			}
			if got != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
