package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"boardhealth/internal/config"
	"boardhealth/internal/events"
	"boardhealth/internal/ingest"
	"boardhealth/internal/metrics"
	"boardhealth/internal/queue"
	"boardhealth/internal/status"
	"boardhealth/internal/store"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// Router builds HTTP handlers for the dashboard API and /ops.
type Router struct {
	cfg     config.Config
	store   *store.Store
	ingest  *ingest.Service
	queue   *queue.Queue
	metrics *metrics.Metrics
	events  *events.Bus
	log     *zap.Logger
}

func NewRouter(cfg config.Config, st *store.Store, svc *ingest.Service, q *queue.Queue, m *metrics.Metrics, bus *events.Bus, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{cfg: cfg, store: st, ingest: svc, queue: q, metrics: m, events: bus, log: log.Named("http")}
}

// Handler returns a chi router with every route and the standard middleware.
func (r *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(r.accessLog)
	r.Register(mux)
	return mux
}

func (r *Router) Register(mux chi.Router) {
	mux.Get("/dashboard", r.dashboard)
	mux.Post("/dashboard/detail", r.addDetail)
	mux.Delete("/dashboard/detail/{id}", r.deleteDetail)
	mux.Post("/upload", r.upload)

	mux.Route("/ops", func(ops chi.Router) {
		ops.Get("/health", r.health)
		ops.Get("/status", r.status)
		ops.Get("/runs", r.runs)
		if r.events != nil {
			ops.Get("/events", r.streamEvents)
		}
	})
}

type dashboardResponse struct {
	Details  []store.DetailRow  `json:"details"`
	Channels []store.ChannelRow `json:"channels"`
}

func (r *Router) dashboard(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	details, err := r.store.ListDetails(ctx)
	if err == nil {
		var channels []store.ChannelRow
		channels, err = r.store.ListChannels(ctx)
		if err == nil {
			respondJSON(w, http.StatusOK, dashboardResponse{Details: details, Channels: channels})
			return
		}
	}
	r.log.Error("fetch dashboard", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "Error fetching dashboard data")
}

func (r *Router) addDetail(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Details string `json:"Details"`
		Value   string `json:"Value"`
		Status  string `json:"Status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	st, err := status.Parse(body.Status)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid status")
		return
	}
	id, err := r.store.InsertDetail(req.Context(), store.NewDetail{Details: body.Details, Value: body.Value, Status: st.String()})
	if err != nil {
		r.log.Error("insert detail", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Error adding detail")
		return
	}
	r.log.Debug("detail added", zap.Int64("id", id))
	respondMessage(w, http.StatusOK, "Detail added successfully")
}

func (r *Router) deleteDetail(w http.ResponseWriter, req *http.Request) {
	raw := chi.URLParam(req, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// No row can carry a non-integer id, so this is an absent id.
		r.log.Debug("delete with non-integer id", zap.String("id", raw))
		respondMessage(w, http.StatusOK, "Detail deleted successfully")
		return
	}
	affected, err := r.store.DeleteDetail(req.Context(), id)
	if err != nil {
		r.log.Error("delete detail", zap.Int64("id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Error deleting detail")
		return
	}
	r.log.Debug("detail deleted", zap.Int64("id", id), zap.Int64("affected", affected))
	respondMessage(w, http.StatusOK, "Detail deleted successfully")
}

func (r *Router) upload(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxUploadBytes())
	if err := req.ParseMultipartForm(r.cfg.MaxUploadBytes()); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			r.log.Warn("parse upload form", zap.Error(err))
		}
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	report, err := r.ingest.Ingest(req.Context(), file, header.Filename)
	if err != nil {
		r.log.Error("upload ingest", zap.String("file", header.Filename), zap.String("run_id", report.RunID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Error uploading file")
		return
	}
	respondMessage(w, http.StatusOK, "File uploaded successfully")
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Health(req.Context()); err != nil {
		r.log.Warn("health check", zap.Error(err))
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) status(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"ingest":     r.metrics.Snapshot(),
		"classifier": r.ingest.Classifier().Name(),
		"watcher":    r.cfg.WatcherEnabled(),
	}
	if r.queue != nil {
		payload["queue"] = r.queue.Stats()
	}
	respondJSON(w, http.StatusOK, payload)
}

func (r *Router) runs(w http.ResponseWriter, req *http.Request) {
	limit := defaultRunsLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxRunsLimit)
	}
	list, err := r.store.ListRuns(req.Context(), limit)
	if err != nil {
		r.log.Error("list runs", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Error listing runs")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// streamEvents writes one server-sent event per finished ingestion run until
// the client disconnects.
func (r *Router) streamEvents(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	ch, cancel := r.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-req.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				r.log.Warn("encode run event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: run\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (r *Router) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		r.log.Debug("request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(req.Context())))
	})
}

func respondMessage(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"message": msg})
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
