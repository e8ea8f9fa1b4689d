package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"blog_migrator/internal/db"
	"blog_migrator/internal/logger"
	"blog_migrator/internal/metrics"
	"blog_migrator/internal/models"
	"blog_migrator/internal/pipeline"
	"blog_migrator/internal/publisher"
)

const maxListLimit = 500

// Server хранит зависимости HTTP-обработчиков: хранилище, конвейер и метрики.
type Server struct {
	store    db.Store
	pipeline *pipeline.Orchestrator
	metrics  *metrics.Metrics
	maxPosts int
}

// NewServer создаёт новый экземпляр Server.
func NewServer(store db.Store, orch *pipeline.Orchestrator, m *metrics.Metrics, maxPosts int) *Server {
	return &Server{store: store, pipeline: orch, metrics: m, maxPosts: maxPosts}
}

// Routes собирает маршруты и оборачивает их в middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.HealthCheck)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /api/stats", s.GetStats)

	mux.HandleFunc("GET /api/sources", s.ListSources)
	mux.HandleFunc("POST /api/sources", s.CreateSource)
	mux.HandleFunc("DELETE /api/sources/{id}", s.DeleteSource)
	mux.HandleFunc("POST /api/sources/{id}/extract", s.ExtractSource)

	mux.HandleFunc("GET /api/posts", s.ListPosts)
	mux.HandleFunc("GET /api/posts/recent", s.RecentPosts)
	mux.HandleFunc("GET /api/posts/{id}", s.GetPost)
	mux.HandleFunc("DELETE /api/posts/{id}", s.DeletePost)
	mux.HandleFunc("POST /api/posts/rewrite", s.RewritePosts)
	mux.HandleFunc("POST /api/posts/schedule", s.SchedulePosts)
	mux.HandleFunc("POST /api/posts/publish", s.PublishPosts)
	mux.HandleFunc("POST /api/posts/publish-due", s.PublishDue)
	mux.HandleFunc("POST /api/posts/retry", s.RetryPosts)

	mux.HandleFunc("GET /api/configs", s.ListConfigs)
	mux.HandleFunc("GET /api/configs/fields", s.ConfigFields)
	mux.HandleFunc("POST /api/configs", s.CreateConfig)
	mux.HandleFunc("PUT /api/configs/{id}", s.UpdateConfig)
	mux.HandleFunc("POST /api/configs/{id}/default", s.SetDefaultConfig)
	mux.HandleFunc("DELETE /api/configs/{id}", s.DeleteConfig)

	return RequestIDMiddleware(LoggingMiddleware(mux))
}

// HealthCheck отвечает 200 OK, если хранилище доступно, иначе 503.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "DB unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("OK"))
}

func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilSlice(sources))
}

type sourceRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

func (s *Server) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decode(w, r, &req) {
		return
	}
	src, err := models.NewSource(req.URL, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.CreateSource(r.Context(), src); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) DeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSource(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExtractSource запускает извлечение; ?max=N ограничивает число статей.
func (s *Server) ExtractSource(w http.ResponseWriter, r *http.Request) {
	maxPosts := s.maxPosts
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "max must be a positive integer", http.StatusBadRequest)
			return
		}
		maxPosts = n
	}
	report, err := s.pipeline.ExtractSource(r.Context(), r.PathValue("id"), maxPosts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListPosts возвращает посты с фильтрами status, source_id и limit.
func (s *Server) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.PostFilter{SourceID: q.Get("source_id")}
	if v := q.Get("status"); v != "" {
		status, err := models.ParseStatus(v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Status = status
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	posts, err := s.store.ListPosts(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilSlice(posts))
}

// RecentPosts последние изменённые посты с именами источников; ?limit=N.
func (s *Server) RecentPosts(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}
	posts, err := s.store.RecentPosts(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilSlice(posts))
}

func (s *Server) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.store.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePost(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	Posts    []pipeline.Request `json:"posts"`
	ConfigID string             `json:"config_id"`
	At       time.Time          `json:"at"`
	PerDay   int                `json:"per_day"`
}

type batchResponse struct {
	Summary  string             `json:"summary"`
	Outcomes []pipeline.Outcome `json:"outcomes"`
}

// RewritePosts переписывает перечисленные посты, а без списка все extracted.
func (s *Server) RewritePosts(w http.ResponseWriter, r *http.Request) {
	req, ok := s.batch(w, r, models.StatusExtracted)
	if !ok {
		return
	}
	writeOutcomes(w, s.pipeline.Rewrite(r.Context(), req.Posts))
}

// SchedulePosts назначает время at; с per_day раскладывает посты по дням.
// Без at берётся ближайший свободный слот.
func (s *Server) SchedulePosts(w http.ResponseWriter, r *http.Request) {
	req, ok := s.batch(w, r, models.StatusRewritten)
	if !ok {
		return
	}
	if req.At.IsZero() {
		at, err := s.pipeline.NextSlot(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		req.At = at
	}

	var (
		outcomes []pipeline.Outcome
		err      error
	)
	if req.PerDay > 0 {
		outcomes, err = s.pipeline.SchedulePlan(r.Context(), req.Posts, req.At, req.PerDay)
	} else {
		outcomes, err = s.pipeline.Schedule(r.Context(), req.Posts, req.At)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOutcomes(w, outcomes)
}

func (s *Server) PublishPosts(w http.ResponseWriter, r *http.Request) {
	req, ok := s.batch(w, r, models.StatusRewritten)
	if !ok {
		return
	}
	outcomes, err := s.pipeline.Publish(r.Context(), req.Posts, req.ConfigID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOutcomes(w, outcomes)
}

func (s *Server) PublishDue(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decode(w, r, &req) {
		return
	}
	outcomes, err := s.pipeline.PublishDue(r.Context(), time.Now(), req.ConfigID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOutcomes(w, outcomes)
}

func (s *Server) RetryPosts(w http.ResponseWriter, r *http.Request) {
	req, ok := s.batch(w, r, models.StatusFailed)
	if !ok {
		return
	}
	outcomes, err := s.pipeline.Retry(r.Context(), req.Posts, req.ConfigID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOutcomes(w, outcomes)
}

// batch читает тело пакетного запроса; пустой список постов означает
// все посты в статусе fallback.
func (s *Server) batch(w http.ResponseWriter, r *http.Request, fallback models.Status) (batchRequest, bool) {
	var req batchRequest
	if !decode(w, r, &req) {
		return req, false
	}
	if len(req.Posts) > 0 {
		return req, true
	}
	pending, err := s.pipeline.Pending(r.Context(), fallback)
	if err != nil {
		writeError(w, r, err)
		return req, false
	}
	req.Posts = pending
	return req, true
}

func (s *Server) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.ListConfigs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilSlice(configs))
}

// configRequest принимает секреты, которые PublisherConfig никогда не отдаёт в JSON.
type configRequest struct {
	BlogName      string               `json:"blog_name"`
	BlogID        string               `json:"blog_id"`
	APIKey        string               `json:"api_key"`
	EmailAddress  string               `json:"email_address"`
	SMTPServer    string               `json:"smtp_server"`
	SMTPPort      int                  `json:"smtp_port"`
	SMTPUsername  string               `json:"smtp_username"`
	SMTPPassword  string               `json:"smtp_password"`
	PublishMethod models.PublishMethod `json:"publish_method"`
	IsDefault     bool                 `json:"is_default"`
}

type configResponse struct {
	Config   *models.PublisherConfig `json:"config"`
	Warnings []string                `json:"warnings,omitempty"`
}

func (req configRequest) config(id string) *models.PublisherConfig {
	return &models.PublisherConfig{
		ID:            id,
		BlogName:      req.BlogName,
		BlogID:        req.BlogID,
		APIKey:        req.APIKey,
		EmailAddress:  req.EmailAddress,
		SMTPServer:    req.SMTPServer,
		SMTPPort:      req.SMTPPort,
		SMTPUsername:  req.SMTPUsername,
		SMTPPassword:  req.SMTPPassword,
		PublishMethod: req.PublishMethod,
		IsDefault:     req.IsDefault,
	}
}

// ConfigFields перечисляет обязательные поля способа публикации (?method=api|email).
func (s *Server) ConfigFields(w http.ResponseWriter, r *http.Request) {
	method := models.PublishMethod(r.URL.Query().Get("method"))
	fields := models.RequiredFields(method)
	if fields == nil {
		writeError(w, r, models.Errorf(models.KindValidation, "config fields", "unknown publish method %q", method))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"method": method, "required": fields})
}

func (s *Server) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decode(w, r, &req) {
		return
	}
	cfg := req.config("")
	warnings, err := publisher.ValidateConfig(cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.CreateConfig(r.Context(), cfg); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Service("http").WithFields(cfg.LogFields()).Info("Publisher config created")
	writeJSON(w, http.StatusCreated, configResponse{Config: cfg, Warnings: warnings})
}

// UpdateConfig перезаписывает конфигурацию целиком, секреты нужно передать заново.
func (s *Server) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decode(w, r, &req) {
		return
	}
	cfg := req.config(r.PathValue("id"))
	warnings, err := publisher.ValidateConfig(cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.UpdateConfig(r.Context(), cfg); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Service("http").WithFields(cfg.LogFields()).Info("Publisher config updated")
	writeJSON(w, http.StatusOK, configResponse{Config: cfg, Warnings: warnings})
}

func (s *Server) SetDefaultConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetDefaultConfig(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteConfig(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeOutcomes(w http.ResponseWriter, outcomes []pipeline.Outcome) {
	writeJSON(w, http.StatusOK, batchResponse{Summary: pipeline.Summary(outcomes), Outcomes: nonNilSlice(outcomes)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Service("http").Errorf("Failed to encode response: %v", err)
	}
}

// StatusFor сопоставляет ошибке HTTP-код.
func StatusFor(err error) int {
	if errors.Is(err, models.ErrNotFound) {
		return http.StatusNotFound
	}
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindConfigAmbiguity, models.KindStateConflict:
		return http.StatusConflict
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	case models.KindTransport, models.KindCollaboratorData:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Service("http").WithField("request_id", RequestID(r.Context())).Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(models.KindOf(err)),
	})
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
