// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shopspider/shopspider/internal/config"
	"github.com/shopspider/shopspider/internal/crawler"
	"github.com/shopspider/shopspider/internal/metrics"
)

// statusCacheTTL bounds how stale a cached task-status response may be.
const statusCacheTTL = 60 * time.Second

// Enqueuer hands accepted tasks to the crawl engines.
type Enqueuer interface {
	Enqueue(ctx context.Context, req crawler.TaskRequest) error
}

// Server wires HTTP handlers to the ledger, stores and queue.
type Server struct {
	router   chi.Router
	ledger   crawler.Ledger
	tasks    crawler.TaskStore
	products crawler.ProductStore
	queue    Enqueuer
	idGen    crawler.IDGenerator
	cfg      config.Config
	log      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	ledger crawler.Ledger,
	tasks crawler.TaskStore,
	products crawler.ProductStore,
	queue Enqueuer,
	idGen crawler.IDGenerator,
	cfg config.Config,
	log *zap.Logger,
) *Server {
	s := &Server{
		ledger:   ledger,
		tasks:    tasks,
		products: products,
		queue:    queue,
		idGen:    idGen,
		cfg:      cfg,
		log:      log,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/crawl", s.submitCrawl)
		r.Get("/crawl_status/{task_id}", s.getCrawlStatus)
		r.Get("/products", s.listProducts)
		r.Get("/products/{product_id}", s.getProduct)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.log)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The ledger backs every request path, so check it is reachable.
	if err := s.ledger.CacheSet(r.Context(), "readyz", []byte("1"), time.Minute); err != nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable", s.log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.log)
}

type crawlRequest struct {
	StartURL string `json:"start_url"`
	MaxPages *int   `json:"max_pages"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.log)
		return
	}
	if err := validateStartURL(req.StartURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.log)
		return
	}
	maxPages := s.cfg.Crawler.MaxPagesDefault
	if req.MaxPages != nil {
		maxPages = *req.MaxPages
	}
	if maxPages < 1 || maxPages > s.cfg.Crawler.MaxPagesLimit {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("max_pages must be between 1 and %d", s.cfg.Crawler.MaxPagesLimit), s.log)
		return
	}

	taskID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate task id failed", s.log)
		return
	}

	task := crawler.Task{ID: taskID, StartURL: req.StartURL, Status: crawler.TaskStatusPending}
	if err := s.ledger.PushPendingTask(r.Context(), task); err != nil {
		s.log.Error("push pending task failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "task submission failed", s.log)
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, crawler.TaskRequest{
		TaskID:   taskID,
		StartURL: req.StartURL,
		MaxPages: maxPages,
	}); err != nil {
		s.log.Error("enqueue task failed", zap.String("task_id", taskID), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "task queue unavailable", s.log)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID}, s.log)
}

// validateStartURL accepts absolute http(s) URLs with a hostname.
func validateStartURL(raw string) error {
	if raw == "" {
		return errors.New("start_url is required")
	}
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return errors.New("start_url must be a valid URL")
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.New("start_url must be an absolute http or https URL")
	}
	return nil
}

type crawlStatusResponse struct {
	crawler.Task
	ProcessedURLs int64 `json:"processed_urls"`
	TotalURLs     int64 `json:"total_urls"`
}

func (s *Server) getCrawlStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	cacheKey := "task_status:" + taskID
	if s.writeCached(w, r, cacheKey) {
		return
	}

	task, err := s.tasks.GetTask(r.Context(), taskID)
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found", s.log)
		return
	}
	if err != nil {
		s.log.Error("get task failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task", s.log)
		return
	}

	resp := crawlStatusResponse{Task: task}
	if progress, err := s.ledger.Progress(r.Context(), taskID); err == nil {
		resp.ProcessedURLs = progress.Processed
		resp.TotalURLs = progress.Total
	}

	s.writeAndCache(w, r, cacheKey, http.StatusOK, resp)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 100)
	if skip < 0 || limit < 1 || limit > 1000 {
		writeError(w, http.StatusBadRequest, "skip must be >= 0 and limit between 1 and 1000", s.log)
		return
	}

	cacheKey := fmt.Sprintf("products:%d:%d", skip, limit)
	if s.writeCached(w, r, cacheKey) {
		return
	}

	products, err := s.products.ListProducts(r.Context(), limit, skip)
	if err != nil {
		s.log.Error("list products failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load products", s.log)
		return
	}
	if products == nil {
		products = []crawler.Product{}
	}
	s.writeAndCache(w, r, cacheKey, http.StatusOK, products)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "product_id must be an integer", s.log)
		return
	}

	cacheKey := fmt.Sprintf("product:%d", id)
	if s.writeCached(w, r, cacheKey) {
		return
	}

	product, err := s.products.GetProduct(r.Context(), id)
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "product not found", s.log)
		return
	}
	if err != nil {
		s.log.Error("get product failed", zap.Int64("product_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load product", s.log)
		return
	}
	s.writeAndCache(w, r, cacheKey, http.StatusOK, product)
}

// writeCached serves a cached response body if present. Cache errors
// degrade to a store read.
func (s *Server) writeCached(w http.ResponseWriter, r *http.Request, key string) bool {
	payload, err := s.ledger.CacheGet(r.Context(), key)
	if err != nil {
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if payload == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		s.log.Error("write cached response failed", zap.Error(err))
	}
	return true
}

func (s *Server) writeAndCache(w http.ResponseWriter, r *http.Request, key string, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal response failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", s.log)
		return
	}
	if err := s.ledger.CacheSet(r.Context(), key, body, statusCacheTTL); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.log.Error("write response failed", zap.Error(err))
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return val
}

func writeJSON(w http.ResponseWriter, status int, payload any, log *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, log *zap.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, log)
}
