package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/dlatjsrb112-dev/final3/internal/config"
	"github.com/dlatjsrb112-dev/final3/internal/elasticsearch"
	"github.com/dlatjsrb112-dev/final3/internal/models"
	"github.com/dlatjsrb112-dev/final3/internal/session"
)

const sessionCookie = "newsbot_session"

const (
	msgKeywordRequired  = "키워드를 입력하세요."
	msgFetchFirst       = "먼저 뉴스를 수집하세요."
	msgSummarizeFirst   = "먼저 뉴스를 수집하고 요약하세요."
	msgMessageRequired  = "메시지를 입력하세요."
	msgInvalidBody      = "요청 본문을 해석할 수 없습니다."
	msgQueueUnavailable = "digest queue is not configured"
	msgArchiveDisabled  = "digest archive is disabled"
)

const (
	fetchTimeout  = 20 * time.Second
	modelTimeout  = 60 * time.Second
	searchTimeout = 5 * time.Second
)

type newsFetcher interface {
	Fetch(ctx context.Context, keyword string, limit int) ([]models.Article, error)
}

type newsAgent interface {
	Summarize(ctx context.Context, keyword string, articles []models.Article) (string, error)
	Chat(ctx context.Context, message, keyword, summary string, history []models.ChatTurn) (string, error)
}

type digestPublisher interface {
	PublishDigestRequest(ctx context.Context, req models.DigestRequest) error
}

type digestArchive interface {
	SearchDigests(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
	Health(ctx context.Context) error
}

type server struct {
	log       *slog.Logger
	cfg       *config.API
	fetcher   newsFetcher
	agent     newsAgent
	sessions  session.Store
	publisher digestPublisher // nil when Kafka is not configured
	archive   digestArchive   // nil when the archive is disabled
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type articlesResponse struct {
	OK       bool             `json:"ok"`
	Articles []models.Article `json:"articles"`
}

type summaryResponse struct {
	OK      bool   `json:"ok"`
	Summary string `json:"summary"`
}

type replyResponse struct {
	OK    bool   `json:"ok"`
	Reply string `json:"reply"`
}

type newsRequest struct {
	Keyword string `json:"keyword"`
}

type summarizeRequest struct {
	Keyword  string           `json:"keyword"`
	Articles []models.Article `json:"articles"`
}

type chatRequest struct {
	Message string            `json:"message"`
	Keyword string            `json:"keyword"`
	Summary string            `json:"summary"`
	History []models.ChatTurn `json:"history"`
}

type digestRequest struct {
	Keyword string `json:"keyword"`
	Limit   int    `json:"limit"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/news", s.handleSessionNews)
		r.Post("/summarize", s.handleSessionSummarize)
		r.Post("/chat", s.handleSessionChat)
		r.Delete("/session", s.handleSessionReset)

		r.Post("/digests", s.handleRequestDigest)
		r.Get("/digests", s.handleSearchDigests)

		r.Route("/v1", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:     s.cfg.AllowedOrigins,
				AllowedMethods:     []string{http.MethodPost, http.MethodOptions},
				AllowedHeaders:     []string{"Content-Type"},
				MaxAge:             300,
				OptionsPassthrough: true,
			}))
			for path, h := range map[string]http.HandlerFunc{
				"/news":      s.handleNews,
				"/summarize": s.handleSummarize,
				"/chat":      s.handleChat,
			} {
				r.Post(path, h)
				r.Options(path, handlePreflight)
			}
		})
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.archive.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// Stateless routes: the caller carries keyword, articles, summary and history.

func (s *server) handleNews(w http.ResponseWriter, r *http.Request) {
	var req newsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	articles, ok := s.fetch(w, r, req.Keyword)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, articlesResponse{OK: true, Articles: articles})
}

func (s *server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	summary, ok := s.summarize(w, r, req.Keyword, req.Articles)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{OK: true, Summary: summary})
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reply, ok := s.chat(w, r, req.Message, req.Keyword, req.Summary, models.FilterTurns(req.History))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, replyResponse{OK: true, Reply: reply})
}

// Session routes: state lives in the session store under the cookie id.

func (s *server) handleSessionNews(w http.ResponseWriter, r *http.Request) {
	var req newsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, sc, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	articles, ok := s.fetch(w, r, req.Keyword)
	if !ok {
		return
	}

	sc.Reset(strings.TrimSpace(req.Keyword), articles)
	if !s.saveSession(w, r, id, sc) {
		return
	}
	writeJSON(w, http.StatusOK, articlesResponse{OK: true, Articles: articles})
}

func (s *server) handleSessionSummarize(w http.ResponseWriter, r *http.Request) {
	id, sc, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	summary, ok := s.summarize(w, r, sc.Keyword, sc.Articles)
	if !ok {
		return
	}

	sc.Summary = summary
	sc.History = nil
	if !s.saveSession(w, r, id, sc) {
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{OK: true, Summary: summary})
}

func (s *server) handleSessionChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, sc, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	history := sc.History
	if req.History != nil {
		history = models.FilterTurns(req.History)
	}

	reply, ok := s.chat(w, r, req.Message, sc.Keyword, sc.Summary, history)
	if !ok {
		return
	}

	sc.History = append(append([]models.ChatTurn(nil), history...),
		models.ChatTurn{Role: models.RoleUser, Text: strings.TrimSpace(req.Message)},
		models.ChatTurn{Role: models.RoleModel, Text: reply},
	)
	if !s.saveSession(w, r, id, sc) {
		return
	}
	writeJSON(w, http.StatusOK, replyResponse{OK: true, Reply: reply})
}

func (s *server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if err := s.sessions.Delete(r.Context(), c.Value); err != nil {
			s.log.Error("delete session", slog.Any("err", err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Archive routes.

func (s *server) handleRequestDigest(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	if !decodeBody(w, r, &req) {
		return
	}

	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgKeywordRequired})
		return
	}
	if s.publisher == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: msgQueueUnavailable})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
	defer cancel()

	err := s.publisher.PublishDigestRequest(ctx, models.DigestRequest{
		Keyword:     keyword,
		Limit:       req.Limit,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		s.log.Error("publish digest request", slog.String("keyword", keyword), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "keyword": keyword})
}

func (s *server) handleSearchDigests(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: msgArchiveDisabled})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), searchTimeout)
	defer cancel()

	q := r.URL.Query()
	params := elasticsearch.SearchParams{
		Query:   strings.TrimSpace(q.Get("q")),
		Keyword: strings.TrimSpace(q.Get("keyword")),
		From:    clampInt(q.Get("from"), 0, 10_000),
		Size:    clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Order:   strings.TrimSpace(q.Get("order")),
		Start:   parseTime(q.Get("start")),
		End:     parseTime(q.Get("end")),
	}

	result, err := s.archive.SearchDigests(ctx, params)
	if err != nil {
		s.log.Error("search digests", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "total": result.Total, "items": result.Items})
}

// Shared steps. Each writes the error response itself and reports whether the caller may continue.

func (s *server) fetch(w http.ResponseWriter, r *http.Request, keyword string) ([]models.Article, bool) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgKeywordRequired})
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), fetchTimeout)
	defer cancel()

	articles, err := s.fetcher.Fetch(ctx, keyword, s.cfg.Feed.Limit)
	if err != nil {
		s.log.Error("fetch news", slog.String("keyword", keyword), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return nil, false
	}
	return articles, true
}

func (s *server) summarize(w http.ResponseWriter, r *http.Request, keyword string, articles []models.Article) (string, bool) {
	if len(articles) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgFetchFirst})
		return "", false
	}

	ctx, cancel := context.WithTimeout(r.Context(), modelTimeout)
	defer cancel()

	summary, err := s.agent.Summarize(ctx, strings.TrimSpace(keyword), articles)
	if err != nil {
		s.log.Error("summarize", slog.String("keyword", keyword), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return "", false
	}
	return summary, true
}

func (s *server) chat(w http.ResponseWriter, r *http.Request, message, keyword, summary string, history []models.ChatTurn) (string, bool) {
	if strings.TrimSpace(summary) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgSummarizeFirst})
		return "", false
	}
	message = strings.TrimSpace(message)
	if message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgMessageRequired})
		return "", false
	}

	ctx, cancel := context.WithTimeout(r.Context(), modelTimeout)
	defer cancel()

	reply, err := s.agent.Chat(ctx, message, keyword, summary, history)
	if err != nil {
		s.log.Error("chat", slog.String("keyword", keyword), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return "", false
	}
	return reply, true
}

// loadSession returns the caller's session, issuing a new id cookie when there is none.
func (s *server) loadSession(w http.ResponseWriter, r *http.Request) (string, models.SessionContext, bool) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			sc, err := s.sessions.Get(r.Context(), c.Value)
			switch {
			case err == nil:
				return c.Value, sc, true
			case errors.Is(err, session.ErrNotFound):
				return c.Value, models.SessionContext{}, true
			default:
				s.log.Error("load session", slog.Any("err", err))
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
				return "", models.SessionContext{}, false
			}
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cfg.Session.TTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, models.SessionContext{}, true
}

func (s *server) saveSession(w http.ResponseWriter, r *http.Request, id string, sc models.SessionContext) bool {
	if err := s.sessions.Save(r.Context(), id, sc); err != nil {
		s.log.Error("save session", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

// decodeBody treats an empty body as an empty request so field validation reports what is missing.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidBody})
	return false
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
