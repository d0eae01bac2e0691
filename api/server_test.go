package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dlatjsrb112-dev/final3/internal/agent"
	"github.com/dlatjsrb112-dev/final3/internal/config"
	"github.com/dlatjsrb112-dev/final3/internal/elasticsearch"
	"github.com/dlatjsrb112-dev/final3/internal/logger"
	"github.com/dlatjsrb112-dev/final3/internal/models"
	"github.com/dlatjsrb112-dev/final3/internal/session"
)

type stubFetcher struct {
	articles []models.Article
	err      error
	keywords []string
}

func (s *stubFetcher) Fetch(_ context.Context, keyword string, limit int) ([]models.Article, error) {
	s.keywords = append(s.keywords, keyword)
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.articles) {
		return s.articles[:limit], nil
	}
	return s.articles, nil
}

type stubAgent struct {
	summary   string
	reply     string
	err       error
	histories [][]models.ChatTurn
	summaries []string
}

func (s *stubAgent) Summarize(context.Context, string, []models.Article) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

func (s *stubAgent) Chat(_ context.Context, _, _, summary string, history []models.ChatTurn) (string, error) {
	s.histories = append(s.histories, history)
	s.summaries = append(s.summaries, summary)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type stubPublisher struct {
	reqs []models.DigestRequest
}

func (s *stubPublisher) PublishDigestRequest(_ context.Context, req models.DigestRequest) error {
	s.reqs = append(s.reqs, req)
	return nil
}

type stubArchive struct {
	params    elasticsearch.SearchParams
	healthErr error
}

func (s *stubArchive) SearchDigests(_ context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error) {
	s.params = params
	return &elasticsearch.SearchResult{Total: 1, Items: []models.Digest{{ID: "d1", Keyword: "반도체"}}}, nil
}

func (s *stubArchive) Health(context.Context) error { return s.healthErr }

var sampleArticles = []models.Article{
	{Title: "반도체 수출 반등", Link: "https://e.x/1", Summary: "수출 증가", Source: "연합뉴스"},
	{Title: "메모리 가격", Link: "https://e.x/2"},
}

func newTestServer(f *stubFetcher, a *stubAgent) *server {
	return &server{
		log: logger.Discard(),
		cfg: &config.API{
			Feed:           config.Feed{Limit: 10},
			Session:        config.Session{TTL: time.Hour},
			AllowedOrigins: []string{"*"},
			DefaultPage:    20,
			MaxPage:        100,
		},
		fetcher:  f,
		agent:    a,
		sessions: session.NewMemory(100, time.Hour),
	}
}

type envelope struct {
	OK       bool             `json:"ok"`
	Error    string           `json:"error"`
	Articles []models.Article `json:"articles"`
	Summary  string           `json:"summary"`
	Reply    string           `json:"reply"`
}

type client struct {
	t       *testing.T
	handler http.Handler
	cookies []*http.Cookie
}

func (c *client) do(method, path, body string) (int, envelope) {
	c.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	if set := rec.Result().Cookies(); len(set) > 0 {
		c.cookies = set
	}

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func TestSessionFlow(t *testing.T) {
	f := &stubFetcher{articles: sampleArticles}
	a := &stubAgent{summary: "요약입니다", reply: "답변입니다"}
	c := &client{t: t, handler: newTestServer(f, a).routes()}

	code, env := c.do(http.MethodPost, "/api/summarize", "")
	require.Equal(t, http.StatusBadRequest, code)
	require.False(t, env.OK)
	require.Equal(t, msgFetchFirst, env.Error)

	code, env = c.do(http.MethodPost, "/api/chat", `{"message":"질문"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, msgSummarizeFirst, env.Error)

	code, env = c.do(http.MethodPost, "/api/news", `{"keyword":"  반도체 "}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.OK)
	require.Equal(t, sampleArticles, env.Articles)
	require.Equal(t, []string{"반도체"}, f.keywords)
	require.NotEmpty(t, c.cookies)
	require.Equal(t, sessionCookie, c.cookies[0].Name)

	code, env = c.do(http.MethodPost, "/api/summarize", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "요약입니다", env.Summary)

	code, env = c.do(http.MethodPost, "/api/chat", `{"message":"   "}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, msgMessageRequired, env.Error)

	code, env = c.do(http.MethodPost, "/api/chat", `{"message":"Q1"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "답변입니다", env.Reply)

	code, _ = c.do(http.MethodPost, "/api/chat", `{"message":"Q2"}`)
	require.Equal(t, http.StatusOK, code)

	require.Len(t, a.histories, 2)
	require.Empty(t, a.histories[0])
	require.Equal(t, []models.ChatTurn{
		{Role: models.RoleUser, Text: "Q1"},
		{Role: models.RoleModel, Text: "답변입니다"},
	}, a.histories[1])
	require.Equal(t, "요약입니다", a.summaries[1])

	code, env = c.do(http.MethodPost, "/api/news", `{"keyword":"메모리"}`)
	require.Equal(t, http.StatusOK, code)
	code, env = c.do(http.MethodPost, "/api/chat", `{"message":"Q3"}`)
	require.Equal(t, http.StatusBadRequest, code, "a new fetch clears the summary")
	require.Equal(t, msgSummarizeFirst, env.Error)
}

func TestSessionChatUsesBodyHistory(t *testing.T) {
	a := &stubAgent{summary: "요약", reply: "A"}
	c := &client{t: t, handler: newTestServer(&stubFetcher{articles: sampleArticles}, a).routes()}

	c.do(http.MethodPost, "/api/news", `{"keyword":"k"}`)
	c.do(http.MethodPost, "/api/summarize", "")

	code, _ := c.do(http.MethodPost, "/api/chat",
		`{"message":"Q2","history":[{"role":"user","text":"Q1"},{"role":"system","text":"x"},{"role":"model","text":"A1"}]}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []models.ChatTurn{
		{Role: models.RoleUser, Text: "Q1"},
		{Role: models.RoleModel, Text: "A1"},
	}, a.histories[0])
}

func TestSessionReset(t *testing.T) {
	c := &client{t: t, handler: newTestServer(&stubFetcher{articles: sampleArticles}, &stubAgent{summary: "s"}).routes()}

	c.do(http.MethodPost, "/api/news", `{"keyword":"k"}`)
	code, env := c.do(http.MethodDelete, "/api/session", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.OK)

	code, env = c.do(http.MethodPost, "/api/summarize", "")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, msgFetchFirst, env.Error)
}

func TestStatelessValidation(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		status  int
		wantErr string
	}{
		{name: "news blank keyword", path: "/api/v1/news", body: `{"keyword":" "}`, status: http.StatusBadRequest, wantErr: msgKeywordRequired},
		{name: "news empty body", path: "/api/v1/news", body: ``, status: http.StatusBadRequest, wantErr: msgKeywordRequired},
		{name: "news bad json", path: "/api/v1/news", body: `{"keyword":`, status: http.StatusBadRequest, wantErr: msgInvalidBody},
		{name: "summarize no articles", path: "/api/v1/summarize", body: `{"keyword":"k","articles":[]}`, status: http.StatusBadRequest, wantErr: msgFetchFirst},
		{name: "chat no summary", path: "/api/v1/chat", body: `{"message":"q","summary":""}`, status: http.StatusBadRequest, wantErr: msgSummarizeFirst},
		{name: "chat no message", path: "/api/v1/chat", body: `{"message":"","summary":"s"}`, status: http.StatusBadRequest, wantErr: msgMessageRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &client{t: t, handler: newTestServer(&stubFetcher{}, &stubAgent{}).routes()}
			code, env := c.do(http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.status, code)
			require.False(t, env.OK)
			require.Equal(t, tt.wantErr, env.Error)
		})
	}
}

func TestStatelessSuccess(t *testing.T) {
	a := &stubAgent{summary: "요약", reply: "답"}
	c := &client{t: t, handler: newTestServer(&stubFetcher{articles: sampleArticles}, a).routes()}

	code, env := c.do(http.MethodPost, "/api/v1/news", `{"keyword":"반도체"}`)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, env.Articles, 2)
	require.Empty(t, c.cookies, "stateless routes do not issue sessions")

	code, env = c.do(http.MethodPost, "/api/v1/summarize", `{"keyword":"반도체","articles":[{"title":"t"}]}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "요약", env.Summary)

	code, env = c.do(http.MethodPost, "/api/v1/chat", `{"message":"q","keyword":"반도체","summary":"요약","history":[{"role":"user","text":"Q1"}]}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "답", env.Reply)
	require.Equal(t, []models.ChatTurn{{Role: models.RoleUser, Text: "Q1"}}, a.histories[0])
}

func TestFailuresReturn500(t *testing.T) {
	cfgErr := &agent.ConfigurationError{Setting: "GEMINI_API_KEY"}

	tests := []struct {
		name    string
		fetcher *stubFetcher
		agent   *stubAgent
		path    string
		body    string
		wantErr string
	}{
		{name: "fetch", fetcher: &stubFetcher{err: errors.New("feed fetch: timeout")}, agent: &stubAgent{}, path: "/api/v1/news", body: `{"keyword":"k"}`, wantErr: "timeout"},
		{name: "summarize credential", fetcher: &stubFetcher{}, agent: &stubAgent{err: cfgErr}, path: "/api/v1/summarize", body: `{"articles":[{"title":"t"}]}`, wantErr: "GEMINI_API_KEY"},
		{name: "chat credential", fetcher: &stubFetcher{}, agent: &stubAgent{err: cfgErr}, path: "/api/v1/chat", body: `{"message":"q","summary":"s"}`, wantErr: "GEMINI_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &client{t: t, handler: newTestServer(tt.fetcher, tt.agent).routes()}
			code, env := c.do(http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusInternalServerError, code)
			require.False(t, env.OK)
			require.Contains(t, env.Error, tt.wantErr)
		})
	}
}

func TestPreflight(t *testing.T) {
	h := newTestServer(&stubFetcher{}, &stubAgent{}).routes()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/news", strings.NewReader(`{"keyword":""}`))
	req.Header.Set("Origin", "https://example.org")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDigestRoutes(t *testing.T) {
	srv := newTestServer(&stubFetcher{}, &stubAgent{})
	c := &client{t: t, handler: srv.routes()}

	code, env := c.do(http.MethodPost, "/api/digests", `{"keyword":"반도체"}`)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.False(t, env.OK)

	code, _ = c.do(http.MethodGet, "/api/digests", "")
	require.Equal(t, http.StatusServiceUnavailable, code)

	pub := &stubPublisher{}
	archive := &stubArchive{}
	srv.publisher = pub
	srv.archive = archive
	c = &client{t: t, handler: srv.routes()}

	code, env = c.do(http.MethodPost, "/api/digests", `{"keyword":""}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, msgKeywordRequired, env.Error)

	code, env = c.do(http.MethodPost, "/api/digests", `{"keyword":" 반도체 ","limit":5}`)
	require.Equal(t, http.StatusAccepted, code)
	require.True(t, env.OK)
	require.Len(t, pub.reqs, 1)
	require.Equal(t, "반도체", pub.reqs[0].Keyword)
	require.Equal(t, 5, pub.reqs[0].Limit)

	req := httptest.NewRequest(http.MethodGet, "/api/digests?q=수출&keyword=반도체&size=500&from=3&order=asc", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		OK    bool            `json:"ok"`
		Total int64           `json:"total"`
		Items []models.Digest `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.OK)
	require.EqualValues(t, 1, body.Total)
	require.Equal(t, "d1", body.Items[0].ID)

	require.Equal(t, "수출", archive.params.Query)
	require.Equal(t, "반도체", archive.params.Keyword)
	require.Equal(t, 100, archive.params.Size)
	require.Equal(t, 3, archive.params.From)
	require.Equal(t, "asc", archive.params.Order)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&stubFetcher{}, &stubAgent{})

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	srv.archive = &stubArchive{healthErr: errors.New("red")}
	rec = httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClampInt(t *testing.T) {
	require.Equal(t, 20, clampInt("", 20, 100))
	require.Equal(t, 20, clampInt("abc", 20, 100))
	require.Equal(t, 20, clampInt("-1", 20, 100))
	require.Equal(t, 100, clampInt("500", 20, 100))
	require.Equal(t, 7, clampInt("7", 20, 100))
}
