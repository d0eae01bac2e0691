package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dlatjsrb112-dev/final3/internal/logger"
	"github.com/dlatjsrb112-dev/final3/internal/models"
	"github.com/dlatjsrb112-dev/final3/internal/session"
)

const (
	helpText = `키워드 뉴스 요약 챗봇입니다.

/news <키워드> - 최신 뉴스 수집
/summary - 수집한 뉴스 요약
/reset - 대화 초기화

요약 후에는 메시지를 보내 뉴스에 대해 질문할 수 있습니다.`

	msgKeywordRequired = "키워드를 입력하세요. 예: /news 반도체"
	msgFetchFirst      = "먼저 뉴스를 수집하세요."
	msgSummarizeFirst  = "먼저 뉴스를 수집하고 요약하세요."
	msgNoArticles      = "수집된 뉴스가 없습니다."
	msgReset           = "대화를 초기화했습니다."
	msgFailurePrefix   = "오류가 발생했습니다: "
)

// Fetcher loads articles for a keyword.
type Fetcher interface {
	Fetch(ctx context.Context, keyword string, limit int) ([]models.Article, error)
}

// Agent summarizes articles and answers questions about the summary.
type Agent interface {
	Summarize(ctx context.Context, keyword string, articles []models.Article) (string, error)
	Chat(ctx context.Context, message, keyword, summary string, history []models.ChatTurn) (string, error)
}

// Handler turns chat messages into fetch, summarize and chat calls.
// Each chat has its own SessionContext in the store, and updates for one chat run one at a time.
type Handler struct {
	locks    chatLocks
	sender   Sender
	fetcher  Fetcher
	agent    Agent
	sessions session.Store
	limit    int
	timeout  time.Duration
	log      *slog.Logger
}

// NewHandler creates a Handler that fetches limit articles and gives each reply timeout.
func NewHandler(sender Sender, fetcher Fetcher, agent Agent, sessions session.Store, limit int, timeout time.Duration, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		sender:   sender,
		fetcher:  fetcher,
		agent:    agent,
		sessions: sessions,
		limit:    limit,
		timeout:  timeout,
		log:      log,
	}
}

// HandleUpdate dispatches one update. Updates without a text message are ignored.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}

	chatID := msg.Chat.ID
	unlock := h.locks.lock(chatID)
	defer unlock()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var reply string
	var err error
	if msg.IsCommand() {
		reply, err = h.command(ctx, chatID, msg.Command(), msg.CommandArguments())
	} else {
		reply, err = h.chat(ctx, chatID, msg.Text)
	}
	if err != nil {
		h.log.Error("handle message", slog.Int64("chat_id", chatID), slog.Any("err", err))
		reply = msgFailurePrefix + err.Error()
	}

	if err := h.sender.SendText(ctx, chatID, reply); err != nil {
		h.log.Error("send reply", slog.Int64("chat_id", chatID), slog.Any("err", err))
	}
}

func (h *Handler) command(ctx context.Context, chatID int64, name, args string) (string, error) {
	switch name {
	case "news":
		return h.news(ctx, chatID, args)
	case "summary":
		return h.summary(ctx, chatID)
	case "reset":
		if err := h.sessions.Delete(ctx, sessionID(chatID)); err != nil {
			return "", err
		}
		return msgReset, nil
	default:
		return helpText, nil
	}
}

func (h *Handler) news(ctx context.Context, chatID int64, keyword string) (string, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return msgKeywordRequired, nil
	}

	h.typing(ctx, chatID)
	articles, err := h.fetcher.Fetch(ctx, keyword, h.limit)
	if err != nil {
		return "", err
	}

	var sc models.SessionContext
	sc.Reset(keyword, articles)
	if err := h.sessions.Save(ctx, sessionID(chatID), sc); err != nil {
		return "", err
	}

	if len(articles) == 0 {
		return msgNoArticles, nil
	}
	return FormatArticles(keyword, articles), nil
}

func (h *Handler) summary(ctx context.Context, chatID int64) (string, error) {
	sc, err := h.load(ctx, chatID)
	if err != nil {
		return "", err
	}
	if len(sc.Articles) == 0 {
		return msgFetchFirst, nil
	}

	h.typing(ctx, chatID)
	summary, err := h.agent.Summarize(ctx, sc.Keyword, sc.Articles)
	if err != nil {
		return "", err
	}

	sc.Summary = summary
	sc.History = nil
	if err := h.sessions.Save(ctx, sessionID(chatID), sc); err != nil {
		return "", err
	}
	return summary, nil
}

func (h *Handler) chat(ctx context.Context, chatID int64, text string) (string, error) {
	sc, err := h.load(ctx, chatID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(sc.Summary) == "" {
		return msgSummarizeFirst, nil
	}

	message := strings.TrimSpace(text)
	h.typing(ctx, chatID)
	reply, err := h.agent.Chat(ctx, message, sc.Keyword, sc.Summary, sc.History)
	if err != nil {
		return "", err
	}

	sc.AppendTurn(models.RoleUser, message)
	sc.AppendTurn(models.RoleModel, reply)
	if err := h.sessions.Save(ctx, sessionID(chatID), sc); err != nil {
		return "", err
	}
	return reply, nil
}

func (h *Handler) load(ctx context.Context, chatID int64) (models.SessionContext, error) {
	sc, err := h.sessions.Get(ctx, sessionID(chatID))
	if errors.Is(err, session.ErrNotFound) {
		return models.SessionContext{}, nil
	}
	return sc, err
}

func (h *Handler) typing(ctx context.Context, chatID int64) {
	if err := h.sender.SendTyping(ctx, chatID); err != nil {
		h.log.Debug("typing indicator failed", slog.Any("err", err))
	}
}

// chatLocks hands out one mutex per chat id and drops it when no update holds or waits for it.
type chatLocks struct {
	mu    sync.Mutex
	chats map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func (l *chatLocks) lock(chatID int64) (unlock func()) {
	l.mu.Lock()
	if l.chats == nil {
		l.chats = make(map[int64]*chatLock)
	}
	cl, ok := l.chats[chatID]
	if !ok {
		cl = &chatLock{}
		l.chats[chatID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()

		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.chats, chatID)
		}
		l.mu.Unlock()
	}
}

// pending reports how many chats currently hold or wait for a lock.
func (l *chatLocks) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chats)
}

func sessionID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// FormatArticles lists the fetched titles with their source and link.
func FormatArticles(keyword string, articles []models.Article) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "'%s' 뉴스 %d건\n", keyword, len(articles))
	for i, a := range articles {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, a.Title)
		if a.Source != "" {
			fmt.Fprintf(&sb, " (%s)", a.Source)
		}
		if a.Link != "" {
			fmt.Fprintf(&sb, "\n%s", a.Link)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n/summary 로 요약을 받아보세요.")
	return sb.String()
}
