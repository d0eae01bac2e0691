package telegram_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/dlatjsrb112-dev/final3/internal/agent"
	"github.com/dlatjsrb112-dev/final3/internal/models"
	"github.com/dlatjsrb112-dev/final3/internal/session"
	"github.com/dlatjsrb112-dev/final3/internal/telegram"
)

type sent struct {
	chatID int64
	text   string
}

type mockSender struct {
	messages []sent
	typing   int
}

func (m *mockSender) SendText(_ context.Context, chatID int64, text string) error {
	m.messages = append(m.messages, sent{chatID: chatID, text: text})
	return nil
}

func (m *mockSender) SendTyping(context.Context, int64) error {
	m.typing++
	return nil
}

func (m *mockSender) last() string {
	if len(m.messages) == 0 {
		return ""
	}
	return m.messages[len(m.messages)-1].text
}

type mockFetcher struct {
	articles []models.Article
	err      error
	limit    int
}

func (m *mockFetcher) Fetch(_ context.Context, _ string, limit int) ([]models.Article, error) {
	m.limit = limit
	return m.articles, m.err
}

type mockAgent struct {
	summary   string
	reply     string
	err       error
	histories [][]models.ChatTurn
}

func (m *mockAgent) Summarize(context.Context, string, []models.Article) (string, error) {
	return m.summary, m.err
}

func (m *mockAgent) Chat(_ context.Context, _, _, _ string, history []models.ChatTurn) (string, error) {
	m.histories = append(m.histories, append([]models.ChatTurn(nil), history...))
	return m.reply, m.err
}

func command(chatID int64, text string) tgbotapi.Update {
	name := strings.SplitN(text, " ", 2)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func text(chatID int64, s string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Text: s, Chat: &tgbotapi.Chat{ID: chatID}}}
}

var articles = []models.Article{
	{Title: "반도체 수출 반등", Link: "https://e.x/1", Source: "연합뉴스"},
	{Title: "메모리 가격"},
}

func newHandler(f *mockFetcher, a *mockAgent) (*telegram.Handler, *mockSender) {
	s := &mockSender{}
	return telegram.NewHandler(s, f, a, session.NewMemory(10, time.Hour), 10, time.Minute, nil), s
}

func TestConversationFlow(t *testing.T) {
	ctx := context.Background()
	f := &mockFetcher{articles: articles}
	a := &mockAgent{summary: "요약입니다", reply: "답변입니다"}
	h, s := newHandler(f, a)

	h.HandleUpdate(ctx, text(1, "안녕"))
	require.Equal(t, "먼저 뉴스를 수집하고 요약하세요.", s.last())

	h.HandleUpdate(ctx, command(1, "/summary"))
	require.Equal(t, "먼저 뉴스를 수집하세요.", s.last())

	h.HandleUpdate(ctx, command(1, "/news"))
	require.Contains(t, s.last(), "키워드를 입력하세요.")

	h.HandleUpdate(ctx, command(1, "/news 반도체"))
	require.Equal(t, 10, f.limit)
	require.Contains(t, s.last(), "1. 반도체 수출 반등 (연합뉴스)\nhttps://e.x/1")
	require.Contains(t, s.last(), "2. 메모리 가격\n")

	h.HandleUpdate(ctx, command(1, "/summary"))
	require.Equal(t, "요약입니다", s.last())

	h.HandleUpdate(ctx, text(1, "Q1"))
	h.HandleUpdate(ctx, text(1, "Q2"))
	require.Equal(t, "답변입니다", s.last())
	require.Empty(t, a.histories[0])
	require.Equal(t, []models.ChatTurn{
		{Role: models.RoleUser, Text: "Q1"},
		{Role: models.RoleModel, Text: "답변입니다"},
	}, a.histories[1])
	require.Positive(t, s.typing)

	h.HandleUpdate(ctx, command(2, "/summary"))
	require.Equal(t, int64(2), s.messages[len(s.messages)-1].chatID)
	require.Equal(t, "먼저 뉴스를 수집하세요.", s.last(), "chats do not share sessions")

	h.HandleUpdate(ctx, command(1, "/reset"))
	h.HandleUpdate(ctx, text(1, "Q3"))
	require.Equal(t, "먼저 뉴스를 수집하고 요약하세요.", s.last())
}

func TestEmptyFeed(t *testing.T) {
	h, s := newHandler(&mockFetcher{}, &mockAgent{})

	h.HandleUpdate(context.Background(), command(1, "/news 없는키워드"))
	require.Equal(t, "수집된 뉴스가 없습니다.", s.last())
}

func TestErrorsAreReported(t *testing.T) {
	h, s := newHandler(&mockFetcher{err: errors.New("feed fetch: timeout")}, &mockAgent{})
	h.HandleUpdate(context.Background(), command(1, "/news k"))
	require.True(t, strings.HasPrefix(s.last(), "오류가 발생했습니다: "))
	require.Contains(t, s.last(), "timeout")

	a := &mockAgent{err: &agent.ConfigurationError{Setting: "GEMINI_API_KEY"}}
	h, s = newHandler(&mockFetcher{articles: articles}, a)
	h.HandleUpdate(context.Background(), command(1, "/news k"))
	h.HandleUpdate(context.Background(), command(1, "/summary"))
	require.Contains(t, s.last(), "GEMINI_API_KEY")
}

func TestHelpAndIgnoredUpdates(t *testing.T) {
	h, s := newHandler(&mockFetcher{}, &mockAgent{})

	h.HandleUpdate(context.Background(), tgbotapi.Update{})
	h.HandleUpdate(context.Background(), text(1, "   "))
	require.Empty(t, s.messages)

	h.HandleUpdate(context.Background(), command(1, "/start"))
	require.Contains(t, s.last(), "/news <키워드>")
}

func TestSplitMessage(t *testing.T) {
	require.Equal(t, []string{"짧은 글"}, telegram.SplitMessage("짧은 글", 10))

	long := strings.Repeat("가", 6) + "\n" + strings.Repeat("나", 6)
	chunks := telegram.SplitMessage(long, 8)
	require.Equal(t, []string{strings.Repeat("가", 6) + "\n", strings.Repeat("나", 6)}, chunks)

	chunks = telegram.SplitMessage(strings.Repeat("a", 25), 10)
	require.Len(t, chunks, 3)
	require.Equal(t, strings.Repeat("a", 25), strings.Join(chunks, ""))
}

type slowAgent struct {
	mu       sync.Mutex
	delay    time.Duration
	inFlight int
	overlap  bool
}

func (a *slowAgent) Summarize(context.Context, string, []models.Article) (string, error) {
	return "요약", nil
}

func (a *slowAgent) Chat(_ context.Context, message, _, _ string, _ []models.ChatTurn) (string, error) {
	a.mu.Lock()
	a.inFlight++
	if a.inFlight > 1 {
		a.overlap = true
	}
	a.mu.Unlock()

	time.Sleep(a.delay)

	a.mu.Lock()
	a.inFlight--
	a.mu.Unlock()
	return "re:" + message, nil
}

type syncSender struct {
	mu sync.Mutex
	mockSender
}

func (s *syncSender) SendText(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mockSender.SendText(ctx, chatID, text)
}

func (s *syncSender) SendTyping(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mockSender.SendTyping(ctx, chatID)
}

func TestConcurrentMessagesInOneChatKeepEveryTurn(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemory(10, time.Hour)
	a := &slowAgent{delay: 50 * time.Millisecond}
	h := telegram.NewHandler(&syncSender{}, &mockFetcher{articles: articles}, a, store, 10, time.Minute, nil)

	h.HandleUpdate(ctx, command(1, "/news 반도체"))
	h.HandleUpdate(ctx, command(1, "/summary"))

	var wg sync.WaitGroup
	for _, q := range []string{"Q1", "Q2"} {
		q := q
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.HandleUpdate(ctx, text(1, q))
		}()
	}
	wg.Wait()

	require.False(t, a.overlap, "model calls for one chat must not overlap")

	sc, err := store.Get(ctx, "tg:1")
	require.NoError(t, err)
	require.Len(t, sc.History, 4)

	pairs := map[string]string{}
	for i := 0; i < len(sc.History); i += 2 {
		require.Equal(t, models.RoleUser, sc.History[i].Role)
		require.Equal(t, models.RoleModel, sc.History[i+1].Role)
		pairs[sc.History[i].Text] = sc.History[i+1].Text
	}
	require.Equal(t, map[string]string{"Q1": "re:Q1", "Q2": "re:Q2"}, pairs)
}

func TestSeparateChatsKeepSeparateHistories(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemory(10, time.Hour)
	a := &slowAgent{delay: 50 * time.Millisecond}
	h := telegram.NewHandler(&syncSender{}, &mockFetcher{articles: articles}, a, store, 10, time.Minute, nil)

	for _, id := range []int64{1, 2} {
		h.HandleUpdate(ctx, command(id, "/news 반도체"))
		h.HandleUpdate(ctx, command(id, "/summary"))
	}

	var wg sync.WaitGroup
	for _, id := range []int64{1, 2} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.HandleUpdate(ctx, text(id, "Q"))
		}()
	}
	wg.Wait()

	for _, id := range []int64{1, 2} {
		sc, err := store.Get(ctx, "tg:"+strconv.FormatInt(id, 10))
		require.NoError(t, err)
		require.Len(t, sc.History, 2)
	}
}
