package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageRunes stays under Telegram's 4096 character limit per message.
const maxMessageRunes = 4000

// Sender delivers plain text to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendTyping(ctx context.Context, chatID int64) error
}

// BotSender implements Sender with tgbotapi.
type BotSender struct {
	api *tgbotapi.BotAPI
}

// NewBotSender wraps api.
func NewBotSender(api *tgbotapi.BotAPI) *BotSender {
	return &BotSender{api: api}
}

// SendText sends text as one or more plain messages.
func (s *BotSender) SendText(_ context.Context, chatID int64, text string) error {
	for _, chunk := range SplitMessage(text, maxMessageRunes) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.DisableWebPagePreview = true
		if _, err := s.api.Send(msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// SendTyping shows the typing indicator while a slow reply is prepared.
func (s *BotSender) SendTyping(_ context.Context, chatID int64) error {
	if _, err := s.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}

// SplitMessage cuts text into chunks of at most limit runes, preferring line breaks.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
