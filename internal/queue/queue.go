package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dlatjsrb112-dev/final3/internal/logger"
	"github.com/dlatjsrb112-dev/final3/internal/models"
)

// ErrEmptyKeyword rejects digest requests without a keyword.
var ErrEmptyKeyword = errors.New("digest request keyword is empty")

// MessageWriter is the part of *kafka.Writer the queue needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter creates a writer for topic that hashes keys onto partitions.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
	}
}

// Publisher enqueues digest requests.
type Publisher struct {
	w   MessageWriter
	now func() time.Time
	log *slog.Logger
}

// NewPublisher wraps w. The publisher owns w and closes it on Close.
func NewPublisher(w MessageWriter, log *slog.Logger) *Publisher {
	if log == nil {
		log = logger.Discard()
	}
	return &Publisher{w: w, now: time.Now, log: log}
}

// PublishDigestRequest writes req keyed by its keyword, stamping RequestedAt when unset.
func (p *Publisher) PublishDigestRequest(ctx context.Context, req models.DigestRequest) error {
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.Keyword == "" {
		return ErrEmptyKeyword
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = p.now().UTC()
	}

	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal digest request: %w", err)
	}

	msg := kafka.Message{Key: []byte(req.Keyword), Value: value}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish digest request: %w", err)
	}

	p.log.Info("digest requested", slog.String("keyword", req.Keyword), slog.Int("limit", req.Limit))
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

// DecodeDigestRequest parses a message value produced by PublishDigestRequest.
func DecodeDigestRequest(value []byte) (models.DigestRequest, error) {
	var req models.DigestRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return models.DigestRequest{}, fmt.Errorf("decode digest request: %w", err)
	}
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.Keyword == "" {
		return models.DigestRequest{}, ErrEmptyKeyword
	}
	return req, nil
}

// DeadLetter copies msg for the dead-letter topic with headers describing the failure.
func DeadLetter(msg kafka.Message, cause error, now time.Time) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "original_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
		kafka.Header{Key: "timestamp", Value: []byte(now.UTC().Format(time.RFC3339))},
	)
	return kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}
}

// WriteWithBackoff tries to write msg up to attempts times, doubling the wait from base after
// each failure. It returns the last write error, or ctx.Err() if canceled while waiting.
func WriteWithBackoff(ctx context.Context, w MessageWriter, msg kafka.Message, attempts int, base time.Duration, log *slog.Logger) error {
	if log == nil {
		log = logger.Discard()
	}
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = w.WriteMessages(ctx, msg); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		backoff := base << uint(attempt)
		log.Warn("write failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
