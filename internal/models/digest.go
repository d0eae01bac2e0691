package models

import "time"

// Digest is an archived summary produced by the background worker.
type Digest struct {
	ID        string    `json:"id"`
	Keyword   string    `json:"keyword"`
	Summary   string    `json:"summary"`
	Articles  []Article `json:"articles"`
	Keywords  []string  `json:"keywords"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// DigestRequest asks the worker to build a digest for a keyword.
type DigestRequest struct {
	Keyword     string    `json:"keyword"`
	Limit       int       `json:"limit,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
