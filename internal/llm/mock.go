package llm

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// Mock answers without any network access. It backs the "mock" provider for local runs.
type Mock struct {
	Prefix string
}

func NewMock() *Mock {
	return &Mock{Prefix: "mock"}
}

func (m *Mock) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] 프롬프트 %d자를 받았습니다.", m.Prefix, utf8.RuneCountInString(prompt)), nil
}
