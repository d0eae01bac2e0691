package agent

import (
	"fmt"
	"strings"

	"github.com/dlatjsrb112-dev/final3/internal/models"
)

// NotInSummaryReply is what the model is told to answer when the summary lacks the information.
const NotInSummaryReply = "제공된 뉴스 요약에는 해당 정보가 없습니다"

const summaryTemplate = `다음은 '%s' 키워드로 수집한 뉴스 기사들입니다.
각 기사의 제목·요약·출처를 바탕으로 전체를 2~3문단으로 요약해 주세요.
핵심 이슈와 흐름을 담아 읽기 쉽게 작성해 주세요.

%s

위 뉴스 요약 (한국어):`

const systemTemplate = `당신은 '%s' 관련 최신 뉴스를 요약·설명해 주는 뉴스 챗봇입니다.
아래는 해당 키워드로 수집한 뉴스의 요약입니다. 이 내용을 바탕으로만 답변하세요.
요약에 없는 내용은 "%s"라고 답하세요.

[뉴스 요약]
%s
`

const (
	userLabel  = "[사용자]"
	modelLabel = "[챗봇]"
)

// RenderArticles numbers each article and lists its title, then summary and source when present.
func RenderArticles(articles []models.Article) string {
	var sb strings.Builder
	for i, a := range articles {
		fmt.Fprintf(&sb, "\n[기사 %d] %s\n", i+1, a.Title)
		if a.Summary != "" {
			fmt.Fprintf(&sb, "요약: %s\n", a.Summary)
		}
		if a.Source != "" {
			fmt.Fprintf(&sb, "출처: %s\n", a.Source)
		}
	}
	return sb.String()
}

// SummaryPrompt wraps the rendered articles in the summarization instructions.
func SummaryPrompt(keyword string, articles []models.Article) string {
	return fmt.Sprintf(summaryTemplate, keyword, RenderArticles(articles))
}

// SystemContext is the grounding block that opens every chat transcript.
func SystemContext(keyword, summary string) string {
	return fmt.Sprintf(systemTemplate, keyword, NotInSummaryReply, summary)
}

// ChatPrompt flattens the system block, prior turns and the new message into one transcript
// that ends with an open model label.
func ChatPrompt(message, keyword, summary string, history []models.ChatTurn) string {
	var sb strings.Builder
	sb.WriteString(SystemContext(keyword, summary))
	for _, turn := range history {
		switch turn.Role {
		case models.RoleUser:
			writeTurn(&sb, userLabel, turn.Text)
		case models.RoleModel:
			writeTurn(&sb, modelLabel, turn.Text)
		}
	}
	writeTurn(&sb, userLabel, message)
	sb.WriteString("\n\n" + modelLabel + "\n")
	return sb.String()
}

func writeTurn(sb *strings.Builder, label, text string) {
	sb.WriteString("\n\n")
	sb.WriteString(label)
	sb.WriteString("\n")
	sb.WriteString(text)
}
