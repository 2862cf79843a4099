package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrQuota is returned by providers when the account is rate limited or out of credit.
var ErrQuota = errors.New("llm quota exceeded")

// Image is an inline image attached to a completion request.
type Image struct {
	Data      []byte
	MediaType string
}

type Client interface {
	Complete(ctx context.Context, system, prompt string, images ...Image) (string, error)
}

// StripMarkdownCodeBlocks removes ```...``` wrappers from LLM responses
func StripMarkdownCodeBlocks(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx != -1 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx != -1 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// ExtractJSONObject returns the span from the first '{' to the last '}',
// or "" when there is none.
func ExtractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return ""
	}
	return text[start : end+1]
}
