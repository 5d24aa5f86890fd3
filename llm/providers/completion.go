package providers

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/braindump/llm"
)

// CompletionProvider talks to prompt-style completion endpoints, such as a
// gateway in front of a hosted Mistral instruct model. The request carries a
// single instruction-formatted prompt and the response body is returned
// untouched: it is usually an {"outputs":[{"text":...}]} envelope that
// llm.Extract unwraps.
type CompletionProvider struct{}

func init() {
	llm.RegisterProvider(&CompletionProvider{})
}

// Name returns the provider identifier.
func (c *CompletionProvider) Name() string {
	return "completion"
}

// BuildURL uses the configured URL as is.
func (c *CompletionProvider) BuildURL(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/")
}

// SetHeaders adds a bearer token when COMPLETION_API_KEY is set.
func (c *CompletionProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("COMPLETION_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
}

// BuildRequestBody folds the messages into one [INST] prompt.
func (c *CompletionProvider) BuildRequestBody(_ string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	return json.Marshal(completionRequest{
		Prompt:      FormatInstructPrompt(messages),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        0.9,
	})
}

// ParseResponse returns the body as the response content.
func (c *CompletionProvider) ParseResponse(body []byte, model string) (*llm.Response, error) {
	return &llm.Response{
		Content: string(body),
		Model:   model,
	}, nil
}

// FormatInstructPrompt renders chat messages in the Mistral instruct format.
// System text is prepended to the first user turn.
func FormatInstructPrompt(messages []llm.Message) string {
	var (
		b      strings.Builder
		system []string
	)
	b.WriteString("<s>")
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			b.WriteString(msg.Content)
			b.WriteString("</s>")
		default:
			content := msg.Content
			if len(system) > 0 {
				content = strings.Join(system, "\n\n") + "\n\n" + content
				system = nil
			}
			b.WriteString("[INST] ")
			b.WriteString(content)
			b.WriteString(" [/INST]")
		}
	}
	return b.String()
}
