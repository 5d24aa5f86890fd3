package providers

import (
	"net/http"
	"os"

	"github.com/c360studio/braindump/llm"
)

// MistralProvider implements the Mistral chat completions API.
// Requests ask for a JSON object response.
type MistralProvider struct {
	OpenAIProvider
}

func init() {
	llm.RegisterProvider(&MistralProvider{})
}

// Name returns the provider identifier.
func (m *MistralProvider) Name() string {
	return "mistral"
}

// BuildURL constructs the Mistral chat completions endpoint.
func (m *MistralProvider) BuildURL(baseURL string) string {
	return chatCompletionsURL(baseURL, "https://api.mistral.ai/v1")
}

// SetHeaders adds Mistral authentication.
func (m *MistralProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("MISTRAL_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// BuildRequestBody creates a chat request in JSON mode.
func (m *MistralProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	return buildChatBody(model, messages, temperature, maxTokens, true)
}
