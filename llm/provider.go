package llm

import (
	"net/http"
	"sort"
	"sync"
)

// Provider adapts the chat request and response to one vendor's wire format.
// All capabilities served by an endpoint share its provider.
type Provider interface {
	// Name is the value endpoints select with provider: in the model config.
	Name() string

	// BuildURL appends the chat path to the endpoint base URL.
	BuildURL(baseURL string) string

	// SetHeaders sets auth and content headers on the outgoing request.
	SetHeaders(req *http.Request)

	// BuildRequestBody encodes the conversation. A nil temperature leaves the
	// vendor default in place.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse decodes the vendor body into a Response for model.
	ParseResponse(body []byte, model string) (*Response, error)
}

var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider makes p selectable by name. Registering a name twice
// replaces the earlier provider.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider returns the provider registered under name, or nil.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns the registered names in sorted order.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
