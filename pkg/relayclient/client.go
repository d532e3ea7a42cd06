// Package relayclient provides the main entry point for creating API clients.
package relayclient

import (
	"strings"

	"github.com/meridian-io/relay/internal/client"
	"github.com/meridian-io/relay/pkg/relay"
)

// New creates a client for the API at config.BaseURL. The returned client
// implements relay.Executor, so collections are built directly on it:
//
//	c, err := relayclient.New(&relay.Config{BaseURL: "https://api.example.com"})
//	widgets, err := relay.NewCollection(c, "/v1/widgets", func(w Widget) string { return w.ID })
func New(config *relay.Config) (*client.Client, error) {
	if config == nil {
		return nil, relay.ErrConfigRequired
	}

	if config.BaseURL == "" {
		return nil, relay.ErrBaseURLRequired
	}

	// Normalize the base URL
	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}

	config.BaseURL = baseURL

	return client.New(config)
}
