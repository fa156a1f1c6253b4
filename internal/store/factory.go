package store

import (
	"fmt"
	"net/http"
	"strings"
)

// Open selects a backend from the store URL scheme: postgres:// URLs get the
// direct database backend (whose change feed rides LISTEN/NOTIFY), anything
// http(s) gets the REST client. The returned Feed is nil for REST backends;
// their change feed is the realtime websocket channel, wired separately.
func Open(storeURL, apiKey string, httpClient *http.Client) (Store, Feed, error) {
	trimmed := strings.TrimSpace(storeURL)
	switch {
	case trimmed == "":
		return nil, nil, fmt.Errorf("store url is required")
	case strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://"):
		backend, err := NewPostgresStore(trimmed)
		if err != nil {
			return nil, nil, err
		}
		return backend, backend, nil
	case strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://"):
		return NewRESTStore(trimmed, apiKey, httpClient), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store url %q", trimmed)
	}
}
