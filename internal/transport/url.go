package transport

import (
	"fmt"
	"net/url"
)

// endpointURL builds the full URL for an endpoint, carrying the token,
// device id, and optional user agent as query parameters. Consumers must
// match this parameter set against the backend contract.
func endpointURL(cfg Config, path, tok string, websocket bool) (string, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if websocket {
		switch u.Scheme {
		case "https", "wss":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
	}

	u.Path = path

	q := u.Query()
	q.Set("token", tok)
	q.Set("device_id", cfg.DeviceID)
	if cfg.UserAgent != "" {
		q.Set("user_agent", cfg.UserAgent)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
