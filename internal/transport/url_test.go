package transport

import (
	"net/url"
	"strings"
	"testing"
)

func TestEndpointURL(t *testing.T) {
	cfg := Config{
		BaseURL:   "https://stream.tradelink.example",
		DeviceID:  "device-42",
		UserAgent: "tradelink-go/1.0",
	}

	got, err := endpointURL(cfg, "/v1/events", "tok-abc", false)
	if err != nil {
		t.Fatalf("endpointURL failed: %v", err)
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("result not a URL: %v", err)
	}
	if u.Scheme != "https" {
		t.Errorf("scheme = %q, want https", u.Scheme)
	}
	if u.Path != "/v1/events" {
		t.Errorf("path = %q, want /v1/events", u.Path)
	}

	q := u.Query()
	if q.Get("token") != "tok-abc" {
		t.Errorf("token = %q, want tok-abc", q.Get("token"))
	}
	if q.Get("device_id") != "device-42" {
		t.Errorf("device_id = %q, want device-42", q.Get("device_id"))
	}
	if q.Get("user_agent") != "tradelink-go/1.0" {
		t.Errorf("user_agent = %q, want tradelink-go/1.0", q.Get("user_agent"))
	}
}

func TestEndpointURLWebSocketScheme(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://stream.tradelink.example", "wss"},
		{"http://localhost:8080", "ws"},
	}

	for _, tt := range tests {
		got, err := endpointURL(Config{BaseURL: tt.base, DeviceID: "d"}, "/v1/stream", "tok", true)
		if err != nil {
			t.Fatalf("endpointURL(%q) failed: %v", tt.base, err)
		}
		if !strings.HasPrefix(got, tt.want+"://") {
			t.Errorf("endpointURL(%q) = %q, want scheme %s", tt.base, got, tt.want)
		}
	}
}

func TestEndpointURLOmitsEmptyUserAgent(t *testing.T) {
	got, err := endpointURL(Config{BaseURL: "https://x.example", DeviceID: "d"}, "/v1/poll", "tok", false)
	if err != nil {
		t.Fatalf("endpointURL failed: %v", err)
	}
	if strings.Contains(got, "user_agent") {
		t.Errorf("URL %q carries empty user_agent param", got)
	}
}

func TestEndpointURLRejectsGarbage(t *testing.T) {
	if _, err := endpointURL(Config{BaseURL: "not a url"}, "/v1/stream", "tok", true); err == nil {
		t.Error("endpointURL accepted invalid base URL")
	}
}
