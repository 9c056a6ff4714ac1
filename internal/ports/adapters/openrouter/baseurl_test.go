package openrouter

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		hosts   []string
		wantErr string
	}{
		{name: "empty uses default", baseURL: ""},
		{name: "api host", baseURL: "https://api.openrouter.ai/"},
		{name: "relative", baseURL: "openrouter.ai", wantErr: "absolute URL"},
		{name: "credentials in url", baseURL: "https://user:pw@openrouter.ai", wantErr: "OPENROUTER_API_KEY"},
		{name: "query", baseURL: "https://openrouter.ai?x=1", wantErr: "query"},
		{name: "plain http", baseURL: "http://openrouter.ai", wantErr: "https is required"},
		{name: "ftp", baseURL: "ftp://openrouter.ai", wantErr: "unsupported scheme"},
		{name: "unknown host", baseURL: "https://evil.example", wantErr: "openrouter.allowed_hosts"},
		{name: "configured host", baseURL: "https://proxy.internal", hosts: []string{"https://proxy.internal:8443/"}},
		{name: "configured host replaces defaults", baseURL: "https://openrouter.ai", hosts: []string{"proxy.internal"}, wantErr: "not in"},
		{name: "loopback proxy over http", baseURL: "http://127.0.0.1:8080", hosts: []string{"127.0.0.1"}},
		{name: "loopback still needs allow list", baseURL: "http://localhost:8080", wantErr: "not in"},
		{name: "blank allow list entries", baseURL: "https://openrouter.ai", hosts: []string{" ", "https://"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL(tt.baseURL, tt.hosts)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrBaseURL) {
				t.Fatalf("expected ErrBaseURL, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), "openrouter.base_url") {
				t.Fatalf("error should name the config key: %v", err)
			}
		})
	}
}
