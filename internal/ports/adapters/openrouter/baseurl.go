package openrouter

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DefaultBaseURL is the OpenRouter origin; the client appends /api/v1/.
const DefaultBaseURL = "https://openrouter.ai"

// ErrBaseURL marks an endpoint rejected by ValidateBaseURL. The message names
// both places the value can come from.
var ErrBaseURL = errors.New("invalid openrouter.base_url (OPENROUTER_BASE_URL)")

// DefaultAllowedHosts are accepted when openrouter.allowed_hosts is empty.
func DefaultAllowedHosts() []string {
	return []string{"openrouter.ai", "api.openrouter.ai"}
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// ValidateBaseURL checks that the analyzer only ever uploads video to a known
// host. The URL must be absolute, carry no credentials, query or fragment, and
// use https. Plain http is accepted for a loopback proxy only. The host must be
// listed in allowedHosts, or in DefaultAllowedHosts when that list is empty.
func ValidateBaseURL(baseURL string, allowedHosts []string) error {
	raw := normalizeBaseURL(baseURL)
	reject := func(format string, args ...any) error {
		return fmt.Errorf("%w %q: %s", ErrBaseURL, raw, fmt.Sprintf(format, args...))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBaseURL, err)
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case !u.IsAbs() || host == "":
		return reject("absolute URL with host is required")
	case u.User != nil:
		return reject("credentials belong in OPENROUTER_API_KEY, not the URL")
	case u.RawQuery != "" || u.Fragment != "":
		return reject("query and fragment are not allowed")
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !isLoopback(host) {
			return reject("https is required for non-loopback hosts")
		}
	default:
		return reject("unsupported scheme %q", u.Scheme)
	}

	allowed := allowedHostSet(allowedHosts)
	if _, ok := allowed[host]; !ok {
		return reject("host %q is not in openrouter.allowed_hosts (OPENROUTER_ALLOWED_HOSTS)", host)
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// allowedHostSet accepts bare hosts or URLs and drops schemes, ports and
// trailing slashes.
func allowedHostSet(hosts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		v := strings.ToLower(strings.TrimSpace(h))
		if i := strings.Index(v, "://"); i >= 0 {
			v = v[i+3:]
		}
		v, _, _ = strings.Cut(v, "/")
		if host, _, err := net.SplitHostPort(v); err == nil {
			v = host
		}
		v = strings.Trim(v, "[]")
		if v != "" {
			out[v] = struct{}{}
		}
	}
	if len(out) == 0 {
		for _, h := range DefaultAllowedHosts() {
			out[h] = struct{}{}
		}
	}
	return out
}
