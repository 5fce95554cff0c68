package util

import (
	"errors"
	"net/url"
	"strings"
)

// ValidateWebhookURL accepts absolute http and https URLs with a host.
func ValidateWebhookURL(raw string) error {
	if strings.TrimSpace(raw) != raw || raw == "" {
		return errors.New("url is required and must not contain surrounding spaces")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.New("url is malformed")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if parsed.Host == "" || parsed.Hostname() == "" {
		return errors.New("url must include a host")
	}
	if parsed.Fragment != "" {
		return errors.New("url must not include a fragment")
	}
	return nil
}

// RedactURL drops credentials and the query string so a URL is safe to log.
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	parsed.User = nil
	if parsed.RawQuery != "" {
		parsed.RawQuery = "redacted"
	}
	return parsed.String()
}
