package security

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrInvalidScheme = fmt.Errorf("only HTTP and HTTPS URLs are allowed")
	ErrMissingHost   = fmt.Errorf("URL has no host")
	ErrUserInfo      = fmt.Errorf("URL must not carry credentials")
)

// ValidateGalleryURL checks a gallery link before it is handed to the system browser.
// The service controls this value, so anything that could launch a local handler
// (file:, javascript:, custom schemes) is refused.
func ValidateGalleryURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("invalid URL: empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return ErrInvalidScheme
	}

	if parsed.Hostname() == "" {
		return ErrMissingHost
	}

	if parsed.User != nil {
		return ErrUserInfo
	}

	return nil
}
