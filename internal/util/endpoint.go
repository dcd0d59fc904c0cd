package util

import (
	"fmt"
	"net/url"
	"strings"
)

// redactedPassword replaces credentials in redacted endpoints.
const redactedPassword = "xxxxx"

// EndpointScheme returns the lower-cased scheme of a backend endpoint URL.
func EndpointScheme(rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("endpoint URL cannot be empty")
	}

	i := strings.Index(rawURL, "://")
	if i <= 0 {
		return "", fmt.Errorf("endpoint URL must have a scheme: %s", RedactEndpoint(rawURL))
	}

	return strings.ToLower(rawURL[:i]), nil
}

// RedactEndpoint hides the password of an endpoint URL. Strings that do not
// parse as URLs are reduced to their scheme.
func RedactEndpoint(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		if i := strings.Index(rawURL, "://"); i > 0 {
			return rawURL[:i] + "://" + redactedPassword
		}
		return redactedPassword
	}

	if u.User == nil {
		return u.String()
	}

	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), redactedPassword)
	}
	return u.String()
}
