package rabbitmq

import (
	"errors"
	"net/url"
	"strings"
)

var errInvalidScheme = errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")

// sanitizeAMQPURL strips quoting and stray leading characters that commonly sneak in
// through env files, then checks the scheme.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errInvalidScheme
	}
	return clean, nil
}
