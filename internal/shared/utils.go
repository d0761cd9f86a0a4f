// Package shared holds the types, errors and helpers used across the relay
package shared

import (
	"fmt"
	"os"
	"strings"
)

func SafeEnv(env string) (string, error) {
	// Lookup env variable, and error if not present
	res, present := os.LookupEnv(env)
	if !present {
		return "", fmt.Errorf("missing environment variable %s", env)
	}
	return res, nil
}

// ExtractBearerToken pulls the credential out of an Authorization header value
func ExtractBearerToken(auth string) (string, error) {
	if strings.TrimSpace(auth) == "" {
		return "", ErrMissingAuth
	}

	// Validate bearer format
	parts := strings.Fields(auth)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", ErrInvalidFormat
	}

	return parts[1], nil
}

// Truncate shortens s to max bytes for logging
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}
