package util

import "os"

// EnvOrDefault returns the environment variable value, or fallback when the
// variable is unset or empty. Flags use it so DAYLOG_* variables can stand
// in for command-line options in container deployments.
func EnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
