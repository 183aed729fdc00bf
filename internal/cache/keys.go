package cache

import "fmt"

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// LastRunKey holds the JSON-encoded response of the most recent run.
func LastRunKey() string {
	return "run:last"
}
