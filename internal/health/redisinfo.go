package health

import (
	"strconv"
	"strings"
)

// splitLines and matchRedisField parse the Redis INFO command's flat
// "key:value\r\n" text format .
func splitLines(info string) []string {
	return strings.Split(strings.ReplaceAll(info, "\r\n", "\n"), "\n")
}

func matchRedisField(line, key string) (string, bool) {
	prefix := key + ":"
	if strings.HasPrefix(line, prefix) {
		return strings.TrimPrefix(line, prefix), true
	}
	return "", false
}

func parseFloatOr(s string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fallback
	}
	return v
}
