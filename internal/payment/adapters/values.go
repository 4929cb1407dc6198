package adapters

import (
	"strings"
	"time"
)

// ReadString returns a trimmed string setting.
func ReadString(settings map[string]any, key string) (string, bool) {
	value, ok := settings[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	if !ok {
		return "", false
	}
	cast = strings.TrimSpace(cast)
	return cast, cast != ""
}

func ReadDuration(settings map[string]any, key string, def time.Duration) time.Duration {
	switch cast := settings[key].(type) {
	case time.Duration:
		if cast > 0 {
			return cast
		}
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(cast)); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// FlattenQuery keeps the first value of each parameter for the raw payload.
func FlattenQuery(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
