package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue returns the trimmed value of key and whether it is non-empty.
func envValue(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// envParse reads key through parse. Unset, unparsable or rejected values
// fall back to def.
func envParse[T any](key string, def T, parse func(string) (T, error), ok func(T) bool) T {
	raw, set := envValue(key)
	if !set {
		return def
	}
	v, err := parse(raw)
	if err != nil || (ok != nil && !ok(v)) {
		return def
	}
	return v
}

// EnvString reads a string env var with a default.
func EnvString(key, def string) string {
	if v, ok := envValue(key); ok {
		return v
	}
	return def
}

// EnvBool reads a bool env var with a default.
func EnvBool(key string, def bool) bool {
	return envParse(key, def, strconv.ParseBool, nil)
}

// EnvInt reads a positive int env var with a default.
func EnvInt(key string, def int) int {
	return envParse(key, def, strconv.Atoi, func(n int) bool { return n > 0 })
}

// EnvInt32 reads a non-negative int32 env var with a default.
func EnvInt32(key string, def int32) int32 {
	parse := func(s string) (int32, error) {
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	}
	return envParse(key, def, parse, func(n int32) bool { return n >= 0 })
}

// EnvDuration reads a positive duration env var with a default.
// "off", "none" and "0" yield zero, which disables optional timeouts.
func EnvDuration(key string, def time.Duration) time.Duration {
	parse := func(s string) (time.Duration, error) {
		switch strings.ToLower(s) {
		case "off", "none", "0":
			return 0, nil
		}
		return time.ParseDuration(s)
	}
	return envParse(key, def, parse, func(d time.Duration) bool { return d >= 0 })
}

// EnvCSV reads a comma-separated list with a comma-separated default.
// Empty items are dropped.
func EnvCSV(key, def string) []string {
	raw, ok := envValue(key)
	if !ok {
		raw = def
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
