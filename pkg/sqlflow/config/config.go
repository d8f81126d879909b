package config

import (
	"strconv"
	"strings"
	"time"
)

// Config wraps a nested map[string]any for typed value extraction. Keys
// are dotted paths into nested maps ("database.url"). All accessors return
// the default when the key is missing or the value cannot be converted.
//
// String values are coerced for the numeric, boolean and slice accessors,
// so environment overrides can be stored as plain strings.
type Config struct {
	data map[string]any
}

// New wraps data. A nil map yields an empty Config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// lookup walks the dotted key through nested maps.
func (c Config) lookup(key string) (any, bool) {
	var cur any = c.data
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Config:
		return m.data, true
	}
	return nil, false
}

// Set stores value at the dotted key, creating intermediate maps. A
// non-map value in the way is replaced.
func (c Config) Set(key string, value any) {
	parts := strings.Split(key, ".")
	m := c.data
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// Section returns the nested map at key as a Config, or an empty Config.
func (c Config) Section(key string) Config {
	v, ok := c.lookup(key)
	if !ok {
		return New(nil)
	}
	m, ok := asMap(v)
	if !ok {
		return New(nil)
	}
	return New(m)
}

// value looks key up and converts it, falling back to def when the key
// is absent or conv rejects the value.
func value[T any](c Config, key string, def T, conv func(any) (T, bool)) T {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	if out, ok := conv(v); ok {
		return out
	}
	return def
}

// String returns the string at key.
func (c Config) String(key, defaultVal string) string {
	return value(c, key, defaultVal, func(v any) (string, bool) {
		s, ok := v.(string)
		return s, ok
	})
}

// Duration returns the duration at key. Strings go through
// time.ParseDuration; bare numbers are seconds.
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	return value(c, key, defaultVal, toDuration)
}

// Bool returns the bool at key.
func (c Config) Bool(key string, defaultVal bool) bool {
	return value(c, key, defaultVal, func(v any) (bool, bool) {
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			return parsed, err == nil
		}
		return false, false
	})
}

// Int returns the int at key. A float converts only when it is whole.
func (c Config) Int(key string, defaultVal int) int {
	return value(c, key, defaultVal, func(v any) (int, bool) {
		f, ok := toFloat(v)
		if !ok || f != float64(int(f)) {
			return 0, false
		}
		return int(f), true
	})
}

// Float returns the float64 at key.
func (c Config) Float(key string, defaultVal float64) float64 {
	return value(c, key, defaultVal, toFloat)
}

// StringSlice returns the list at key. A plain string is split on commas
// with blank items dropped, which is how env overrides arrive.
func (c Config) StringSlice(key string, defaultVal []string) []string {
	return value(c, key, defaultVal, toStrings)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed, true
		}
	}
	secs, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

func toStrings(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		out := []string{}
		for _, item := range strings.Split(list, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, true
	}
	return nil, false
}

// Has reports whether key is set.
func (c Config) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

// Raw exposes the backing map. Treat it as read-only.
func (c Config) Raw() map[string]any {
	return c.data
}
