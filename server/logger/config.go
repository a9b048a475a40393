package logger

import "strings"

// Config resolves the enabled Level for a namespace. Namespaces are
// colon-separated, e.g. "hub:user:participant". Config entries may use
// "*" to match a single namespace segment and "**" to match any number
// of segments, e.g. "hub:**" or "**:pion:**".
type Config interface {
	LevelForNamespace(namespace string) Level
}

// ConfigMap maps namespace patterns to levels.
type ConfigMap map[string]Level

type config struct {
	entries ConfigMap
}

// NewConfig creates a Config from a ConfigMap.
func NewConfig(m ConfigMap) Config {
	entries := make(ConfigMap, len(m))

	for k, v := range m {
		entries[k] = v
	}

	return config{entries: entries}
}

// NewConfigMapFromString parses a config string in the format:
//
//	namespace1:level,namespace2:**:level
//
// The last colon-separated component of each comma-separated entry is the
// level name. An entry without a level enables info.
func NewConfigMapFromString(str string) Config {
	entries := ConfigMap{}

	for _, entry := range strings.Split(str, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		pattern := entry
		level := LevelInfo

		if i := strings.LastIndex(entry, ":"); i >= 0 {
			if parsed := NewLevelFromString(entry[i+1:]); parsed != LevelUnknown {
				pattern = entry[:i]
				level = parsed
			}
		}

		entries[pattern] = level
	}

	return NewConfig(entries)
}

func (c config) LevelForNamespace(namespace string) Level {
	best := LevelUnknown
	bestScore := -1

	for pattern, level := range c.entries {
		if score, ok := matchNamespace(pattern, namespace); ok && score > bestScore {
			best = level
			bestScore = score
		}
	}

	if best == LevelUnknown {
		return LevelDisabled
	}

	return best
}

// matchNamespace reports whether pattern matches namespace and how
// specific the match is. Literal segments score higher than wildcards so
// that "hub:user" wins over "hub:**".
func matchNamespace(pattern, namespace string) (int, bool) {
	if pattern == "" {
		// The empty pattern is the default entry matching everything.
		return 0, true
	}

	p := strings.Split(pattern, ":")
	n := strings.Split(namespace, ":")

	score, ok := matchSegments(p, n)

	return score, ok
}

func matchSegments(pattern, namespace []string) (int, bool) {
	if len(pattern) == 0 {
		if len(namespace) == 0 {
			return 0, true
		}

		return 0, false
	}

	switch pattern[0] {
	case "**":
		// Try consuming zero or more namespace segments.
		for skip := 0; skip <= len(namespace); skip++ {
			if score, ok := matchSegments(pattern[1:], namespace[skip:]); ok {
				return score + 1, true
			}
		}

		return 0, false
	case "*":
		if len(namespace) == 0 {
			return 0, false
		}

		score, ok := matchSegments(pattern[1:], namespace[1:])

		return score + 1, ok
	default:
		if len(namespace) == 0 || pattern[0] != namespace[0] {
			return 0, false
		}

		score, ok := matchSegments(pattern[1:], namespace[1:])

		return score + 2, ok
	}
}
