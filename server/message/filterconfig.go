package message

import "github.com/experiment-hub/experiment-hub/server/identifiers"

// FilterConfig is the wire shape of one filter instance. An empty id
// requests creation of a new instance; a non-empty id must reference an
// existing instance on the same track.
type FilterConfig struct {
	Name        string                  `json:"name"`
	ID          identifiers.FilterID    `json:"id"`
	Type        string                  `json:"type"`
	Channel     string                  `json:"channel"`
	GroupFilter bool                    `json:"groupFilter"`
	Config      map[string]FilterOption `json:"config"`
}

// FilterOption is one typed, bounded configuration value of a filter.
type FilterOption struct {
	Value        interface{} `json:"value"`
	DefaultValue interface{} `json:"defaultValue"`
	Min          *float64    `json:"min,omitempty"`
	Max          *float64    `json:"max,omitempty"`
	Step         *float64    `json:"step,omitempty"`

	// RequiresOtherFilter names another filter type that must be present
	// in the global registry. Validated once at startup.
	RequiresOtherFilter string `json:"requiresOtherFilter,omitempty"`
}

const (
	ChannelAudio = "audio"
	ChannelVideo = "video"
	ChannelBoth  = "both"
)

// DuplicateFilterIDs reports the first non-empty id that appears more
// than once in configs. Duplicate ids within one request are rejected
// before any mutation.
func DuplicateFilterIDs(configs []FilterConfig) (identifiers.FilterID, bool) {
	seen := map[identifiers.FilterID]struct{}{}

	for _, config := range configs {
		if config.ID == "" {
			continue
		}

		if _, ok := seen[config.ID]; ok {
			return config.ID, true
		}

		seen[config.ID] = struct{}{}
	}

	return "", false
}
