package directory

import (
	"strings"
	"time"
)

// Entry sources.
const (
	// SourceConfig marks entries seeded from config.yaml. They take
	// precedence over discovered entries for the same moniker.
	SourceConfig = "config"

	// SourceDiscovery marks entries learned from host announcements.
	SourceDiscovery = "discovery"

	// SourceAPI marks entries set by an operator through the API.
	SourceAPI = "api"
)

// Entry maps one driver moniker to the host that runs it.
type Entry struct {
	Moniker   string    `json:"moniker"`
	Host      string    `json:"host"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// key is the case-insensitive cache key for a moniker.
func key(moniker string) string {
	return strings.ToLower(moniker)
}

// rank orders sources by precedence. Unknown sources rank with discovery.
func rank(source string) int {
	switch source {
	case SourceConfig, SourceAPI:
		return 2
	default:
		return 1
	}
}

// outranks reports whether an entry from source a may replace one from b.
func outranks(a, b string) bool {
	return rank(a) >= rank(b)
}
