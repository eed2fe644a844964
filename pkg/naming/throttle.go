package naming

import (
	"sort"
	"strings"
	"time"
)

// ThrottleTable holds per-host minimum delays between requests. Keys are
// matched as substrings of the request host.
type ThrottleTable struct {
	overrides map[string]time.Duration
	keys      []string
}

// NewThrottleTable builds a table from host substring to delay
func NewThrottleTable(overrides map[string]time.Duration) *ThrottleTable {
	t := &ThrottleTable{overrides: make(map[string]time.Duration, len(overrides))}
	for k, v := range overrides {
		if k == "" {
			continue
		}
		t.overrides[k] = v
		t.keys = append(t.keys, k)
	}
	sort.Strings(t.keys)
	return t
}

// For returns the throttle to use for host: the larger of base and any
// matching override
func (t *ThrottleTable) For(host string, base time.Duration) time.Duration {
	throttle := base
	if t == nil {
		return throttle
	}
	for _, k := range t.keys {
		if strings.Contains(host, k) && t.overrides[k] > throttle {
			throttle = t.overrides[k]
		}
	}
	return throttle
}
