package tcpserver

import (
	"sort"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// SessionSummary describes a recently ended session, kept for operators to
// inspect why peers dropped without trawling logs.
type SessionSummary struct {
	ID             uint64
	RemoteAddr     string
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	Reason         string
}

// sessionHistory retains SessionSummary records in a TTL cache so the set of
// recent disconnects stays bounded regardless of connection churn.
type sessionHistory struct {
	cache *cache.Cache
}

// newSessionHistory creates a history whose entries expire after ttl.
func newSessionHistory(ttl time.Duration) *sessionHistory {
	return &sessionHistory{
		cache: cache.New(ttl, ttl),
	}
}

// record stores one summary under the session's id.
func (h *sessionHistory) record(sum SessionSummary) {
	h.cache.Set(strconv.FormatUint(sum.ID, 10), sum, cache.DefaultExpiration)
}

// summaries returns the unexpired records, newest disconnect first.
func (h *sessionHistory) summaries() []SessionSummary {
	items := h.cache.Items()
	out := make([]SessionSummary, 0, len(items))
	for _, item := range items {
		if sum, ok := item.Object.(SessionSummary); ok {
			out = append(out, sum)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].DisconnectedAt.After(out[j].DisconnectedAt)
	})

	return out
}
