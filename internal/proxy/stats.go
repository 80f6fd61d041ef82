package proxy

import "sync/atomic"

// Stats holds the process-wide request counters. Each Connection updates
// only its own requests via these atomic fields; nothing ever locks to
// read them, and Snapshot loads them atomically at report time.
type Stats struct {
	Total   int64
	Allowed int64
	Blocked int64
	Errored int64
}

func (s *Stats) addAllowed() {
	atomic.AddInt64(&s.Allowed, 1)
	atomic.AddInt64(&s.Total, 1)
}

func (s *Stats) addBlocked() {
	atomic.AddInt64(&s.Blocked, 1)
	atomic.AddInt64(&s.Total, 1)
}

func (s *Stats) addErrored() {
	atomic.AddInt64(&s.Errored, 1)
	atomic.AddInt64(&s.Total, 1)
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() (total, allowed, blocked, errored int64) {
	return atomic.LoadInt64(&s.Total), atomic.LoadInt64(&s.Allowed), atomic.LoadInt64(&s.Blocked), atomic.LoadInt64(&s.Errored)
}

// ConnectionStats tracks one session's counters and the peer address
// its log records are labeled with. It is allocated when the client is
// accepted, owned exclusively by that session's Connection (plain ints,
// no synchronization needed), and dropped when the session closes.
type ConnectionStats struct {
	SrcIP   string
	SrcPort int
	Total   int
	Allowed int
	Blocked int
	Errored int
}

func (s *ConnectionStats) addAllowed() {
	s.Allowed++
	s.Total++
}

func (s *ConnectionStats) addBlocked() {
	s.Blocked++
	s.Total++
}

func (s *ConnectionStats) addErrored() {
	s.Errored++
	s.Total++
}
