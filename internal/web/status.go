package web

import (
	"sync"
	"time"
)

// Source reports one component's state. It is called on every status
// request and must be safe for concurrent use.
type Source func() any

type Status struct {
	start time.Time

	mu      sync.RWMutex
	order   []string
	sources map[string]Source
}

func NewStatus() *Status {
	return &Status{
		start:   time.Now().UTC(),
		sources: make(map[string]Source),
	}
}

// Register adds or replaces a named component. A nil src removes it.
func (s *Status) Register(name string, src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src == nil {
		if _, ok := s.sources[name]; ok {
			delete(s.sources, name)
			for i, n := range s.order {
				if n == name {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		}
		return
	}
	if _, ok := s.sources[name]; !ok {
		s.order = append(s.order, name)
	}
	s.sources[name] = src
}

type StatusSnapshot struct {
	Service    string         `json:"service"`
	NowUTC     string         `json:"now_utc"`
	UptimeSec  int64          `json:"uptime_sec"`
	Uptime     string         `json:"uptime"`
	Order      []string       `json:"order"`
	Components map[string]any `json:"components"`
	Disk       *DiskSnapshot  `json:"disk,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	uptime := nowUTC.Sub(s.start)
	if uptime < 0 {
		uptime = 0
	}

	s.mu.RLock()
	order := append([]string(nil), s.order...)
	sources := make([]Source, len(order))
	for i, name := range order {
		sources[i] = s.sources[name]
	}
	s.mu.RUnlock()

	comps := make(map[string]any, len(order))
	for i, name := range order {
		comps[name] = sources[i]()
	}

	return StatusSnapshot{
		Service:    "polaris-ng",
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  int64(uptime.Seconds()),
		Uptime:     uptime.Truncate(time.Second).String(),
		Order:      order,
		Components: comps,
		Disk:       snapshotDisk(),
	}
}

type DiskSnapshot struct {
	RootPath       string  `json:"root_path,omitempty"`
	RootTotalBytes uint64  `json:"root_total_bytes,omitempty"`
	RootAvailBytes uint64  `json:"root_avail_bytes,omitempty"`
	RootAvail      string  `json:"root_avail,omitempty"`
	UsedPct        float64 `json:"used_pct,omitempty"`
	LastError      string  `json:"last_error,omitempty"`
}
