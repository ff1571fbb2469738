// Package telem keeps recent telemetry in RAM: scored samples in bounded ring
// buffers, plus event, decision and campaign history for the reporting
// surface. Nothing here is durable; see pkg/store for persistence.
package telem

import (
	"fmt"
	"sync"
	"time"

	"github.com/markus-lassfolk/lteopt/pkg"
)

// SampleBuffer is a fixed-capacity FIFO ring of scored samples. The oldest
// sample is evicted when the buffer is full.
type SampleBuffer struct {
	mu       sync.RWMutex
	data     []*pkg.ScoredSample
	capacity int
	head     int
	size     int
}

// NewSampleBuffer creates a ring buffer with the given capacity.
func NewSampleBuffer(capacity int) (*SampleBuffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("sample buffer capacity must be positive, got %d", capacity)
	}
	return &SampleBuffer{
		data:     make([]*pkg.ScoredSample, capacity),
		capacity: capacity,
	}, nil
}

// Append adds a sample, evicting the oldest when full.
func (b *SampleBuffer) Append(sample *pkg.ScoredSample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[(b.head+b.size)%b.capacity] = sample
	if b.size < b.capacity {
		b.size++
	} else {
		b.head = (b.head + 1) % b.capacity
	}
}

// Last returns up to n most recent samples in chronological order.
func (b *SampleBuffer) Last(n int) []*pkg.ScoredSample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.size {
		n = b.size
	}
	out := make([]*pkg.ScoredSample, 0, n)
	for i := b.size - n; i < b.size; i++ {
		out = append(out, b.data[(b.head+i)%b.capacity])
	}
	return out
}

// Since returns samples with a timestamp after the given time, in
// chronological order.
func (b *SampleBuffer) Since(since time.Time) []*pkg.ScoredSample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*pkg.ScoredSample
	for i := 0; i < b.size; i++ {
		s := b.data[(b.head+i)%b.capacity]
		if s.Timestamp.After(since) {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the current number of buffered samples.
func (b *SampleBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the fixed buffer capacity.
func (b *SampleBuffer) Capacity() int {
	return b.capacity
}

// Store holds event, decision and campaign history for reporting. Readers
// never block writers for longer than a copy.
type Store struct {
	mu sync.RWMutex

	events       []*pkg.Event
	maxEvents    int
	decisions    []*pkg.Decision
	maxDecisions int

	lastCampaign map[string]*pkg.BandProfile
	campaignTime time.Time

	// Optional callback for real-time event publishing.
	eventCallback func(*pkg.Event)
}

// NewStore creates a telemetry store with bounded event and decision history.
func NewStore(maxEvents, maxDecisions int) *Store {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	if maxDecisions <= 0 {
		maxDecisions = 1000
	}
	return &Store{
		maxEvents:    maxEvents,
		maxDecisions: maxDecisions,
	}
}

// SetEventCallback registers a callback invoked (in its own goroutine) for
// every added event.
func (s *Store) SetEventCallback(cb func(*pkg.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventCallback = cb
}

// AddEvent appends a system event, evicting the oldest past the limit.
func (s *Store) AddEvent(event *pkg.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	cb := s.eventCallback
	s.mu.Unlock()

	if cb != nil {
		go cb(event)
	}
}

// RecordDecision appends a decision, evicting the oldest past the limit.
// Implements pkg.DecisionSink.
func (s *Store) RecordDecision(decision *pkg.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, decision)
	if len(s.decisions) > s.maxDecisions {
		s.decisions = s.decisions[len(s.decisions)-s.maxDecisions:]
	}
}

// Events returns events after the given time, most recent last, capped at
// limit (0 = no cap).
func (s *Store) Events(since time.Time, limit int) []*pkg.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*pkg.Event
	for _, e := range s.events {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Decisions returns decisions after the given time, most recent last, capped
// at limit (0 = no cap).
func (s *Store) Decisions(since time.Time, limit int) []*pkg.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*pkg.Decision
	for _, d := range s.decisions {
		if d.Timestamp.After(since) {
			out = append(out, d)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// SetLastCampaign records the profiles of the most recent band test campaign.
func (s *Store) SetLastCampaign(profiles map[string]*pkg.BandProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCampaign = profiles
	s.campaignTime = time.Now()
}

// LastCampaign returns the most recent campaign profiles and when they were
// recorded. The returned map is a shallow copy; profiles are immutable.
func (s *Store) LastCampaign() (map[string]*pkg.BandProfile, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastCampaign == nil {
		return nil, time.Time{}
	}
	out := make(map[string]*pkg.BandProfile, len(s.lastCampaign))
	for band, profile := range s.lastCampaign {
		out[band] = profile
	}
	return out, s.campaignTime
}
