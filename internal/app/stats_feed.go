package app

import (
	"sync"
	"time"

	"mcq-bot/internal/domain"
)

// feedTopN bounds the leaderboard rows carried by one update.
const feedTopN = 10

// StatsUpdate is a leaderboard view of one bucket pushed to live subscribers.
type StatsUpdate struct {
	Bucket    domain.Bucket         `json:"bucket"`
	Total     int                   `json:"total"`
	Entries   []domain.RankedEntity `json:"entries"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// NewStatsUpdate ranks snap for publication.
func NewStatsUpdate(b domain.Bucket, snap domain.StatsSnapshot, now time.Time) StatsUpdate {
	return StatsUpdate{Bucket: b, Total: snap.Total, Entries: Ranked(snap, feedTopN), UpdatedAt: now}
}

// StatsFeed fans out snapshot changes to subscribers of a bucket kind. It is
// process-local: other instances' writes show up on the next snapshot read.
type StatsFeed struct {
	mu          sync.Mutex
	now         func() time.Time
	subscribers map[chan StatsUpdate]domain.BucketKind
}

func NewStatsFeed(now func() time.Time) *StatsFeed {
	if now == nil {
		now = time.Now
	}
	return &StatsFeed{now: now, subscribers: make(map[chan StatsUpdate]domain.BucketKind)}
}

// Subscribe returns a channel of updates for kind. The caller must invoke
// the returned cancel function to avoid leaks.
func (f *StatsFeed) Subscribe(kind domain.BucketKind) (<-chan StatsUpdate, func()) {
	ch := make(chan StatsUpdate, 8)
	f.mu.Lock()
	f.subscribers[ch] = kind
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends the ranked snapshot to every subscriber of the bucket's kind.
// A subscriber that has not drained its buffer loses its oldest update.
func (f *StatsFeed) Publish(b domain.Bucket, snap domain.StatsSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subscribers) == 0 {
		return
	}
	update := NewStatsUpdate(b, snap, f.now())
	for ch, kind := range f.subscribers {
		if kind != b.Kind {
			continue
		}
		select {
		case ch <- update:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (f *StatsFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}
