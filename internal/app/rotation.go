package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"mcq-bot/internal/domain"
	"mcq-bot/internal/kv"
)

// RecentWindow configures the per-target anti-repetition list.
type RecentWindow struct {
	// Fraction of the collection size kept as recently dispensed.
	Fraction float64
	// Floor is the smallest collection size for which the window is used.
	Floor int
	// Max caps the window length.
	Max int
}

// DefaultRecentWindow is used when no window is configured.
var DefaultRecentWindow = RecentWindow{Fraction: 0.2, Floor: 5, Max: 50}

// Size returns the window length for a collection of total items; 0 disables it.
func (w RecentWindow) Size(total int) int {
	if total < w.Floor || w.Fraction <= 0 {
		return 0
	}
	n := int(float64(total) * w.Fraction)
	if w.Max > 0 && n > w.Max {
		n = w.Max
	}
	if n >= total {
		n = total - 1
	}
	return max(n, 0)
}

// Rotator hands out the next item per target without repetition until wraparound.
type Rotator struct {
	store  kv.Store
	items  *Collection
	window RecentWindow
	logger zerolog.Logger
}

func NewRotator(store kv.Store, items *Collection, window RecentWindow, logger zerolog.Logger) *Rotator {
	return &Rotator{store: store, items: items, window: window, logger: logger}
}

// Next dispenses the item under the target's cursor and advances the cursor.
//
// The advanced cursor is persisted before the item is returned: if the
// platform redelivers the trigger concurrently, the duplicate is more likely
// to skip a slot than to post the same item twice.
func (r *Rotator) Next(ctx context.Context, target string) (domain.Item, int, error) {
	total, err := r.items.TotalCount(ctx)
	if err != nil {
		return domain.Item{}, 0, err
	}
	if total == 0 {
		return domain.Item{}, 0, domain.ErrEmptyCollection
	}

	cursor, err := kv.GetInt(ctx, r.store, keyCursor(target), 0)
	if err != nil {
		return domain.Item{}, 0, err
	}
	index := ((cursor % total) + total) % total

	size := r.window.Size(total)
	var recent []int
	if size > 0 {
		recent, _, err = kv.GetJSON[[]int](ctx, r.store, keyRecent(target))
		if err != nil {
			return domain.Item{}, 0, err
		}
		index = skipRecent(index, total, recent)
	}

	if err := kv.PutInt(ctx, r.store, keyCursor(target), (index+1)%total); err != nil {
		return domain.Item{}, 0, err
	}
	if size > 0 {
		recent = pushRecent(recent, index, size)
		if err := kv.PutJSON(ctx, r.store, keyRecent(target), recent); err != nil {
			r.logger.Warn().Err(err).Str("target", target).Msg("failed to update recent window")
		}
	}

	item, found, err := r.items.ReadByGlobalIndex(ctx, index)
	if err != nil {
		return domain.Item{}, 0, err
	}
	if !found {
		return domain.Item{}, 0, &domain.DataIntegrityError{Key: keyShard(index / r.items.ShardSize()), Reason: "dispensed index missing from shard"}
	}
	return item, index, nil
}

// skipRecent walks forward from index until it leaves the recent set. If every
// index is recent the original index is kept.
func skipRecent(index, total int, recent []int) int {
	if len(recent) == 0 {
		return index
	}
	seen := make(map[int]struct{}, len(recent))
	for _, n := range recent {
		seen[n] = struct{}{}
	}
	for step := 0; step < total; step++ {
		candidate := (index + step) % total
		if _, ok := seen[candidate]; !ok {
			return candidate
		}
	}
	return index
}

// pushRecent prepends index and caps the list at size, most recent first.
func pushRecent(recent []int, index, size int) []int {
	out := make([]int, 0, size)
	out = append(out, index)
	for _, n := range recent {
		if len(out) == size {
			break
		}
		if n != index {
			out = append(out, n)
		}
	}
	return out
}

// Cursor returns the stored cursor for target (0 when never dispensed).
func (r *Rotator) Cursor(ctx context.Context, target string) (int, error) {
	return kv.GetInt(ctx, r.store, keyCursor(target), 0)
}

// Reset clears the cursor and recent window for one target.
func (r *Rotator) Reset(ctx context.Context, target string) error {
	if err := kv.Delete(ctx, r.store, keyCursor(target)); err != nil {
		return err
	}
	return kv.Delete(ctx, r.store, keyRecent(target))
}

// ResetAll clears every stored cursor and recent window. It returns the
// number of targets reset.
func (r *Rotator) ResetAll(ctx context.Context) (int, error) {
	keys, err := kv.List(ctx, r.store, prefixCursor)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := r.Reset(ctx, strings.TrimPrefix(key, prefixCursor)); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}
