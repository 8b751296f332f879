package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"mcq-bot/internal/domain"
	"mcq-bot/internal/kv"
)

// StatsAggregator counts each entity's first attempt on an item exactly once
// per bucket, and keeps the per-item first-choice ledger.
//
// The store has no multi-key transactions. Two first attempts by the same
// entity on the same item that both read the seen-set before either writes
// will both count; the seen-set write is last-write-wins, so the error stays
// bounded to that double count.
type StatsAggregator struct {
	store  kv.Store
	feed   *StatsFeed
	logger zerolog.Logger
}

func NewStatsAggregator(store kv.Store, logger zerolog.Logger) *StatsAggregator {
	return &StatsAggregator{store: store, logger: logger}
}

// Attempt describes one scored answer. Item is the item's Ref.
type Attempt struct {
	EntityID string
	Name     string
	Item     string
	Correct  bool
}

// RecordAttempt applies the attempt to every bucket independently. Buckets
// that already saw (entity, item) are left untouched, so retrying after a
// partial failure only completes the missing buckets. The returned error joins
// the failures of individual buckets.
func (a *StatsAggregator) RecordAttempt(ctx context.Context, at Attempt, buckets []domain.Bucket) error {
	errs := make([]error, len(buckets))
	var g errgroup.Group
	for i, b := range buckets {
		i, b := i, b
		g.Go(func() error {
			if err := a.recordBucket(ctx, at, b); err != nil {
				a.logger.Error().Err(err).Str("bucket", string(b.Kind)+":"+b.Key).Str("entity", at.EntityID).Str("item", at.Item).Msg("failed to record attempt")
				errs[i] = fmt.Errorf("bucket %s:%s: %w", b.Kind, b.Key, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (a *StatsAggregator) recordBucket(ctx context.Context, at Attempt, b domain.Bucket) error {
	seenKey := keySeen(b, at.EntityID)
	seen, _, err := kv.GetJSON[[]string](ctx, a.store, seenKey)
	if err != nil {
		return err
	}
	for _, item := range seen {
		if item == at.Item {
			return nil
		}
	}

	snap, err := a.Snapshot(ctx, b)
	if err != nil {
		return err
	}
	es := snap.Entities[at.EntityID]
	if es == nil {
		es = &domain.EntityStats{}
		snap.Entities[at.EntityID] = es
	}
	if at.Name != "" {
		es.Name = at.Name
	}
	es.Attempts++
	if at.Correct {
		es.Correct++
	}
	snap.Total++
	if err := kv.PutJSON(ctx, a.store, keyStats(b), snap); err != nil {
		return err
	}
	// Marked only once the snapshot holds the attempt, so a retry after a
	// failed snapshot write still completes this bucket. A failure here can
	// count the attempt twice on retry, the same bound as the race above.
	if err := kv.PutJSON(ctx, a.store, seenKey, append(seen, at.Item)); err != nil {
		return err
	}
	if a.feed != nil {
		a.feed.Publish(b, snap)
	}
	return nil
}

// Snapshot returns the aggregate for a bucket; an unknown bucket is empty.
func (a *StatsAggregator) Snapshot(ctx context.Context, b domain.Bucket) (domain.StatsSnapshot, error) {
	snap, _, err := kv.GetJSON[domain.StatsSnapshot](ctx, a.store, keyStats(b))
	if err != nil {
		return domain.StatsSnapshot{}, err
	}
	if snap.Entities == nil {
		snap.Entities = make(map[string]*domain.EntityStats)
	}
	return snap, nil
}

// Snapshots reads several buckets concurrently.
func (a *StatsAggregator) Snapshots(ctx context.Context, buckets []domain.Bucket) ([]domain.StatsSnapshot, error) {
	out := make([]domain.StatsSnapshot, len(buckets))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range buckets {
		i, b := i, b
		g.Go(func() error {
			snap, err := a.Snapshot(gctx, b)
			out[i] = snap
			return err
		})
	}
	return out, g.Wait()
}

// Ranked orders a snapshot by correct answers, then attempts, then entity id.
func Ranked(snap domain.StatsSnapshot, limit int) []domain.RankedEntity {
	out := make([]domain.RankedEntity, 0, len(snap.Entities))
	for id, es := range snap.Entities {
		if es == nil {
			continue
		}
		out = append(out, domain.RankedEntity{EntityID: id, EntityStats: *es})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Correct != out[j].Correct {
			return out[i].Correct > out[j].Correct
		}
		if out[i].Attempts != out[j].Attempts {
			return out[i].Attempts < out[j].Attempts
		}
		return out[i].EntityID < out[j].EntityID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RecordChoice stores entity's label for the item named by ref unless one is
// already ledgered. It returns the ledgered (first) label and whether this
// call created it.
func (a *StatsAggregator) RecordChoice(ctx context.Context, entityID, ref, label string) (string, bool, error) {
	key := keyLedger(ref)
	ledger, _, err := kv.GetJSON[map[string]string](ctx, a.store, key)
	if err != nil {
		return "", false, err
	}
	if first, ok := ledger[entityID]; ok {
		return first, false, nil
	}
	if ledger == nil {
		ledger = make(map[string]string)
	}
	ledger[entityID] = label
	if err := kv.PutJSON(ctx, a.store, key, ledger); err != nil {
		return "", false, err
	}
	return label, true, nil
}

// FirstChoice returns the ledgered label of entity for the item named by ref, if any.
func (a *StatsAggregator) FirstChoice(ctx context.Context, entityID, ref string) (string, bool, error) {
	ledger, _, err := kv.GetJSON[map[string]string](ctx, a.store, keyLedger(ref))
	if err != nil {
		return "", false, err
	}
	label, ok := ledger[entityID]
	return label, ok, nil
}

// EntityKey renders a platform user id as a stats entity id.
func EntityKey(id int64) string { return strconv.FormatInt(id, 10) }
