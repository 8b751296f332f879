package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"mcq-bot/internal/domain"
	"mcq-bot/internal/kv"
)

// DefaultShardSize bounds how many items share one store value.
const DefaultShardSize = 1000

// Collection stores an ordered, unbounded list of items across fixed-size
// shards (q:<n>) plus two metadata keys (q:shards, q:count).
//
// Writers persist shards first and q:count last. A crash in between leaves
// the count stale, so readers undercount and never address an item whose
// shard write was not confirmed.
type Collection struct {
	store     kv.Store
	shardSize int
	logger    zerolog.Logger
}

func NewCollection(store kv.Store, shardSize int, logger zerolog.Logger) *Collection {
	if shardSize <= 0 {
		shardSize = DefaultShardSize
	}
	return &Collection{store: store, shardSize: shardSize, logger: logger}
}

// ShardSize returns the configured shard capacity.
func (c *Collection) ShardSize() int { return c.shardSize }

// Meta loads the collection metadata, migrating the legacy flat list on first use.
func (c *Collection) Meta(ctx context.Context) (domain.CollectionMeta, error) {
	total, err := kv.GetInt(ctx, c.store, keyTotalCount, -1)
	if err != nil {
		return domain.CollectionMeta{}, err
	}
	if total < 0 {
		return c.migrateLegacy(ctx)
	}
	shards, err := kv.GetInt(ctx, c.store, keyShardCount, 0)
	if err != nil {
		return domain.CollectionMeta{}, err
	}
	return domain.CollectionMeta{ShardCount: shards, TotalCount: total}, nil
}

// TotalCount returns the number of committed items.
func (c *Collection) TotalCount(ctx context.Context) (int, error) {
	meta, err := c.Meta(ctx)
	return meta.TotalCount, err
}

// migrateLegacy splits a pre-existing flat "questions" list into shards.
func (c *Collection) migrateLegacy(ctx context.Context) (domain.CollectionMeta, error) {
	legacy, found, err := kv.GetJSON[[]domain.Item](ctx, c.store, keyLegacyItems)
	if err != nil || !found {
		return domain.CollectionMeta{}, err
	}
	meta, err := c.writeAll(ctx, legacy)
	if err != nil {
		return domain.CollectionMeta{}, fmt.Errorf("migrate legacy items: %w", err)
	}
	c.logger.Info().Int("items", meta.TotalCount).Int("shards", meta.ShardCount).Msg("migrated legacy item list into shards")
	return meta, nil
}

func (c *Collection) loadShard(ctx context.Context, n int) ([]domain.Item, error) {
	items, _, err := kv.GetJSON[[]domain.Item](ctx, c.store, keyShard(n))
	return items, err
}

func (c *Collection) shardsFor(total int) int {
	return (total + c.shardSize - 1) / c.shardSize
}

// Append adds items after the current last item and returns the new total.
func (c *Collection) Append(ctx context.Context, items []domain.Item) (int, error) {
	meta, err := c.Meta(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return meta.TotalCount, nil
	}

	idx := 0
	var open []domain.Item
	if meta.TotalCount > 0 {
		idx = (meta.TotalCount - 1) / c.shardSize
		open, err = c.loadShard(ctx, idx)
		if err != nil {
			return 0, err
		}
		committed := meta.TotalCount - idx*c.shardSize
		if len(open) < committed {
			return 0, &domain.DataIntegrityError{
				Key:    keyShard(idx),
				Reason: fmt.Sprintf("holds %d items, metadata expects %d", len(open), committed),
			}
		}
		// Anything past the committed length is left over from an interrupted append.
		open = open[:committed:committed]
		if len(open) == c.shardSize {
			idx++
			open = nil
		}
	}

	type pending struct {
		index int
		items []domain.Item
	}
	var touched []pending
	for _, it := range items {
		if len(open) == c.shardSize {
			touched = append(touched, pending{index: idx, items: open})
			idx++
			open = nil
		}
		open = append(open, it)
	}
	touched = append(touched, pending{index: idx, items: open})

	for _, p := range touched {
		if err := kv.PutJSON(ctx, c.store, keyShard(p.index), p.items); err != nil {
			return 0, err
		}
	}

	newMeta := domain.CollectionMeta{ShardCount: idx + 1, TotalCount: meta.TotalCount + len(items)}
	if err := c.putMeta(ctx, newMeta); err != nil {
		return 0, err
	}
	return newMeta.TotalCount, nil
}

func (c *Collection) putMeta(ctx context.Context, meta domain.CollectionMeta) error {
	if err := kv.PutInt(ctx, c.store, keyShardCount, meta.ShardCount); err != nil {
		return err
	}
	return kv.PutInt(ctx, c.store, keyTotalCount, meta.TotalCount)
}

// ReadByGlobalIndex returns the item at i modulo the total count. Indexes
// computed against an older, smaller or larger total wrap into range. found is
// false when the shard is shorter than the metadata claims.
func (c *Collection) ReadByGlobalIndex(ctx context.Context, i int) (domain.Item, bool, error) {
	total, err := c.TotalCount(ctx)
	if err != nil {
		return domain.Item{}, false, err
	}
	if total == 0 {
		return domain.Item{}, false, domain.ErrEmptyCollection
	}
	return c.read(ctx, ((i%total)+total)%total)
}

// ReadAt returns the item at exactly i, or a NotFoundError naming the valid range.
func (c *Collection) ReadAt(ctx context.Context, i int) (domain.Item, error) {
	total, err := c.TotalCount(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	if i < 0 || i >= total {
		return domain.Item{}, &domain.NotFoundError{What: "question", ID: strconv.Itoa(i), Size: total}
	}
	it, found, err := c.read(ctx, i)
	if err != nil {
		return domain.Item{}, err
	}
	if !found {
		return domain.Item{}, &domain.DataIntegrityError{Key: keyShard(i / c.shardSize), Reason: "shard shorter than metadata"}
	}
	return it, nil
}

// Locate returns the item named by ref and its current position. index is the
// position the caller last saw; deletes and deduplication shift positions, so
// a mismatch falls back to scanning the collection.
func (c *Collection) Locate(ctx context.Context, index int, ref string) (domain.Item, int, error) {
	it, err := c.ReadAt(ctx, index)
	var de *domain.DataIntegrityError
	switch {
	case err == nil && it.Ref() == ref:
		return it, index, nil
	case err != nil && !domain.IsNotFound(err) && !errors.As(err, &de):
		return domain.Item{}, 0, err
	}
	items, err := c.All(ctx)
	if err != nil {
		return domain.Item{}, 0, err
	}
	for i, candidate := range items {
		if candidate.Ref() == ref {
			return candidate, i, nil
		}
	}
	return domain.Item{}, 0, &domain.NotFoundError{What: "question", ID: ref, Size: len(items)}
}

func (c *Collection) read(ctx context.Context, n int) (domain.Item, bool, error) {
	shard, offset := n/c.shardSize, n%c.shardSize
	items, err := c.loadShard(ctx, shard)
	if err != nil {
		return domain.Item{}, false, err
	}
	if offset >= len(items) {
		c.logger.Warn().Int("index", n).Int("shard", shard).Int("shard_len", len(items)).Msg("item index beyond shard length")
		return domain.Item{}, false, nil
	}
	return items[offset], true, nil
}

// All loads every committed item in order.
func (c *Collection) All(ctx context.Context) ([]domain.Item, error) {
	total, err := c.TotalCount(ctx)
	if err != nil || total == 0 {
		return nil, err
	}
	shards := make([][]domain.Item, c.shardsFor(total))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for n := range shards {
		n := n
		g.Go(func() error {
			items, err := c.loadShard(gctx, n)
			shards[n] = items
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.Item, 0, total)
	for _, s := range shards {
		out = append(out, s...)
	}
	if len(out) > total {
		out = out[:total]
	}
	return out, nil
}

// Replace rewrites the whole collection, e.g. after a delete or deduplication.
func (c *Collection) Replace(ctx context.Context, items []domain.Item) error {
	old, err := c.Meta(ctx)
	if err != nil {
		return err
	}
	meta, err := c.writeAll(ctx, items)
	if err != nil {
		return err
	}
	// Trailing shards are unreachable once the new count is stored.
	for n := meta.ShardCount; n < old.ShardCount; n++ {
		if err := kv.Delete(ctx, c.store, keyShard(n)); err != nil {
			c.logger.Warn().Err(err).Int("shard", n).Msg("failed to delete stale shard")
		}
	}
	return nil
}

func (c *Collection) writeAll(ctx context.Context, items []domain.Item) (domain.CollectionMeta, error) {
	shards := c.shardsFor(len(items))
	for n := 0; n < shards; n++ {
		end := min((n+1)*c.shardSize, len(items))
		if err := kv.PutJSON(ctx, c.store, keyShard(n), items[n*c.shardSize:end]); err != nil {
			return domain.CollectionMeta{}, err
		}
	}
	meta := domain.CollectionMeta{ShardCount: shards, TotalCount: len(items)}
	return meta, c.putMeta(ctx, meta)
}

// SetAt overwrites the item at index i in place.
func (c *Collection) SetAt(ctx context.Context, i int, item domain.Item) error {
	if _, err := c.ReadAt(ctx, i); err != nil {
		return err
	}
	shard := i / c.shardSize
	items, err := c.loadShard(ctx, shard)
	if err != nil {
		return err
	}
	updated := make([]domain.Item, len(items))
	copy(updated, items)
	updated[i%c.shardSize] = item
	return kv.PutJSON(ctx, c.store, keyShard(shard), updated)
}

// DeleteAt removes the item at index i, shifting later items down by one.
// Scoring is keyed by Item.Ref, so the shift does not touch recorded answers.
func (c *Collection) DeleteAt(ctx context.Context, i int) (domain.Item, error) {
	removed, err := c.ReadAt(ctx, i)
	if err != nil {
		return domain.Item{}, err
	}
	items, err := c.All(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	items = append(items[:i:i], items[i+1:]...)
	return removed, c.Replace(ctx, items)
}
