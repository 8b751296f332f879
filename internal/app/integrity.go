package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mcq-bot/internal/domain"
	"mcq-bot/internal/kv"
)

// IntegrityReport lists every inconsistency found in the stored collection.
type IntegrityReport struct {
	Meta    domain.CollectionMeta        `json:"meta"`
	Checked int                          `json:"checked"`
	Issues  []*domain.DataIntegrityError `json:"issues,omitempty"`
}

// OK reports whether no issue was found.
func (r IntegrityReport) OK() bool { return len(r.Issues) == 0 }

// CheckIntegrity compares the metadata with the shards actually stored and
// validates every committed item. Backend failures abort the check; data
// problems are collected into the report.
func (c *Collection) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	meta, err := c.Meta(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	report := IntegrityReport{Meta: meta}
	issue := func(key, format string, args ...any) {
		report.Issues = append(report.Issues, &domain.DataIntegrityError{Key: key, Reason: fmt.Sprintf(format, args...)})
	}

	if want := c.shardsFor(meta.TotalCount); meta.ShardCount < want {
		issue(keyShardCount, "is %d, but %d items need %d shards", meta.ShardCount, meta.TotalCount, want)
	}

	remaining := meta.TotalCount
	for n := 0; n < c.shardsFor(meta.TotalCount); n++ {
		key := keyShard(n)
		expect := min(remaining, c.shardSize)
		remaining -= expect
		items, found, err := kv.GetJSON[[]domain.Item](ctx, c.store, key)
		var de *domain.DataIntegrityError
		if errors.As(err, &de) {
			report.Issues = append(report.Issues, de)
			continue
		}
		if err != nil {
			return report, err
		}
		switch {
		case !found:
			issue(key, "missing, metadata expects %d items", expect)
			continue
		case len(items) < expect:
			issue(key, "holds %d items, metadata expects %d", len(items), expect)
		case len(items) > expect && n < c.shardsFor(meta.TotalCount)-1:
			issue(key, "holds %d items, shard size is %d", len(items), c.shardSize)
		}
		for i := 0; i < len(items) && i < expect; i++ {
			report.Checked++
			if err := items[i].Validate(); err != nil {
				issue(key, "item %d: %v", n*c.shardSize+i, err)
			}
		}
	}

	keys, err := kv.List(ctx, c.store, "q:")
	if err != nil {
		return report, err
	}
	for _, key := range keys {
		n, err := strconv.Atoi(strings.TrimPrefix(key, "q:"))
		if err != nil {
			continue
		}
		if n >= meta.ShardCount {
			issue(key, "orphan shard beyond q:shards=%d", meta.ShardCount)
		}
	}
	return report, nil
}

// CollectionStats summarizes the stored collection for administrators.
type CollectionStats struct {
	Total              int            `json:"total"`
	Shards             int            `json:"shards"`
	ShardSize          int            `json:"shardSize"`
	Targets            int            `json:"targets"`
	Discounts          int            `json:"discounts"`
	LifetimeDuplicates int            `json:"lifetimeDuplicates"`
	Subjects           map[string]int `json:"subjects,omitempty"`
	Topics             map[string]int `json:"topics,omitempty"`
	Years              map[string]int `json:"years,omitempty"`
}

// CollectionStats counts items per subject, topic and year alongside the metadata.
func (s *BotService) CollectionStats(ctx context.Context) (CollectionStats, error) {
	ctx = kv.WithRequestCache(ctx)
	meta, err := s.items.Meta(ctx)
	if err != nil {
		return CollectionStats{}, err
	}
	items, err := s.items.All(ctx)
	if err != nil {
		return CollectionStats{}, err
	}
	out := CollectionStats{
		Total:     meta.TotalCount,
		Shards:    meta.ShardCount,
		ShardSize: s.items.ShardSize(),
		Subjects:  make(map[string]int),
		Topics:    make(map[string]int),
		Years:     make(map[string]int),
	}
	for _, it := range items {
		if it.Subject != "" {
			out.Subjects[it.Subject]++
		}
		if it.Topic != "" {
			out.Topics[it.Topic]++
		}
		if it.Year != "" {
			out.Years[it.Year]++
		}
	}
	if out.LifetimeDuplicates, err = s.ingestor.LifetimeDuplicates(ctx); err != nil {
		return out, err
	}
	targets, err := s.targets.List(ctx)
	if err != nil {
		return out, err
	}
	out.Targets = len(targets)
	discounts, err := s.discounts.List(ctx)
	if err != nil {
		return out, err
	}
	out.Discounts = len(discounts)
	return out, nil
}

func sortedCounts(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
