package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"mcq-bot/internal/domain"
	"mcq-bot/internal/kv"
)

// IngestResult summarizes one ingestion batch.
type IngestResult struct {
	Format            Format
	Added             int
	SkippedDuplicates int
	// Invalid holds one validation error per rejected record, with Line set.
	Invalid    []*domain.ValidationError
	TotalAfter int
	// LifetimeDuplicates is the running count of duplicates skipped by all ingestions.
	LifetimeDuplicates int
}

// Ingestor parses uploaded content into items and appends the new ones.
type Ingestor struct {
	store  kv.Store
	items  *Collection
	logger zerolog.Logger
}

func NewIngestor(store kv.Store, items *Collection, logger zerolog.Logger) *Ingestor {
	return &Ingestor{store: store, items: items, logger: logger}
}

// Ingest validates every record of raw, drops duplicates of stored items and
// of earlier records in the same batch, and appends the rest in one call.
// A batch without a single valid record fails with a ValidationError and
// writes nothing.
func (in *Ingestor) Ingest(ctx context.Context, raw []byte) (IngestResult, error) {
	recs, format, err := parseRecords(raw)
	if err != nil {
		return IngestResult{}, err
	}
	res := IngestResult{Format: format}

	valid := make([]domain.Item, 0, len(recs))
	for i, rec := range recs {
		it, err := rec.toItem()
		if err != nil {
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				ve = &domain.ValidationError{Field: "record", Reason: err.Error()}
			}
			ve.Line = i + 1
			res.Invalid = append(res.Invalid, ve)
			continue
		}
		valid = append(valid, it)
	}
	if len(valid) == 0 {
		if len(res.Invalid) > 0 {
			return res, res.Invalid[0]
		}
		return res, &domain.ValidationError{Field: "records", Reason: "contain no valid question"}
	}

	existing, err := in.items.All(ctx)
	if err != nil {
		return res, err
	}
	seen := make(map[string]struct{}, len(existing)+len(valid))
	for _, it := range existing {
		seen[it.Fingerprint()] = struct{}{}
	}
	fresh := make([]domain.Item, 0, len(valid))
	for _, it := range valid {
		fp := it.Fingerprint()
		if _, dup := seen[fp]; dup {
			res.SkippedDuplicates++
			continue
		}
		seen[fp] = struct{}{}
		fresh = append(fresh, it)
	}

	res.TotalAfter, err = in.items.Append(ctx, fresh)
	if err != nil {
		return res, err
	}
	res.Added = len(fresh)

	lifetime, err := kv.GetInt(ctx, in.store, keyDuplicates, 0)
	if err == nil && res.SkippedDuplicates > 0 {
		lifetime += res.SkippedDuplicates
		err = kv.PutInt(ctx, in.store, keyDuplicates, lifetime)
	}
	if err != nil {
		in.logger.Warn().Err(err).Msg("failed to update lifetime duplicate counter")
	}
	res.LifetimeDuplicates = lifetime

	in.logger.Info().
		Str("format", string(format)).
		Int("added", res.Added).
		Int("duplicates", res.SkippedDuplicates).
		Int("invalid", len(res.Invalid)).
		Int("total", res.TotalAfter).
		Msg("ingested items")
	return res, nil
}

// LifetimeDuplicates returns the running duplicate counter.
func (in *Ingestor) LifetimeDuplicates(ctx context.Context) (int, error) {
	return kv.GetInt(ctx, in.store, keyDuplicates, 0)
}

// Deduplicate removes stored items whose fingerprint repeats an earlier item
// and returns how many were removed.
func (in *Ingestor) Deduplicate(ctx context.Context) (int, error) {
	items, err := in.items.All(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(items))
	kept := make([]domain.Item, 0, len(items))
	for _, it := range items {
		fp := it.Fingerprint()
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		kept = append(kept, it)
	}
	removed := len(items) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := in.items.Replace(ctx, kept); err != nil {
		return 0, err
	}
	in.logger.Info().Int("removed", removed).Int("total", len(kept)).Msg("deduplicated collection")
	return removed, nil
}
