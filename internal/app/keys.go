package app

import (
	"strconv"

	"mcq-bot/internal/domain"
)

// Persisted key schema.
const (
	keyLegacyItems = "questions"
	keyShardCount  = "q:shards"
	keyTotalCount  = "q:count"
	keyDiscounts   = "discount_buttons"
	keyTargets     = "targets"
	keyDuplicates  = "meta:duplicates"

	prefixCursor     = "idx:"
	prefixRecent     = "recent:"
	prefixAdminState = "admin_state:"
)

func keyShard(n int) string { return "q:" + strconv.Itoa(n) }

func keyCursor(target string) string { return prefixCursor + target }

func keyRecent(target string) string { return prefixRecent + target }

func keySeen(b domain.Bucket, entity string) string {
	return "seen:" + string(b.Kind) + ":" + b.Key + ":" + entity
}

func keyStats(b domain.Bucket) string {
	return "stats:" + string(b.Kind) + ":" + b.Key
}

func keyLedger(ref string) string { return "answers:" + ref }

func keyAdminState(adminID int64) string {
	return prefixAdminState + strconv.FormatInt(adminID, 10)
}
