package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Labels are the four answer labels every item carries, in option order.
var Labels = [4]string{"A", "B", "C", "D"}

// LabelIndex returns the option position for a label (case-insensitive).
func LabelIndex(label string) (int, bool) {
	l := strings.ToUpper(strings.TrimSpace(label))
	for i, candidate := range Labels {
		if candidate == l {
			return i, true
		}
	}
	return 0, false
}

// Item is one multiple-choice question in the rotating collection.
type Item struct {
	Question    string    `json:"question"`
	Options     [4]string `json:"options"`
	Answer      string    `json:"answer"`
	Explanation string    `json:"explanation"`

	Number  string `json:"number,omitempty"`
	Subject string `json:"subject,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Year    string `json:"year,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Validate checks that all required fields are present and that the answer
// names one of the four labels with a non-empty option.
func (it Item) Validate() error {
	if strings.TrimSpace(it.Question) == "" {
		return &ValidationError{Field: "question", Reason: "is empty"}
	}
	for i, opt := range it.Options {
		if strings.TrimSpace(opt) == "" {
			return &ValidationError{Field: "option_" + strings.ToLower(Labels[i]), Reason: "is empty"}
		}
	}
	if strings.TrimSpace(it.Answer) == "" {
		return &ValidationError{Field: "answer", Reason: "is empty"}
	}
	idx, ok := LabelIndex(it.Answer)
	if !ok {
		return &ValidationError{Field: "answer", Reason: "must be one of A, B, C or D"}
	}
	if strings.TrimSpace(it.Options[idx]) == "" {
		return &ValidationError{Field: "answer", Reason: "points at an empty option"}
	}
	if strings.TrimSpace(it.Explanation) == "" {
		return &ValidationError{Field: "explanation", Reason: "is empty"}
	}
	return nil
}

// Normalized returns a copy with every field trimmed and the answer upper-cased.
func (it Item) Normalized() Item {
	out := Item{
		Question:    strings.TrimSpace(it.Question),
		Answer:      strings.ToUpper(strings.TrimSpace(it.Answer)),
		Explanation: strings.TrimSpace(it.Explanation),
		Number:      strings.TrimSpace(it.Number),
		Subject:     strings.TrimSpace(it.Subject),
		Topic:       strings.TrimSpace(it.Topic),
		Year:        strings.TrimSpace(it.Year),
		Source:      strings.TrimSpace(it.Source),
	}
	for i, opt := range it.Options {
		out.Options[i] = strings.TrimSpace(opt)
	}
	return out
}

// Fingerprint identifies an item for duplicate detection. It ignores case and
// surrounding whitespace, and covers the prompt, all options and the answer.
func (it Item) Fingerprint() string {
	parts := make([]string, 0, 6)
	parts = append(parts, it.Question)
	parts = append(parts, it.Options[:]...)
	parts = append(parts, it.Answer)
	for i := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, "\x1f")
}

// Ref names the item by content. Scoring records are keyed by it so that
// deletes and deduplication, which shift positions, never move an answer onto
// another question. An edit that changes the prompt, options or answer yields
// a new ref.
func (it Item) Ref() string {
	sum := sha256.Sum256([]byte(it.Fingerprint()))
	return hex.EncodeToString(sum[:8])
}

// Correct reports whether label is the designated answer.
func (it Item) Correct(label string) bool {
	return strings.EqualFold(strings.TrimSpace(label), it.Answer)
}

// AnswerText returns the option text for the designated answer.
func (it Item) AnswerText() string {
	if idx, ok := LabelIndex(it.Answer); ok {
		return it.Options[idx]
	}
	return ""
}

// CollectionMeta mirrors the two metadata keys of the sharded collection.
type CollectionMeta struct {
	ShardCount int `json:"shardCount"`
	TotalCount int `json:"totalCount"`
}

// BucketKind is the time window a stats bucket aggregates over.
type BucketKind string

const (
	BucketDay   BucketKind = "day"
	BucketMonth BucketKind = "month"
)

// Bucket names one aggregation scope, e.g. {day 2024-05-01}.
type Bucket struct {
	Kind BucketKind `json:"kind"`
	Key  string     `json:"key"`
}

// BucketsFor returns the day and month buckets containing t in loc.
func BucketsFor(t time.Time, loc *time.Location) []Bucket {
	if loc != nil {
		t = t.In(loc)
	}
	return []Bucket{
		{Kind: BucketDay, Key: t.Format("2006-01-02")},
		{Kind: BucketMonth, Key: t.Format("2006-01")},
	}
}

// EntityStats is one responder's tally within a bucket.
type EntityStats struct {
	Name     string `json:"name,omitempty"`
	Attempts int    `json:"attempts"`
	Correct  int    `json:"correct"`
}

// StatsSnapshot aggregates first attempts for a bucket.
type StatsSnapshot struct {
	Total    int                     `json:"total"`
	Entities map[string]*EntityStats `json:"entities"`
}

// RankedEntity is a leaderboard row derived from a snapshot.
type RankedEntity struct {
	EntityID string `json:"entityId"`
	EntityStats
}

// DiscountButton is one entry of the offer registry.
type DiscountButton struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DiscountDraft holds the fields staged while an admin builds a discount button.
type DiscountDraft struct {
	Name    string `json:"name,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
