package app

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"mcq-bot/internal/domain"
	"mcq-bot/internal/infra/memory"
	"mcq-bot/internal/kv"
)

func newRotator(t *testing.T, n int, window RecentWindow) (*Rotator, kv.Store) {
	t.Helper()
	store := memory.NewKVStore()
	items := NewCollection(store, 1000, zerolog.Nop())
	if n > 0 {
		if _, err := items.Append(context.Background(), testItems(n)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return NewRotator(store, items, window, zerolog.Nop()), store
}

func TestNextWrapsAround(t *testing.T) {
	r, _ := newRotator(t, 3, RecentWindow{})
	ctx := context.Background()
	var got []int
	for i := 0; i < 4; i++ {
		it, index, err := r.Next(ctx, "G1")
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if it.Question != testItem(index).Question {
			t.Fatalf("index %d returned item %q", index, it.Question)
		}
		got = append(got, index)
	}
	want := []int{0, 1, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestNextCyclesEveryIndexOnce(t *testing.T) {
	ctx := context.Background()
	for _, window := range []RecentWindow{{}, DefaultRecentWindow} {
		for _, n := range []int{1, 2, 5, 17, 60} {
			r, _ := newRotator(t, n, window)
			start, _ := r.Cursor(ctx, "T")
			seen := make(map[int]bool, n)
			for i := 0; i < n; i++ {
				_, index, err := r.Next(ctx, "T")
				if err != nil {
					t.Fatalf("n=%d next: %v", n, err)
				}
				if seen[index] {
					t.Fatalf("n=%d window=%+v: index %d repeated before the cycle ended", n, window, index)
				}
				seen[index] = true
			}
			if end, _ := r.Cursor(ctx, "T"); end != start {
				t.Fatalf("n=%d: cursor %d did not return to %d", n, end, start)
			}
		}
	}
}

func TestTargetsRotateIndependently(t *testing.T) {
	r, _ := newRotator(t, 4, RecentWindow{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, _, err := r.Next(ctx, "a"); err != nil {
			t.Fatalf("next a: %v", err)
		}
	}
	if _, index, _ := r.Next(ctx, "b"); index != 0 {
		t.Fatalf("target b should start at 0, got %d", index)
	}
}

func TestNextOnEmptyCollection(t *testing.T) {
	r, store := newRotator(t, 0, DefaultRecentWindow)
	_, _, err := r.Next(context.Background(), "G1")
	if !errors.Is(err, domain.ErrEmptyCollection) {
		t.Fatalf("expected ErrEmptyCollection, got %v", err)
	}
	if _, err := store.Get(context.Background(), keyCursor("G1")); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("cursor must not be written for an empty collection")
	}
}

func TestCursorSurvivesShrinkingCollection(t *testing.T) {
	ctx := context.Background()
	r, store := newRotator(t, 5, RecentWindow{})
	if err := kv.PutInt(ctx, store, keyCursor("G1"), 4); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	items := NewCollection(store, 1000, zerolog.Nop())
	if err := items.Replace(ctx, testItems(3)); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	_, index, err := r.Next(ctx, "G1")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if index != 1 {
		t.Fatalf("cursor 4 over 3 items should dispense 1, got %d", index)
	}
}

func TestRecentWindowSize(t *testing.T) {
	w := DefaultRecentWindow
	cases := map[int]int{0: 0, 4: 0, 5: 1, 10: 2, 100: 20, 1000: 50}
	for total, want := range cases {
		if got := w.Size(total); got != want {
			t.Fatalf("Size(%d) = %d, want %d", total, got, want)
		}
	}
	if got := (RecentWindow{Fraction: 1, Floor: 1}).Size(3); got != 2 {
		t.Fatalf("window must leave one index available, got %d", got)
	}
}

func TestNextSkipsRecentAfterReset(t *testing.T) {
	ctx := context.Background()
	r, store := newRotator(t, 10, RecentWindow{Fraction: 0.3, Floor: 5, Max: 10})
	for i := 0; i < 3; i++ {
		if _, _, err := r.Next(ctx, "G1"); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	// Cursor rewound by an operator while the recent list still holds 0-2.
	if err := kv.PutInt(ctx, store, keyCursor("G1"), 0); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	_, index, err := r.Next(ctx, "G1")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if index != 3 {
		t.Fatalf("expected recent indexes to be skipped, got %d", index)
	}
}

func TestResetAll(t *testing.T) {
	ctx := context.Background()
	r, _ := newRotator(t, 6, DefaultRecentWindow)
	for _, target := range []string{"a", "b", "c"} {
		if _, _, err := r.Next(ctx, target); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	n, err := r.ResetAll(ctx)
	if err != nil || n != 3 {
		t.Fatalf("reset all: n=%d err=%v", n, err)
	}
	if _, index, _ := r.Next(ctx, "a"); index != 0 {
		t.Fatalf("expected restart at 0, got %d", index)
	}
}
