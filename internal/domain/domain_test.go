package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validItem() Item {
	return Item{
		Question:    "Which gas do plants absorb?",
		Options:     [4]string{"Oxygen", "Carbon dioxide", "Nitrogen", "Helium"},
		Answer:      "B",
		Explanation: "Photosynthesis consumes CO2.",
	}
}

func TestItemValidate(t *testing.T) {
	if err := validItem().Validate(); err != nil {
		t.Fatalf("expected valid item, got %v", err)
	}
	cases := map[string]struct {
		mutate func(*Item)
		field  string
	}{
		"blank question":   {func(it *Item) { it.Question = "  " }, "question"},
		"blank option c":   {func(it *Item) { it.Options[2] = "" }, "option_c"},
		"missing answer":   {func(it *Item) { it.Answer = "" }, "answer"},
		"unknown label":    {func(it *Item) { it.Answer = "E" }, "answer"},
		"no explanation":   {func(it *Item) { it.Explanation = "\n" }, "explanation"},
		"lowercase answer": {func(it *Item) { it.Answer = "b" }, ""},
	}
	for name, tc := range cases {
		it := validItem()
		tc.mutate(&it)
		err := it.Validate()
		if tc.field == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", name, err)
			}
			continue
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != tc.field {
			t.Fatalf("%s: expected validation error on %s, got %v", name, tc.field, err)
		}
	}
}

func TestFingerprintIgnoresCaseAndSpace(t *testing.T) {
	a := validItem()
	b := validItem()
	b.Question = "  WHICH gas do plants absorb? "
	b.Options[0] = "oxygen"
	b.Answer = "b"
	b.Explanation = "Different wording."
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("expected equal fingerprints")
	}
	b.Answer = "C"
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("answer must be part of the fingerprint")
	}
}

func TestRefFollowsContentNotPosition(t *testing.T) {
	a := validItem()
	if len(a.Ref()) != 16 {
		t.Fatalf("unexpected ref %q", a.Ref())
	}
	b := validItem()
	b.Explanation = "Reworded."
	b.Subject = "Biology"
	if a.Ref() != b.Ref() {
		t.Fatalf("explanation and metadata must not change the ref")
	}
	b.Options[3] = "Argon"
	if a.Ref() == b.Ref() {
		t.Fatalf("changed options must change the ref")
	}
}

func TestItemCorrectAndAnswerText(t *testing.T) {
	it := validItem()
	if !it.Correct(" b ") || it.Correct("A") {
		t.Fatalf("unexpected correctness")
	}
	if it.AnswerText() != "Carbon dioxide" {
		t.Fatalf("unexpected answer text %q", it.AnswerText())
	}
}

func TestCallbackRoundTripAndLimit(t *testing.T) {
	for _, cb := range []Callback{
		AnswerCallback(123456, "0123456789abcdef", "D"),
		AdminCallback(ActionReply, "-1001234567890"),
		DiscountCallback("0123456789ab"),
	} {
		data, err := cb.Encode()
		if err != nil {
			t.Fatalf("encode %+v: %v", cb, err)
		}
		if len(data) > MaxCallbackBytes {
			t.Fatalf("payload too long: %s", data)
		}
		got, err := DecodeCallback(data)
		if err != nil || got != cb {
			t.Fatalf("decode %s: %+v %v", data, got, err)
		}
	}

	_, err := AdminCallback(ActionDiscountEdit, strings.Repeat("x", 60)).Encode()
	if !errors.Is(err, ErrCallbackTooLong) {
		t.Fatalf("expected ErrCallbackTooLong, got %v", err)
	}
}

func TestDecodeCallbackRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "ans_1_A", `{"k":"zzz"}`, `{"k":"ans","i":1,"l":"Q"}`, `{"k":"adm"}`, `{"k":"dsc"}`, `{"k":"ans","i":-1,"r":"ab","l":"A"}`, `{"k":"ans","i":1,"l":"A"}`} {
		if _, err := DecodeCallback(raw); !errors.Is(err, ErrUnknownCallback) {
			t.Fatalf("%q: expected ErrUnknownCallback, got %v", raw, err)
		}
	}
}

func TestBucketsForUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	at := time.Date(2024, 1, 31, 22, 30, 0, 0, time.UTC)
	got := BucketsFor(at, loc)
	want := []Bucket{{Kind: BucketDay, Key: "2024-02-01"}, {Kind: BucketMonth, Key: "2024-02"}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestErrorMessages(t *testing.T) {
	if got := (&NotFoundError{What: "question", ID: "7", Size: 3}).Error(); got != "question 7 not found (valid range 0-2)" {
		t.Fatalf("unexpected %q", got)
	}
	if got := (&ValidationError{Field: "answer", Reason: "is empty", Line: 4}).Error(); got != "record 4: answer is empty" {
		t.Fatalf("unexpected %q", got)
	}
	wrapped := &TransientStoreError{Op: "get", Key: "q:0", Err: errors.New("timeout")}
	if errors.Unwrap(wrapped).Error() != "timeout" {
		t.Fatalf("expected wrapped cause")
	}
	if !IsNotFound(ErrEmptyCollection) || IsNotFound(wrapped) {
		t.Fatalf("unexpected IsNotFound classification")
	}
}

func TestAdminStateIdle(t *testing.T) {
	if !(AdminState{}).Idle() || !(AdminState{Mode: ModeIdle}).Idle() {
		t.Fatalf("zero and idle states must be idle")
	}
	if (AdminState{Mode: ModeAwaitingDelete}).Idle() {
		t.Fatalf("pending workflow reported idle")
	}
}
