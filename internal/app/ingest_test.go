package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mcq-bot/internal/domain"
	"mcq-bot/internal/infra/memory"
)

func newIngestor(t *testing.T, stored int) (*Ingestor, *Collection) {
	t.Helper()
	store := memory.NewKVStore()
	items := NewCollection(store, 2, zerolog.Nop())
	if stored > 0 {
		_, err := items.Append(context.Background(), testItems(stored))
		require.NoError(t, err)
	}
	return NewIngestor(store, items, zerolog.Nop()), items
}

func TestIngestSkipsInvalidAndDuplicates(t *testing.T) {
	ctx := context.Background()
	in, items := newIngestor(t, 1)

	raw := `[
	  {"question": "What is 2+2?", "options": ["3", "4", "5", "6"], "answer": "B", "explanation": "Basic sums."},
	  {"question": "No why?", "options": ["a", "b", "c", "d"], "answer": "A"},
	  {"question": "  QUESTION 0?  ", "options": ["Alpha", "beta", "GAMMA", "delta"], "answer": "b", "explanation": "Same as stored."},
	  {"question": "Capital of France?", "option_a": "Paris", "option_b": "Rome", "option_c": "Oslo", "option_d": "Bern", "answer": "a", "explanation": "Paris."},
	  {"question": "Largest planet?", "options": {"A": "Mars", "B": "Venus", "C": "Jupiter", "D": "Earth"}, "correct_answer": "C", "explanation": "Jupiter."}
	]`
	res, err := in.Ingest(ctx, []byte(raw))
	require.NoError(t, err)
	require.Equal(t, FormatJSON, res.Format)
	require.Equal(t, 3, res.Added)
	require.Equal(t, 1, res.SkippedDuplicates)
	require.Equal(t, 4, res.TotalAfter)
	require.Len(t, res.Invalid, 1)
	require.Equal(t, 2, res.Invalid[0].Line)
	require.Equal(t, "explanation", res.Invalid[0].Field)
	require.Equal(t, 1, res.LifetimeDuplicates)

	got, err := items.ReadAt(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "Capital of France?", got.Question)
	require.Equal(t, "A", got.Answer)
}

func TestIngestDuplicatesWithinBatch(t *testing.T) {
	ctx := context.Background()
	in, _ := newIngestor(t, 0)
	raw := `{"question":"Q?","options":["a","b","c","d"],"answer":"A","explanation":"e"}
{"question":"q?","options":["A","B","C","D"],"answer":"a","explanation":"other explanation"}
{"question":"R?","options":["a","b","c","d"],"answer":"D","explanation":"e"}`
	res, err := in.Ingest(ctx, []byte(raw))
	require.NoError(t, err)
	require.Equal(t, FormatJSONL, res.Format)
	require.Equal(t, 2, res.Added)
	require.Equal(t, 1, res.SkippedDuplicates)

	res, err = in.Ingest(ctx, []byte(raw))
	require.NoError(t, err)
	require.Equal(t, 0, res.Added)
	require.Equal(t, 3, res.SkippedDuplicates)
	require.Equal(t, 2, res.TotalAfter)
	require.Equal(t, 4, res.LifetimeDuplicates)

	lifetime, err := in.LifetimeDuplicates(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, lifetime)
}

func TestIngestCSVWithNumberedOptions(t *testing.T) {
	in, _ := newIngestor(t, 0)
	raw := "Question,Option 1,Option 2,Option 3,Option 4,Correct Answer,Explanation,Subject\n" +
		"\"Boiling point of water, at sea level?\",90,100,110,120,B,100 C.,Physics\n" +
		"Freezing point?,0,10,20,30,A,0 C.,Physics\n"
	res, err := in.Ingest(context.Background(), []byte(raw))
	require.NoError(t, err)
	require.Equal(t, FormatCSV, res.Format)
	require.Equal(t, 2, res.Added)

	all, err := in.items.All(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Boiling point of water, at sea level?", all[0].Question)
	require.Equal(t, [4]string{"90", "100", "110", "120"}, all[0].Options)
	require.Equal(t, "Physics", all[0].Subject)
}

func TestIngestRejectsBatchWithoutValidRecords(t *testing.T) {
	ctx := context.Background()
	cases := map[string]string{
		"unrecognized": "just some prose\nwith no structure",
		"empty":        "   ",
		"all invalid":  `[{"question":"Q?","options":["a","b","c","d"],"answer":"E","explanation":"e"}]`,
		"csv header":   "question,answer\nQ?,A\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			in, items := newIngestor(t, 1)
			_, err := in.Ingest(ctx, []byte(raw))
			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			total, err := items.TotalCount(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, total)
		})
	}
}

func TestIngestReportsAnswerField(t *testing.T) {
	in, _ := newIngestor(t, 0)
	_, err := in.Ingest(context.Background(), []byte(`{"question":"Q?","options":["a","b","c","d"],"answer":"E","explanation":"e"}`))
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "answer", ve.Field)
	require.Equal(t, 1, ve.Line)
}

func TestDeduplicate(t *testing.T) {
	ctx := context.Background()
	in, items := newIngestor(t, 0)
	batch := []domain.Item{testItem(0), testItem(1), testItem(0), testItem(2), testItem(1)}
	_, err := items.Append(ctx, batch)
	require.NoError(t, err)

	removed, err := in.Deduplicate(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	all, err := items.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, it := range all {
		require.Equal(t, testItem(i).Question, it.Question)
	}

	removed, err = in.Deduplicate(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestParseItem(t *testing.T) {
	data, err := json.Marshal(testItem(3))
	require.NoError(t, err)
	it, err := ParseItem(data)
	require.NoError(t, err)
	require.Equal(t, testItem(3), it)

	_, err = ParseItem([]byte(`[1, 2]`))
	require.Error(t, err)
}

func TestNormalizeField(t *testing.T) {
	cases := map[string]string{
		"options":        "options",
		"Options":        "options",
		"OptionA":        "option_a",
		"option1":        "option_a",
		"Option 4":       "option_d",
		"option_c":       "option_c",
		"optionz":        "optionz",
		"Correct Answer": "answer",
		"\ufeffQuestion": "question",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeField(in), "field %q", in)
	}
}

func TestIngestPositionalCSV(t *testing.T) {
	ctx := context.Background()
	in, items := newIngestor(t, 0)
	raw := "2023,12,Biology,Cells,Powerhouse of the cell?,Nucleus,Mitochondria,Ribosome,Golgi,B,It makes ATP.,Past paper\n" +
		"2022,3,Physics,Units,\"Unit of force, in SI?\",Joule,Watt,Newton,Pascal,C,Named after Newton.\n" +
		"2022,4,Physics,Units,Missing answer?,a,b,c,d,,No answer given.\n"
	res, err := in.Ingest(ctx, []byte(raw))
	require.NoError(t, err)
	require.Equal(t, FormatCSV, res.Format)
	require.Equal(t, 2, res.Added)
	require.Len(t, res.Invalid, 1)
	require.Equal(t, 3, res.Invalid[0].Line)
	require.Equal(t, "answer", res.Invalid[0].Field)

	all, err := items.All(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.Item{
		Question:    "Powerhouse of the cell?",
		Options:     [4]string{"Nucleus", "Mitochondria", "Ribosome", "Golgi"},
		Answer:      "B",
		Explanation: "It makes ATP.",
		Number:      "12",
		Subject:     "Biology",
		Topic:       "Cells",
		Year:        "2023",
		Source:      "Past paper",
	}, all[0])
	require.Equal(t, "Unit of force, in SI?", all[1].Question)
	require.Empty(t, all[1].Source)
}
