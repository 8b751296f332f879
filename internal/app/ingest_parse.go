package app

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"mcq-bot/internal/domain"
)

// Format names the encoding an ingested batch was recognised as.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// record is one candidate row with normalized field names.
type record map[string]string

var requiredFields = []string{"question", "option_a", "option_b", "option_c", "option_d", "answer", "explanation"}

var fieldAliases = map[string]string{
	"prompt":          "question",
	"q":               "question",
	"option_1":        "option_a",
	"option_2":        "option_b",
	"option_3":        "option_c",
	"option_4":        "option_d",
	"a":               "option_a",
	"b":               "option_b",
	"c":               "option_c",
	"d":               "option_d",
	"correct":         "answer",
	"correct_answer":  "answer",
	"correct_option":  "answer",
	"question_number": "number",
	"qno":             "number",
}

func normalizeField(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(n)
	n = strings.TrimPrefix(n, "\ufeff")
	if alias, ok := fieldAliases[n]; ok {
		return alias
	}
	// "optiona" and "option1" style headers; "options" is the list field.
	if suffix, ok := strings.CutPrefix(n, "option"); ok && len(suffix) == 1 && strings.Contains("abcd1234", suffix) {
		return normalizeField("option_" + suffix)
	}
	return n
}

// parseRecords tries structured JSON, then JSON lines, then CSV with either a
// header row naming every required field or positional rows. The first format
// that parses wins.
func parseRecords(raw []byte) ([]record, Format, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, "", &domain.ValidationError{Field: "content", Reason: "is empty"}
	}
	if recs, err := parseJSON(raw); err == nil {
		return recs, FormatJSON, nil
	}
	if recs, err := parseJSONLines(raw); err == nil {
		return recs, FormatJSONL, nil
	}
	if recs, err := parseCSV(raw); err == nil {
		return recs, FormatCSV, nil
	}
	return nil, "", &domain.ValidationError{
		Field:  "format",
		Reason: "not recognised; send a JSON list, JSON lines, CSV rows of Year,Question Number,Subject,Topic,Question,Option 1-4,Answer,Explanation[,Source], or CSV with a header row containing " + strings.Join(requiredFields, ", "),
	}
}

func parseJSON(raw []byte) ([]record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	switch t := v.(type) {
	case []any:
		return objectsToRecords(t)
	case map[string]any:
		for _, key := range []string{"questions", "items", "mcqs"} {
			if list, ok := t[key].([]any); ok {
				return objectsToRecords(list)
			}
		}
		return []record{objectToRecord(t)}, nil
	default:
		return nil, fmt.Errorf("unsupported JSON value %T", v)
	}
}

func parseJSONLines(raw []byte) ([]record, error) {
	var out []record
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, err
		}
		out = append(out, objectToRecord(obj))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no JSON lines")
	}
	return out, nil
}

// positionalColumns is the fixed column order of header-less rows:
// Year, Question Number, Subject, Topic, Question, Option 1-4, Answer,
// Explanation and an optional Source.
var positionalColumns = []string{
	"year", "number", "subject", "topic", "question",
	"option_a", "option_b", "option_c", "option_d",
	"answer", "explanation", "source",
}

func parseCSV(raw []byte) ([]record, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	first, err := r.Read()
	if err != nil {
		return nil, err
	}
	var out []record
	cols, err := csvColumns(first)
	if err != nil {
		if len(first) < len(positionalColumns)-1 || len(first) > len(positionalColumns) {
			return nil, err
		}
		cols = positionalColumns
		out = append(out, rowToRecord(cols, first))
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		out = append(out, rowToRecord(cols, row))
	}
	return out, nil
}

// csvColumns normalizes a header row and checks it names every required field.
func csvColumns(header []string) ([]string, error) {
	cols := make([]string, len(header))
	have := make(map[string]bool, len(header))
	for i, h := range header {
		cols[i] = normalizeField(h)
		have[cols[i]] = true
	}
	for _, f := range requiredFields {
		if !have[f] {
			return nil, fmt.Errorf("header missing %s", f)
		}
	}
	return cols, nil
}

func rowToRecord(cols, row []string) record {
	rec := make(record, len(cols))
	for i, col := range cols {
		if i < len(row) {
			rec[col] = row[i]
		}
	}
	return rec
}

func objectsToRecords(list []any) ([]record, error) {
	out := make([]record, 0, len(list))
	for i, v := range list {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
		out = append(out, objectToRecord(obj))
	}
	return out, nil
}

func objectToRecord(obj map[string]any) record {
	rec := make(record, len(obj))
	for k, v := range obj {
		name := normalizeField(k)
		if name == "options" {
			expandOptions(rec, v)
			continue
		}
		rec[name] = scalarString(v)
	}
	return rec
}

// expandOptions accepts ["..", ".."] or {"A": "..", ...} option lists.
func expandOptions(rec record, v any) {
	switch opts := v.(type) {
	case []any:
		for i, o := range opts {
			if i >= len(domain.Labels) {
				break
			}
			rec["option_"+strings.ToLower(domain.Labels[i])] = scalarString(o)
		}
	case map[string]any:
		for k, o := range opts {
			if idx, ok := domain.LabelIndex(k); ok {
				rec["option_"+strings.ToLower(domain.Labels[idx])] = scalarString(o)
			}
		}
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		data, _ := json.Marshal(t)
		return string(data)
	}
}

// toItem validates a record and returns the trimmed item.
func (r record) toItem() (domain.Item, error) {
	for _, f := range requiredFields {
		if strings.TrimSpace(r[f]) == "" {
			return domain.Item{}, &domain.ValidationError{Field: f, Reason: "is missing or empty"}
		}
	}
	it := domain.Item{
		Question:    r["question"],
		Options:     [4]string{r["option_a"], r["option_b"], r["option_c"], r["option_d"]},
		Answer:      r["answer"],
		Explanation: r["explanation"],
		Number:      r["number"],
		Subject:     r["subject"],
		Topic:       r["topic"],
		Year:        r["year"],
		Source:      r["source"],
	}.Normalized()
	if err := it.Validate(); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

// ParseItem parses a single item from JSON, as sent by an admin editing one.
func ParseItem(raw []byte) (domain.Item, error) {
	recs, err := parseJSON(bytes.TrimSpace(raw))
	if err != nil || len(recs) != 1 {
		return domain.Item{}, &domain.ValidationError{Field: "json", Reason: "must be a single JSON object"}
	}
	return recs[0].toItem()
}
