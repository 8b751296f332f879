package app

import (
	"fmt"
	"strconv"
	"strings"

	"mcq-bot/internal/domain"
)

// maxAlertRunes is the platform limit for callback alert text.
const maxAlertRunes = 200

const welcomeText = "👋 Welcome! A new question is posted here regularly.\n\n" +
	"Tap A, B, C or D to answer. Only your first answer counts towards the leaderboard.\n\n" +
	"/quiz - get a question now\n/mystats - your score today and this month\n/leaderboard - top players\n/offers - current offers"

const notAvailableText = "This question is no longer available."

const uploadPrompt = "Send the questions as a file or as text: a JSON list, JSON lines, or CSV with the header " +
	"question,option_a,option_b,option_c,option_d,answer,explanation. Send /cancel to stop."

func helpText(admin bool) string {
	text := "Commands:\n/quiz - get a question now\n/mystats - your score\n/leaderboard - top players\n/offers - current offers\n\n" +
		"Anything else you write here is forwarded to the team."
	if !admin {
		return text
	}
	return "Commands:\n/quiz /mystats /leaderboard /offers\n\nAdmin:\n" +
		"/admin - admin menu\n/stats - collection stats\n/upload - add questions\n/edit <index> - replace a question\n" +
		"/delete - delete a question\n/broadcast - message every chat\n/export - download all questions\n" +
		"/dedupe - remove duplicate questions\n/integrity - check stored data\n/reset [chat] - reset rotation\n" +
		"/discounts - manage offer buttons\n/cancel - abandon the current workflow"
}

func formatQuestion(it domain.Item, index int) string {
	var b strings.Builder
	var tags []string
	for _, t := range []string{it.Subject, it.Topic, it.Year} {
		if t != "" {
			tags = append(tags, t)
		}
	}
	fmt.Fprintf(&b, "❓ Question #%d", index+1)
	if len(tags) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(tags, " · "))
	}
	b.WriteString("\n\n")
	b.WriteString(it.Question)
	b.WriteString("\n\n")
	for i, opt := range it.Options {
		fmt.Fprintf(&b, "%s) %s\n", domain.Labels[i], opt)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatFeedback builds the alert shown after an answer. Every press is
// judged on its own label; a repeat also names the first choice, which is the
// one that counted.
func formatFeedback(it domain.Item, label string, repeat bool, first string) string {
	head := "✅ Correct!"
	if !it.Correct(label) {
		head = fmt.Sprintf("❌ Wrong. The answer is %s: %s", it.Answer, it.AnswerText())
	}
	if repeat && first != "" {
		head += fmt.Sprintf("\nOnly your first answer (%s) counts.", first)
	}
	return truncate(head+"\n\n"+it.Explanation, maxAlertRunes)
}

func formatDiscount(b domain.DiscountButton) string {
	return fmt.Sprintf("🎁 %s\n\n%s\n\nCode: %s", b.Name, b.Message, b.Code)
}

func bucketTitle(b domain.Bucket) string {
	if b.Kind == domain.BucketDay {
		return "Today (" + b.Key + ")"
	}
	return "This month (" + b.Key + ")"
}

func formatMyStats(entity string, buckets []domain.Bucket, snaps []domain.StatsSnapshot) string {
	var b strings.Builder
	b.WriteString("📊 Your stats")
	for i, bucket := range buckets {
		if i >= len(snaps) {
			break
		}
		es := snaps[i].Entities[entity]
		b.WriteString("\n\n" + bucketTitle(bucket) + ": ")
		if es == nil || es.Attempts == 0 {
			b.WriteString("no answers yet")
			continue
		}
		fmt.Fprintf(&b, "%d/%d correct (%d%%)", es.Correct, es.Attempts, es.Correct*100/es.Attempts)
		if rank := rankOf(snaps[i], entity); rank > 0 {
			fmt.Fprintf(&b, ", rank %d of %d", rank, len(snaps[i].Entities))
		}
	}
	return b.String()
}

func rankOf(snap domain.StatsSnapshot, entity string) int {
	for i, r := range Ranked(snap, 0) {
		if r.EntityID == entity {
			return i + 1
		}
	}
	return 0
}

func formatLeaderboard(buckets []domain.Bucket, snaps []domain.StatsSnapshot, limit int) string {
	var b strings.Builder
	b.WriteString("🏆 Leaderboard")
	for i, bucket := range buckets {
		if i >= len(snaps) {
			break
		}
		b.WriteString("\n\n" + bucketTitle(bucket))
		rows := Ranked(snaps[i], limit)
		if len(rows) == 0 {
			b.WriteString("\nNo answers yet.")
			continue
		}
		for pos, r := range rows {
			id, _ := strconv.ParseInt(r.EntityID, 10, 64)
			fmt.Fprintf(&b, "\n%d. %s - %d/%d", pos+1, displayName(r.Name, id), r.Correct, r.Attempts)
		}
	}
	return b.String()
}

// displayName falls back to the numeric id when a sender has no name.
func displayName(name string, id int64) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	if id == 0 {
		return "Anonymous"
	}
	return fmt.Sprintf("User %d", id)
}

func formatIngestResult(res IngestResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Parsed %s: added %d, skipped %d duplicate(s), %d invalid.\nTotal questions: %d.",
		strings.ToUpper(string(res.Format)), res.Added, res.SkippedDuplicates, len(res.Invalid), res.TotalAfter)
	if res.LifetimeDuplicates > 0 {
		fmt.Fprintf(&b, "\nDuplicates skipped so far: %d.", res.LifetimeDuplicates)
	}
	for i, ve := range res.Invalid {
		if i == 5 {
			fmt.Fprintf(&b, "\n...and %d more.", len(res.Invalid)-i)
			break
		}
		b.WriteString("\n• " + ve.Error())
	}
	return b.String()
}

func formatCollectionStats(st CollectionStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📚 %d question(s) in %d shard(s) of %d.\nChats: %d. Offers: %d. Duplicates skipped: %d.",
		st.Total, st.Shards, st.ShardSize, st.Targets, st.Discounts, st.LifetimeDuplicates)
	writeCounts := func(title string, m map[string]int) {
		if len(m) == 0 {
			return
		}
		b.WriteString("\n\n" + title + ":")
		for i, k := range sortedCounts(m) {
			if i == 10 {
				break
			}
			fmt.Fprintf(&b, "\n%s: %d", k, m[k])
		}
	}
	writeCounts("By subject", st.Subjects)
	writeCounts("By topic", st.Topics)
	writeCounts("By year", st.Years)
	return b.String()
}

func formatIntegrity(r IntegrityReport) string {
	if r.OK() {
		return fmt.Sprintf("🩺 All good: %d item(s) checked across %d shard(s).", r.Checked, r.Meta.ShardCount)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🩺 %d issue(s) found (%d item(s) checked):", len(r.Issues), r.Checked)
	for i, issue := range r.Issues {
		if i == 20 {
			fmt.Fprintf(&b, "\n...and %d more.", len(r.Issues)-i)
			break
		}
		b.WriteString("\n• " + issue.Key + ": " + issue.Reason)
	}
	return b.String()
}

// itemRecord is the flat field layout accepted by ingestion and edits.
func itemRecord(it domain.Item) map[string]string {
	rec := map[string]string{
		"question":    it.Question,
		"option_a":    it.Options[0],
		"option_b":    it.Options[1],
		"option_c":    it.Options[2],
		"option_d":    it.Options[3],
		"answer":      it.Answer,
		"explanation": it.Explanation,
	}
	for k, v := range map[string]string{"number": it.Number, "subject": it.Subject, "topic": it.Topic, "year": it.Year, "source": it.Source} {
		if v != "" {
			rec[k] = v
		}
	}
	return rec
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
