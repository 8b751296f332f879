package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"mcq-bot/internal/domain"
	"mcq-bot/internal/kv"
)

// Messenger is the outbound chat transport (send, edit, answer, files).
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, keyboard [][]domain.Button) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, keyboard [][]domain.Button) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	SendDocument(ctx context.Context, chatID int64, fileName string, content []byte, caption string) error
}

// Options tunes the bot service.
type Options struct {
	ShardSize int
	Window    RecentWindow
	AdminIDs  []int64
	Location  *time.Location
	// AsyncStats records statistics after the callback has been answered,
	// outside the request's deadline.
	AsyncStats   bool
	StatsTimeout time.Duration
	Clock        func() time.Time
}

// BotService routes inbound events to the rotation, scoring, ingestion and
// admin workflows. It holds no authoritative state; every call reads what it
// needs from the store.
type BotService struct {
	store     kv.Store
	messenger Messenger
	items     *Collection
	rotator   *Rotator
	stats     *StatsAggregator
	ingestor  *Ingestor
	discounts *DiscountRegistry
	targets   *TargetRegistry
	sessions  *AdminSessions
	feed      *StatsFeed
	admins    map[int64]struct{}
	opts      Options
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

func NewBotService(store kv.Store, messenger Messenger, opts Options, logger zerolog.Logger) *BotService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.StatsTimeout <= 0 {
		opts.StatsTimeout = 10 * time.Second
	}
	items := NewCollection(store, opts.ShardSize, logger)
	feed := NewStatsFeed(opts.Clock)
	stats := NewStatsAggregator(store, logger)
	stats.feed = feed
	admins := make(map[int64]struct{}, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = struct{}{}
	}
	return &BotService{
		store:     store,
		messenger: messenger,
		items:     items,
		rotator:   NewRotator(store, items, opts.Window, logger),
		stats:     stats,
		ingestor:  NewIngestor(store, items, logger),
		discounts: NewDiscountRegistry(store),
		targets:   NewTargetRegistry(store),
		sessions:  NewAdminSessions(store),
		feed:      feed,
		admins:    admins,
		opts:      opts,
		logger:    logger,
	}
}

func (s *BotService) Items() *Collection { return s.items }

func (s *BotService) Rotator() *Rotator { return s.rotator }

func (s *BotService) Stats() *StatsAggregator { return s.stats }

func (s *BotService) Ingestor() *Ingestor { return s.ingestor }

func (s *BotService) Discounts() *DiscountRegistry { return s.discounts }

func (s *BotService) Targets() *TargetRegistry { return s.targets }

func (s *BotService) Sessions() *AdminSessions { return s.sessions }

func (s *BotService) Feed() *StatsFeed { return s.feed }

// Buckets returns the stats buckets for the current time.
func (s *BotService) Buckets() []domain.Bucket {
	return domain.BucketsFor(s.opts.Clock(), s.opts.Location)
}

// IsAdmin reports whether userID may run admin workflows.
func (s *BotService) IsAdmin(userID int64) bool {
	_, ok := s.admins[userID]
	return ok
}

// Wait blocks until deferred bookkeeping started by earlier events finishes.
func (s *BotService) Wait() { s.wg.Wait() }

// HandleUpdate processes one inbound event.
func (s *BotService) HandleUpdate(ctx context.Context, upd domain.Update) error {
	ctx = kv.WithRequestCache(ctx)
	switch {
	case upd.Callback != nil:
		return s.handleCallback(ctx, upd.Callback)
	case upd.Message != nil:
		return s.handleMessage(ctx, upd.Message)
	}
	return nil
}

func (s *BotService) handleMessage(ctx context.Context, msg *domain.Message) error {
	admin := s.IsAdmin(msg.SenderID)
	if admin {
		handled, err := s.handleAdminMessage(ctx, msg)
		if handled || err != nil {
			return err
		}
	}

	text := strings.TrimSpace(msg.Text)
	if cmd, args, ok := parseCommand(text); ok {
		return s.handleCommand(ctx, msg, cmd, args, admin)
	}
	if msg.ChatKind == domain.ChatPrivate && !admin && text != "" {
		return s.forwardToAdmins(ctx, msg)
	}
	return nil
}

// parseCommand splits "/cmd@bot arg1 arg2" into ("cmd", "arg1 arg2").
func parseCommand(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, args, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(args), head != ""
}

func (s *BotService) handleCommand(ctx context.Context, msg *domain.Message, cmd, args string, admin bool) error {
	switch cmd {
	case "start":
		if _, err := s.targets.Add(ctx, msg.ChatID); err != nil {
			s.logger.Error().Err(err).Int64("chat", msg.ChatID).Msg("failed to register target")
		}
		return s.reply(ctx, msg.ChatID, welcomeText)
	case "help":
		return s.reply(ctx, msg.ChatID, helpText(admin))
	case "quiz", "next":
		_, err := s.Dispense(ctx, msg.ChatID)
		if domain.IsNotFound(err) {
			return s.reply(ctx, msg.ChatID, "No questions are available yet.")
		}
		return err
	case "mystats":
		return s.sendMyStats(ctx, msg)
	case "leaderboard", "top":
		return s.sendLeaderboard(ctx, msg.ChatID)
	case "offers":
		return s.sendOffers(ctx, msg.ChatID)
	}
	if admin {
		return s.handleAdminCommand(ctx, msg, cmd, args)
	}
	if msg.ChatKind == domain.ChatPrivate {
		return s.reply(ctx, msg.ChatID, helpText(false))
	}
	return nil
}

func (s *BotService) handleCallback(ctx context.Context, cb *domain.CallbackQuery) error {
	payload, err := domain.DecodeCallback(cb.Data)
	if err != nil {
		s.logger.Warn().Err(err).Str("data", cb.Data).Msg("undecodable callback")
		return s.messenger.AnswerCallback(ctx, cb.ID, notAvailableText, true)
	}
	switch payload.Kind {
	case domain.CallbackAnswer:
		return s.handleAnswer(ctx, cb, payload)
	case domain.CallbackAdmin:
		if !s.IsAdmin(cb.SenderID) {
			return s.messenger.AnswerCallback(ctx, cb.ID, "Only administrators can do that.", true)
		}
		return s.handleAdminCallback(ctx, cb, payload)
	case domain.CallbackDiscount:
		return s.handleDiscount(ctx, cb, payload)
	}
	return s.messenger.AnswerCallback(ctx, cb.ID, notAvailableText, true)
}

// handleAnswer scores an answer button. The callback is answered first; the
// stats update follows as deferred bookkeeping. Only the first choice counts;
// later presses get feedback on the label just pressed.
func (s *BotService) handleAnswer(ctx context.Context, cb *domain.CallbackQuery, p domain.Callback) error {
	item, index, err := s.items.Locate(ctx, p.Item, p.Ref)
	if err != nil {
		s.logger.Warn().Err(err).Int("item", p.Item).Str("ref", p.Ref).Msg("answer for unavailable item")
		return s.messenger.AnswerCallback(ctx, cb.ID, notAvailableText, true)
	}
	if err := item.Validate(); err != nil {
		s.logger.Error().Err(err).Int("item", index).Msg("stored item fails validation")
		return s.messenger.AnswerCallback(ctx, cb.ID, notAvailableText, true)
	}

	entity := EntityKey(cb.SenderID)
	label := strings.ToUpper(p.Label)
	first, isFirst, ledgerErr := s.stats.RecordChoice(ctx, entity, p.Ref, label)
	if ledgerErr != nil {
		s.logger.Error().Err(ledgerErr).Str("ref", p.Ref).Str("entity", entity).Msg("failed to ledger choice")
	}

	feedback := formatFeedback(item, label, !isFirst && ledgerErr == nil, first)
	if err := s.messenger.AnswerCallback(ctx, cb.ID, feedback, true); err != nil {
		return err
	}
	if ledgerErr != nil {
		return nil
	}

	at := Attempt{EntityID: entity, Name: cb.SenderName, Item: p.Ref, Correct: item.Correct(first)}
	buckets := s.Buckets()
	s.deferred(ctx, func(ctx context.Context) {
		_ = s.stats.RecordAttempt(ctx, at, buckets)
	})
	return nil
}

// deferred runs fn after the current event when AsyncStats is set; otherwise inline.
func (s *BotService) deferred(ctx context.Context, fn func(ctx context.Context)) {
	if !s.opts.AsyncStats {
		fn(ctx)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StatsTimeout)
		defer cancel()
		fn(bctx)
	}()
}

func (s *BotService) handleDiscount(ctx context.Context, cb *domain.CallbackQuery, p domain.Callback) error {
	b, err := s.discounts.Get(ctx, p.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("discount", p.ID).Msg("discount lookup failed")
		return s.messenger.AnswerCallback(ctx, cb.ID, "This offer is no longer available.", true)
	}
	if err := s.messenger.AnswerCallback(ctx, cb.ID, "", false); err != nil {
		return err
	}
	return s.reply(ctx, cb.ChatID, formatDiscount(b))
}

// Dispense posts the target's next item and returns its index.
func (s *BotService) Dispense(ctx context.Context, chatID int64) (int, error) {
	ctx = kv.WithRequestCache(ctx)
	item, index, err := s.rotator.Next(ctx, strconv.FormatInt(chatID, 10))
	if err != nil {
		return 0, err
	}
	row := make([]domain.Button, 0, len(domain.Labels))
	for _, label := range domain.Labels {
		row = append(row, s.button(label, domain.AnswerCallback(index, item.Ref(), label)))
	}
	if _, err := s.messenger.SendText(ctx, chatID, formatQuestion(item, index), [][]domain.Button{row}); err != nil {
		return index, fmt.Errorf("send question %d to %d: %w", index, chatID, err)
	}
	s.logger.Info().Int64("chat", chatID).Int("item", index).Msg("dispensed item")
	return index, nil
}

// DispenseResult is the outcome for one target of DispenseAll.
type DispenseResult struct {
	ChatID int64  `json:"chatId"`
	Item   int    `json:"item"`
	Error  string `json:"error,omitempty"`
}

// DispenseAll posts the next item to every registered target. It uses the
// same cursor path as interactive dispensing.
func (s *BotService) DispenseAll(ctx context.Context) ([]DispenseResult, error) {
	targets, err := s.targets.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, domain.ErrNoTargets
	}
	results := make([]DispenseResult, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(4)
	for i, chatID := range targets {
		i, chatID := i, chatID
		g.Go(func() error {
			index, err := s.Dispense(ctx, chatID)
			results[i] = DispenseResult{ChatID: chatID, Item: index}
			if err != nil {
				results[i].Error = err.Error()
				errs[i] = err
				s.logger.Error().Err(err).Int64("chat", chatID).Msg("dispense failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// ResetRotation clears the cursor of one target, or of all when target is empty.
func (s *BotService) ResetRotation(ctx context.Context, target string) (int, error) {
	if target == "" {
		return s.rotator.ResetAll(ctx)
	}
	return 1, s.rotator.Reset(ctx, target)
}

// Ingest adds uploaded content to the collection.
func (s *BotService) Ingest(ctx context.Context, raw []byte) (IngestResult, error) {
	return s.ingestor.Ingest(kv.WithRequestCache(ctx), raw)
}

// Deduplicate removes repeated items from the stored collection.
func (s *BotService) Deduplicate(ctx context.Context) (int, error) {
	return s.ingestor.Deduplicate(kv.WithRequestCache(ctx))
}

// CurrentStats returns the ranked snapshot of the current bucket of kind.
func (s *BotService) CurrentStats(ctx context.Context, kind domain.BucketKind) (StatsUpdate, error) {
	for _, b := range s.Buckets() {
		if b.Kind != kind {
			continue
		}
		snap, err := s.stats.Snapshot(ctx, b)
		if err != nil {
			return StatsUpdate{}, err
		}
		return NewStatsUpdate(b, snap, s.opts.Clock()), nil
	}
	return StatsUpdate{}, fmt.Errorf("unknown bucket kind %q", kind)
}

// CheckIntegrity validates every stored shard and item.
func (s *BotService) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	return s.items.CheckIntegrity(kv.WithRequestCache(ctx))
}

func (s *BotService) sendMyStats(ctx context.Context, msg *domain.Message) error {
	buckets := s.Buckets()
	snaps, err := s.stats.Snapshots(ctx, buckets)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read stats")
		return s.reply(ctx, msg.ChatID, "Stats are unavailable right now. Please try again later.")
	}
	return s.reply(ctx, msg.ChatID, formatMyStats(EntityKey(msg.SenderID), buckets, snaps))
}

func (s *BotService) sendLeaderboard(ctx context.Context, chatID int64) error {
	buckets := s.Buckets()
	snaps, err := s.stats.Snapshots(ctx, buckets)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read stats")
		return s.reply(ctx, chatID, "Stats are unavailable right now. Please try again later.")
	}
	return s.reply(ctx, chatID, formatLeaderboard(buckets, snaps, 10))
}

func (s *BotService) sendOffers(ctx context.Context, chatID int64) error {
	buttons, err := s.discounts.List(ctx)
	if err != nil {
		return err
	}
	if len(buttons) == 0 {
		return s.reply(ctx, chatID, "There are no offers right now.")
	}
	keyboard := make([][]domain.Button, 0, len(buttons))
	for _, b := range buttons {
		keyboard = append(keyboard, []domain.Button{s.button(b.Name, domain.DiscountCallback(b.ID))})
	}
	_, err = s.messenger.SendText(ctx, chatID, "🎁 Current offers:", keyboard)
	return err
}

func (s *BotService) forwardToAdmins(ctx context.Context, msg *domain.Message) error {
	text := fmt.Sprintf("✉️ Message from %s (%d):\n\n%s", displayName(msg.SenderName, msg.SenderID), msg.SenderID, msg.Text)
	keyboard := [][]domain.Button{{s.button("Reply", domain.AdminCallback(domain.ActionReply, strconv.FormatInt(msg.SenderID, 10)))}}
	for id := range s.admins {
		if _, err := s.messenger.SendText(ctx, id, text, keyboard); err != nil {
			s.logger.Warn().Err(err).Int64("admin", id).Msg("failed to forward user message")
		}
	}
	return s.reply(ctx, msg.ChatID, "Thanks! Your message was forwarded to the team.")
}

func (s *BotService) reply(ctx context.Context, chatID int64, text string, keyboard ...[]domain.Button) error {
	_, err := s.messenger.SendText(ctx, chatID, text, keyboard)
	return err
}

func (s *BotService) button(text string, cb domain.Callback) domain.Button {
	data, err := cb.Encode()
	if err != nil {
		s.logger.Error().Err(err).Str("button", text).Msg("failed to encode callback")
	}
	return domain.Button{Text: text, Data: data}
}
