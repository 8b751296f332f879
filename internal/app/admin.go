package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mcq-bot/internal/domain"
)

// adminStep consumes one message for a pending workflow.
type adminStep func(s *BotService, ctx context.Context, msg *domain.Message, st domain.AdminState) error

// adminSteps maps every non-idle mode to its handler. A mode without an
// entry is reported as an error instead of falling through to commands.
var adminSteps = map[domain.AdminMode]adminStep{
	domain.ModeAwaitingUpload:    (*BotService).stepUpload,
	domain.ModeAwaitingBroadcast: (*BotService).stepBroadcast,
	domain.ModeAwaitingEditJSON:  (*BotService).stepEditItem,
	domain.ModeAwaitingDelete:    (*BotService).stepDeleteItem,
	domain.ModeAwaitingReply:     (*BotService).stepReply,
	domain.ModeAwaitingDiscount:  (*BotService).stepDiscount,
}

func isCancel(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if cmd, _, ok := parseCommand(t); ok {
		return cmd == "cancel"
	}
	return false
}

// handleAdminMessage gives a pending workflow exclusive use of the message.
// It reports false when the admin is idle and the message should be routed
// as a normal command.
func (s *BotService) handleAdminMessage(ctx context.Context, msg *domain.Message) (bool, error) {
	adminID := msg.SenderID
	st, err := s.sessions.Load(ctx, adminID)
	if err != nil {
		s.logger.Error().Err(err).Int64("admin", adminID).Msg("failed to load admin state")
		return true, s.replyAdminError(ctx, msg.ChatID, err)
	}

	if isCancel(msg.Text) {
		if st.Idle() {
			return true, s.reply(ctx, msg.ChatID, "Nothing to cancel.")
		}
		if err := s.sessions.Clear(ctx, adminID); err != nil {
			return true, s.replyAdminError(ctx, msg.ChatID, err)
		}
		return true, s.reply(ctx, msg.ChatID, "Cancelled.")
	}

	if st.Idle() {
		if msg.Document != nil {
			_, err := s.ingestFromMessage(ctx, msg)
			return true, err
		}
		return false, nil
	}

	step, ok := adminSteps[st.Mode]
	if !ok {
		_ = s.sessions.Clear(ctx, adminID)
		return true, fmt.Errorf("unhandled admin mode %q", st.Mode)
	}
	s.logger.Debug().Int64("admin", adminID).Str("mode", string(st.Mode)).Msg("admin workflow input")
	return true, step(s, ctx, msg, st)
}

func (s *BotService) handleAdminCommand(ctx context.Context, msg *domain.Message, cmd, args string) error {
	adminID, chatID := msg.SenderID, msg.ChatID
	switch cmd {
	case "admin", "menu":
		return s.sendAdminMenu(ctx, chatID)
	case "stats":
		return s.sendCollectionStats(ctx, chatID)
	case "upload", "add_mcq":
		return s.beginWorkflow(ctx, adminID, chatID, domain.AdminState{Mode: domain.ModeAwaitingUpload}, uploadPrompt)
	case "broadcast":
		return s.beginWorkflow(ctx, adminID, chatID, domain.AdminState{Mode: domain.ModeAwaitingBroadcast}, "Send the message to broadcast to every chat, or /cancel.")
	case "edit":
		return s.beginEdit(ctx, adminID, chatID, args)
	case "delete":
		return s.beginDelete(ctx, adminID, chatID)
	case "export":
		return s.sendExport(ctx, chatID)
	case "dedupe":
		return s.runDedupe(ctx, chatID)
	case "integrity":
		return s.runIntegrity(ctx, chatID)
	case "reset":
		n, err := s.ResetRotation(ctx, args)
		if err != nil {
			return s.replyAdminError(ctx, chatID, err)
		}
		return s.reply(ctx, chatID, fmt.Sprintf("Rotation reset for %d target(s).", n))
	case "discounts":
		return s.sendDiscountMenu(ctx, chatID)
	}
	return s.reply(ctx, chatID, helpText(true))
}

// oneStepActions complete immediately; selecting one abandons any pending
// workflow, like starting a new one does.
var oneStepActions = map[domain.AdminAction]bool{
	domain.ActionStats:          true,
	domain.ActionExport:         true,
	domain.ActionDedupe:         true,
	domain.ActionIntegrity:      true,
	domain.ActionDiscountDelete: true,
}

func (s *BotService) handleAdminCallback(ctx context.Context, cb *domain.CallbackQuery, p domain.Callback) error {
	if err := s.messenger.AnswerCallback(ctx, cb.ID, "", false); err != nil {
		s.logger.Warn().Err(err).Msg("failed to acknowledge admin callback")
	}
	adminID, chatID := cb.SenderID, cb.ChatID
	if oneStepActions[p.Action] {
		if err := s.sessions.Clear(ctx, adminID); err != nil {
			return s.replyAdminError(ctx, chatID, err)
		}
	}

	switch p.Action {
	case domain.ActionMenu:
		return s.sendAdminMenu(ctx, chatID)
	case domain.ActionCancel:
		if err := s.sessions.Clear(ctx, adminID); err != nil {
			return s.replyAdminError(ctx, chatID, err)
		}
		return s.reply(ctx, chatID, "Cancelled.")
	case domain.ActionUpload:
		return s.beginWorkflow(ctx, adminID, chatID, domain.AdminState{Mode: domain.ModeAwaitingUpload}, uploadPrompt)
	case domain.ActionBroadcast:
		return s.beginWorkflow(ctx, adminID, chatID, domain.AdminState{Mode: domain.ModeAwaitingBroadcast}, "Send the message to broadcast to every chat, or /cancel.")
	case domain.ActionEdit:
		return s.beginEdit(ctx, adminID, chatID, p.Arg)
	case domain.ActionDelete:
		return s.beginDelete(ctx, adminID, chatID)
	case domain.ActionReply:
		target, err := strconv.ParseInt(p.Arg, 10, 64)
		if err != nil {
			return s.reply(ctx, chatID, "That reply button is no longer valid.")
		}
		return s.beginWorkflow(ctx, adminID, chatID, domain.AdminState{Mode: domain.ModeAwaitingReply, ReplyTarget: target},
			fmt.Sprintf("Send your reply to %d, or /cancel.", target))
	case domain.ActionStats:
		return s.sendCollectionStats(ctx, chatID)
	case domain.ActionExport:
		return s.sendExport(ctx, chatID)
	case domain.ActionDedupe:
		return s.runDedupe(ctx, chatID)
	case domain.ActionIntegrity:
		return s.runIntegrity(ctx, chatID)
	case domain.ActionDiscounts:
		return s.sendDiscountMenu(ctx, chatID)
	case domain.ActionDiscountAdd:
		st := domain.AdminState{Mode: domain.ModeAwaitingDiscount, Step: domain.StepName, Draft: &domain.DiscountDraft{}}
		return s.beginWorkflow(ctx, adminID, chatID, st, "New discount button. Send its name, or /cancel.")
	case domain.ActionDiscountEdit:
		b, err := s.discounts.Get(ctx, p.Arg)
		if err != nil {
			return s.replyAdminError(ctx, chatID, err)
		}
		st := domain.AdminState{
			Mode:   domain.ModeAwaitingDiscount,
			Step:   domain.StepName,
			EditID: b.ID,
			Draft:  &domain.DiscountDraft{Name: b.Name, Code: b.Code, Message: b.Message},
		}
		return s.beginWorkflow(ctx, adminID, chatID, st, fmt.Sprintf("Editing %q. Send the new name, or /cancel.", b.Name))
	case domain.ActionDiscountDelete:
		if err := s.discounts.Delete(ctx, p.Arg); err != nil {
			return s.replyAdminError(ctx, chatID, err)
		}
		return s.reply(ctx, chatID, "Discount button deleted.")
	case domain.ActionDiscountConfirm:
		st, err := s.sessions.Load(ctx, adminID)
		if err != nil {
			return s.replyAdminError(ctx, chatID, err)
		}
		if st.Mode != domain.ModeAwaitingDiscount || st.Step != domain.StepConfirm {
			return s.reply(ctx, chatID, "Nothing to confirm.")
		}
		return s.commitDiscount(ctx, adminID, chatID, st)
	}
	return s.reply(ctx, chatID, "Unknown admin action.")
}

// beginWorkflow resets the admin to Idle, enters st and sends prompt.
func (s *BotService) beginWorkflow(ctx context.Context, adminID, chatID int64, st domain.AdminState, prompt string) error {
	if err := s.sessions.Begin(ctx, adminID, st); err != nil {
		return s.replyAdminError(ctx, chatID, err)
	}
	return s.reply(ctx, chatID, prompt)
}

func (s *BotService) beginEdit(ctx context.Context, adminID, chatID int64, arg string) error {
	total, err := s.items.TotalCount(ctx)
	if err != nil {
		return s.replyAdminError(ctx, chatID, err)
	}
	index, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return s.reply(ctx, chatID, fmt.Sprintf("Usage: /edit <index>, with index between 0 and %d.", total-1))
	}
	item, err := s.items.ReadAt(ctx, index)
	if err != nil {
		return s.replyAdminError(ctx, chatID, err)
	}
	current, _ := json.MarshalIndent(itemRecord(item), "", "  ")
	prompt := fmt.Sprintf("Editing question %d. Send the full replacement as JSON, or /cancel.\n\n%s", index, current)
	return s.beginWorkflow(ctx, adminID, chatID, domain.AdminState{Mode: domain.ModeAwaitingEditJSON, EditIndex: index}, prompt)
}

func (s *BotService) beginDelete(ctx context.Context, adminID, chatID int64) error {
	total, err := s.items.TotalCount(ctx)
	if err != nil {
		return s.replyAdminError(ctx, chatID, err)
	}
	if total == 0 {
		return s.reply(ctx, chatID, "The collection is empty.")
	}
	prompt := fmt.Sprintf("Send the index of the question to delete (0-%d), or /cancel.", total-1)
	return s.beginWorkflow(ctx, adminID, chatID, domain.AdminState{Mode: domain.ModeAwaitingDelete}, prompt)
}

func (s *BotService) stepUpload(ctx context.Context, msg *domain.Message, _ domain.AdminState) error {
	if msg.Document == nil && strings.TrimSpace(msg.Text) == "" {
		return s.reply(ctx, msg.ChatID, uploadPrompt)
	}
	ok, err := s.ingestFromMessage(ctx, msg)
	if err != nil || !ok {
		return err
	}
	return s.sessions.Clear(ctx, msg.SenderID)
}

// ingestFromMessage ingests an attached document or the message text and
// reports whether anything was ingested. Failures are replied to the admin.
func (s *BotService) ingestFromMessage(ctx context.Context, msg *domain.Message) (bool, error) {
	raw := []byte(msg.Text)
	if msg.Document != nil {
		data, err := s.messenger.DownloadFile(ctx, msg.Document.FileID)
		if err != nil {
			s.logger.Error().Err(err).Str("file", msg.Document.FileName).Msg("failed to download upload")
			return false, s.reply(ctx, msg.ChatID, "❌ Could not download that file. Please send it again.")
		}
		raw = data
	}
	res, err := s.ingestor.Ingest(ctx, raw)
	if err != nil {
		return false, s.replyAdminError(ctx, msg.ChatID, err)
	}
	return true, s.reply(ctx, msg.ChatID, formatIngestResult(res))
}

func (s *BotService) stepBroadcast(ctx context.Context, msg *domain.Message, _ domain.AdminState) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return s.reply(ctx, msg.ChatID, "Send the broadcast as text, or /cancel.")
	}
	targets, err := s.targets.List(ctx)
	if err != nil {
		return s.replyAdminError(ctx, msg.ChatID, err)
	}
	sent, failed := 0, 0
	for _, chatID := range targets {
		if _, err := s.messenger.SendText(ctx, chatID, text, nil); err != nil {
			s.logger.Warn().Err(err).Int64("chat", chatID).Msg("broadcast delivery failed")
			failed++
			continue
		}
		sent++
	}
	if err := s.sessions.Clear(ctx, msg.SenderID); err != nil {
		return err
	}
	return s.reply(ctx, msg.ChatID, fmt.Sprintf("📣 Broadcast sent to %d chat(s), %d failed.", sent, failed))
}

func (s *BotService) stepEditItem(ctx context.Context, msg *domain.Message, st domain.AdminState) error {
	item, err := ParseItem([]byte(msg.Text))
	if err != nil {
		return s.replyAdminError(ctx, msg.ChatID, err)
	}
	if err := s.items.SetAt(ctx, st.EditIndex, item); err != nil {
		if domain.IsNotFound(err) {
			_ = s.sessions.Clear(ctx, msg.SenderID)
		}
		return s.replyAdminError(ctx, msg.ChatID, err)
	}
	if err := s.sessions.Clear(ctx, msg.SenderID); err != nil {
		return err
	}
	return s.reply(ctx, msg.ChatID, fmt.Sprintf("✅ Question %d updated.", st.EditIndex))
}

func (s *BotService) stepDeleteItem(ctx context.Context, msg *domain.Message, _ domain.AdminState) error {
	index, err := strconv.Atoi(strings.TrimSpace(msg.Text))
	if err != nil {
		total, _ := s.items.TotalCount(ctx)
		return s.reply(ctx, msg.ChatID, fmt.Sprintf("❌ Send a number between 0 and %d, or /cancel.", total-1))
	}
	removed, err := s.items.DeleteAt(ctx, index)
	if err != nil {
		return s.replyAdminError(ctx, msg.ChatID, err)
	}
	if err := s.sessions.Clear(ctx, msg.SenderID); err != nil {
		return err
	}
	return s.reply(ctx, msg.ChatID, fmt.Sprintf("🗑 Deleted question %d: %s", index, truncate(removed.Question, 80)))
}

func (s *BotService) stepReply(ctx context.Context, msg *domain.Message, st domain.AdminState) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return s.reply(ctx, msg.ChatID, "Send the reply as text, or /cancel.")
	}
	if _, err := s.messenger.SendText(ctx, st.ReplyTarget, "💬 "+text, nil); err != nil {
		s.logger.Warn().Err(err).Int64("user", st.ReplyTarget).Msg("reply delivery failed")
		return s.reply(ctx, msg.ChatID, "❌ Could not deliver the reply. The user may have blocked the bot.")
	}
	if err := s.sessions.Clear(ctx, msg.SenderID); err != nil {
		return err
	}
	return s.reply(ctx, msg.ChatID, "Reply sent.")
}

// stepDiscount collects name, code and message across turns, saving the
// partial draft after each one, then waits for confirmation.
func (s *BotService) stepDiscount(ctx context.Context, msg *domain.Message, st domain.AdminState) error {
	text := strings.TrimSpace(msg.Text)
	if st.Draft == nil {
		st.Draft = &domain.DiscountDraft{}
	}
	if text == "" {
		return s.reply(ctx, msg.ChatID, "Please send text, or /cancel.")
	}

	var prompt string
	var keyboard [][]domain.Button
	switch st.Step {
	case domain.StepName, "":
		st.Draft.Name = text
		st.Step = domain.StepCode
		prompt = "Send the discount code."
	case domain.StepCode:
		st.Draft.Code = text
		st.Step = domain.StepMessage
		prompt = "Send the message shown with the code."
	case domain.StepMessage:
		st.Draft.Message = text
		st.Step = domain.StepConfirm
		prompt = "Preview:\n\n" + formatDiscount(domain.DiscountButton{Name: st.Draft.Name, Code: st.Draft.Code, Message: st.Draft.Message}) +
			"\n\nSave it? Reply \"yes\" or use the buttons."
		keyboard = [][]domain.Button{{
			s.button("✅ Save", domain.AdminCallback(domain.ActionDiscountConfirm, "")),
			s.button("✖️ Cancel", domain.AdminCallback(domain.ActionCancel, "")),
		}}
	case domain.StepConfirm:
		switch strings.ToLower(text) {
		case "yes", "y", "confirm", "save":
			return s.commitDiscount(ctx, msg.SenderID, msg.ChatID, st)
		}
		return s.reply(ctx, msg.ChatID, "Reply \"yes\" to save, or /cancel.")
	default:
		_ = s.sessions.Clear(ctx, msg.SenderID)
		return fmt.Errorf("unknown discount step %q", st.Step)
	}

	if err := s.sessions.Save(ctx, msg.SenderID, st); err != nil {
		return s.replyAdminError(ctx, msg.ChatID, err)
	}
	_, err := s.messenger.SendText(ctx, msg.ChatID, prompt, keyboard)
	return err
}

func (s *BotService) commitDiscount(ctx context.Context, adminID, chatID int64, st domain.AdminState) error {
	var draft domain.DiscountDraft
	if st.Draft != nil {
		draft = *st.Draft
	}
	var (
		b   domain.DiscountButton
		err error
	)
	if st.EditID != "" {
		b, err = s.discounts.Update(ctx, st.EditID, draft)
	} else {
		b, err = s.discounts.Create(ctx, draft)
	}
	if err != nil {
		return s.replyAdminError(ctx, chatID, err)
	}
	if err := s.sessions.Clear(ctx, adminID); err != nil {
		return err
	}
	return s.reply(ctx, chatID, fmt.Sprintf("✅ Discount button %q saved.", b.Name))
}

func (s *BotService) sendAdminMenu(ctx context.Context, chatID int64) error {
	keyboard := [][]domain.Button{
		{s.button("📥 Upload", domain.AdminCallback(domain.ActionUpload, "")), s.button("📣 Broadcast", domain.AdminCallback(domain.ActionBroadcast, ""))},
		{s.button("🗑 Delete", domain.AdminCallback(domain.ActionDelete, "")), s.button("📊 Stats", domain.AdminCallback(domain.ActionStats, ""))},
		{s.button("🎁 Discounts", domain.AdminCallback(domain.ActionDiscounts, "")), s.button("📤 Export", domain.AdminCallback(domain.ActionExport, ""))},
		{s.button("🧹 Dedupe", domain.AdminCallback(domain.ActionDedupe, "")), s.button("🩺 Integrity", domain.AdminCallback(domain.ActionIntegrity, ""))},
	}
	_, err := s.messenger.SendText(ctx, chatID, "🛠 Admin menu", keyboard)
	return err
}

func (s *BotService) sendDiscountMenu(ctx context.Context, chatID int64) error {
	buttons, err := s.discounts.List(ctx)
	if err != nil {
		return s.replyAdminError(ctx, chatID, err)
	}
	keyboard := make([][]domain.Button, 0, len(buttons)+1)
	for _, b := range buttons {
		keyboard = append(keyboard, []domain.Button{
			s.button("✏️ "+b.Name, domain.AdminCallback(domain.ActionDiscountEdit, b.ID)),
			s.button("🗑", domain.AdminCallback(domain.ActionDiscountDelete, b.ID)),
		})
	}
	keyboard = append(keyboard, []domain.Button{s.button("➕ Add discount", domain.AdminCallback(domain.ActionDiscountAdd, ""))})
	_, err = s.messenger.SendText(ctx, chatID, fmt.Sprintf("🎁 %d discount button(s)", len(buttons)), keyboard)
	return err
}

func (s *BotService) sendCollectionStats(ctx context.Context, chatID int64) error {
	stats, err := s.CollectionStats(ctx)
	if err != nil {
		return s.replyAdminError(ctx, chatID, err)
	}
	return s.reply(ctx, chatID, formatCollectionStats(stats))
}

func (s *BotService) sendExport(ctx context.Context, chatID int64) error {
	items, err := s.items.All(ctx)
	if err != nil {
		return s.replyAdminError(ctx, chatID, err)
	}
	records := make([]map[string]string, 0, len(items))
	for _, it := range items {
		records = append(records, itemRecord(it))
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return s.messenger.SendDocument(ctx, chatID, "questions.json", data, fmt.Sprintf("%d question(s)", len(items)))
}

func (s *BotService) runDedupe(ctx context.Context, chatID int64) error {
	removed, err := s.ingestor.Deduplicate(ctx)
	if err != nil {
		return s.replyAdminError(ctx, chatID, err)
	}
	return s.reply(ctx, chatID, fmt.Sprintf("🧹 Removed %d duplicate question(s).", removed))
}

func (s *BotService) runIntegrity(ctx context.Context, chatID int64) error {
	report, err := s.items.CheckIntegrity(ctx)
	if err != nil {
		return s.replyAdminError(ctx, chatID, err)
	}
	return s.reply(ctx, chatID, formatIntegrity(report))
}

// replyAdminError turns err into an actionable admin message.
func (s *BotService) replyAdminError(ctx context.Context, chatID int64, err error) error {
	var (
		ve *domain.ValidationError
		nf *domain.NotFoundError
		de *domain.DataIntegrityError
		te *domain.TransientStoreError
	)
	var text string
	switch {
	case errors.As(err, &ve):
		text = fmt.Sprintf("❌ Invalid %s: %s", ve.Field, ve.Reason)
		if ve.Line > 0 {
			text = fmt.Sprintf("❌ Record %d: %s %s", ve.Line, ve.Field, ve.Reason)
		}
	case errors.As(err, &nf):
		text = "❌ " + nf.Error()
	case errors.Is(err, domain.ErrEmptyCollection):
		text = "❌ The collection is empty."
	case errors.As(err, &de):
		text = "⚠️ Stored data looks inconsistent (" + de.Key + "). Run /integrity for details."
	case errors.As(err, &te):
		text = "⚠️ Storage is unavailable right now. Please try again."
	default:
		text = "❌ " + err.Error()
	}
	s.logger.Warn().Err(err).Int64("chat", chatID).Msg("admin operation failed")
	return s.reply(ctx, chatID, text)
}
