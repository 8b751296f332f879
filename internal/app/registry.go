package app

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"mcq-bot/internal/domain"
	"mcq-bot/internal/kv"
)

// discountIDLen keeps edit/delete button payloads within the callback limit.
const discountIDLen = 12

// DiscountRegistry is the ordered list of offer buttons under one key.
type DiscountRegistry struct {
	store kv.Store
	newID func() string
}

func NewDiscountRegistry(store kv.Store) *DiscountRegistry {
	return &DiscountRegistry{store: store, newID: shortID}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:discountIDLen]
}

// List returns all buttons in creation order.
func (r *DiscountRegistry) List(ctx context.Context) ([]domain.DiscountButton, error) {
	buttons, _, err := kv.GetJSON[[]domain.DiscountButton](ctx, r.store, keyDiscounts)
	return buttons, err
}

// Get returns the button with id.
func (r *DiscountRegistry) Get(ctx context.Context, id string) (domain.DiscountButton, error) {
	buttons, err := r.List(ctx)
	if err != nil {
		return domain.DiscountButton{}, err
	}
	for _, b := range buttons {
		if b.ID == id {
			return b, nil
		}
	}
	return domain.DiscountButton{}, &domain.NotFoundError{What: "discount", ID: id}
}

// Create commits a completed draft as a new button.
func (r *DiscountRegistry) Create(ctx context.Context, draft domain.DiscountDraft) (domain.DiscountButton, error) {
	if err := validateDraft(draft); err != nil {
		return domain.DiscountButton{}, err
	}
	buttons, err := r.List(ctx)
	if err != nil {
		return domain.DiscountButton{}, err
	}
	taken := make(map[string]bool, len(buttons))
	for _, b := range buttons {
		taken[b.ID] = true
	}
	id := r.newID()
	for taken[id] {
		id = r.newID()
	}
	b := domain.DiscountButton{ID: id, Name: strings.TrimSpace(draft.Name), Code: strings.TrimSpace(draft.Code), Message: strings.TrimSpace(draft.Message)}
	buttons = append(buttons, b)
	return b, kv.PutJSON(ctx, r.store, keyDiscounts, buttons)
}

// Update replaces the fields of an existing button.
func (r *DiscountRegistry) Update(ctx context.Context, id string, draft domain.DiscountDraft) (domain.DiscountButton, error) {
	if err := validateDraft(draft); err != nil {
		return domain.DiscountButton{}, err
	}
	buttons, err := r.List(ctx)
	if err != nil {
		return domain.DiscountButton{}, err
	}
	for i := range buttons {
		if buttons[i].ID == id {
			buttons[i].Name = strings.TrimSpace(draft.Name)
			buttons[i].Code = strings.TrimSpace(draft.Code)
			buttons[i].Message = strings.TrimSpace(draft.Message)
			return buttons[i], kv.PutJSON(ctx, r.store, keyDiscounts, buttons)
		}
	}
	return domain.DiscountButton{}, &domain.NotFoundError{What: "discount", ID: id}
}

// Delete removes the button with id.
func (r *DiscountRegistry) Delete(ctx context.Context, id string) error {
	buttons, err := r.List(ctx)
	if err != nil {
		return err
	}
	for i := range buttons {
		if buttons[i].ID == id {
			buttons = append(buttons[:i:i], buttons[i+1:]...)
			return kv.PutJSON(ctx, r.store, keyDiscounts, buttons)
		}
	}
	return &domain.NotFoundError{What: "discount", ID: id}
}

func validateDraft(d domain.DiscountDraft) error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return &domain.ValidationError{Field: "name", Reason: "is empty"}
	case strings.TrimSpace(d.Code) == "":
		return &domain.ValidationError{Field: "code", Reason: "is empty"}
	case strings.TrimSpace(d.Message) == "":
		return &domain.ValidationError{Field: "message", Reason: "is empty"}
	}
	return nil
}

// TargetRegistry remembers the chats that receive dispensed items.
type TargetRegistry struct {
	store kv.Store
}

func NewTargetRegistry(store kv.Store) *TargetRegistry {
	return &TargetRegistry{store: store}
}

// List returns all registered chat ids.
func (r *TargetRegistry) List(ctx context.Context) ([]int64, error) {
	ids, _, err := kv.GetJSON[[]int64](ctx, r.store, keyTargets)
	return ids, err
}

// Add registers chatID; it reports false when it was already present.
func (r *TargetRegistry) Add(ctx context.Context, chatID int64) (bool, error) {
	ids, err := r.List(ctx)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == chatID {
			return false, nil
		}
	}
	return true, kv.PutJSON(ctx, r.store, keyTargets, append(ids, chatID))
}

// Remove unregisters chatID.
func (r *TargetRegistry) Remove(ctx context.Context, chatID int64) error {
	ids, err := r.List(ctx)
	if err != nil {
		return err
	}
	out := ids[:0:0]
	for _, id := range ids {
		if id != chatID {
			out = append(out, id)
		}
	}
	return kv.PutJSON(ctx, r.store, keyTargets, out)
}

// AdminSessions persists one AdminState per administrator.
type AdminSessions struct {
	store kv.Store
}

func NewAdminSessions(store kv.Store) *AdminSessions {
	return &AdminSessions{store: store}
}

// Load returns the admin's state; a missing record reads as Idle.
func (s *AdminSessions) Load(ctx context.Context, adminID int64) (domain.AdminState, error) {
	st, found, err := kv.GetJSON[domain.AdminState](ctx, s.store, keyAdminState(adminID))
	if err != nil {
		return domain.AdminState{Mode: domain.ModeIdle}, err
	}
	if !found || st.Mode == "" {
		st = domain.AdminState{Mode: domain.ModeIdle}
	}
	return st, nil
}

// Save persists a mid-workflow state.
func (s *AdminSessions) Save(ctx context.Context, adminID int64, st domain.AdminState) error {
	return kv.PutJSON(ctx, s.store, keyAdminState(adminID), st)
}

// Clear returns the admin to Idle, dropping every staged field.
func (s *AdminSessions) Clear(ctx context.Context, adminID int64) error {
	return kv.Delete(ctx, s.store, keyAdminState(adminID))
}

// Begin enters a new workflow. The previous state is cleared first so that
// input meant for the new workflow is never consumed by a stale one.
func (s *AdminSessions) Begin(ctx context.Context, adminID int64, st domain.AdminState) error {
	if err := s.Clear(ctx, adminID); err != nil {
		return err
	}
	return s.Save(ctx, adminID, st)
}
