package domain

// AdminMode is the pending workflow of an administrator session.
type AdminMode string

const (
	ModeIdle              AdminMode = "idle"
	ModeAwaitingUpload    AdminMode = "awaiting_upload"
	ModeAwaitingBroadcast AdminMode = "awaiting_broadcast"
	ModeAwaitingEditJSON  AdminMode = "awaiting_edit_json"
	ModeAwaitingDelete    AdminMode = "awaiting_delete_index"
	ModeAwaitingReply     AdminMode = "awaiting_reply"
	ModeAwaitingDiscount  AdminMode = "awaiting_discount"
)

// AdminModes lists every mode; handlers are checked against it in tests.
var AdminModes = []AdminMode{
	ModeIdle,
	ModeAwaitingUpload,
	ModeAwaitingBroadcast,
	ModeAwaitingEditJSON,
	ModeAwaitingDelete,
	ModeAwaitingReply,
	ModeAwaitingDiscount,
}

// DiscountStep is the field the discount workflow expects next.
type DiscountStep string

const (
	StepName    DiscountStep = "name"
	StepCode    DiscountStep = "code"
	StepMessage DiscountStep = "message"
	StepConfirm DiscountStep = "confirm"
)

// AdminState is the persisted session of one administrator. Only the fields
// belonging to Mode are populated.
type AdminState struct {
	Mode AdminMode `json:"mode"`

	// ModeAwaitingEditJSON
	EditIndex int `json:"editIndex,omitempty"`

	// ModeAwaitingReply
	ReplyTarget int64 `json:"replyTarget,omitempty"`

	// ModeAwaitingDiscount
	Step   DiscountStep   `json:"step,omitempty"`
	EditID string         `json:"editId,omitempty"`
	Draft  *DiscountDraft `json:"draft,omitempty"`
}

// Idle reports whether no workflow is pending.
func (s AdminState) Idle() bool {
	return s.Mode == "" || s.Mode == ModeIdle
}
