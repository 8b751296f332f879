package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxCallbackBytes is the platform limit on button payloads.
const MaxCallbackBytes = 64

// CallbackKind discriminates the callback payload variants.
type CallbackKind string

const (
	CallbackAnswer   CallbackKind = "ans"
	CallbackAdmin    CallbackKind = "adm"
	CallbackDiscount CallbackKind = "dsc"
)

// AdminAction is a top-level or in-workflow admin button.
type AdminAction string

const (
	ActionMenu            AdminAction = "menu"
	ActionCancel          AdminAction = "cancel"
	ActionUpload          AdminAction = "upload"
	ActionBroadcast       AdminAction = "broadcast"
	ActionEdit            AdminAction = "edit"
	ActionDelete          AdminAction = "delete"
	ActionReply           AdminAction = "reply"
	ActionStats           AdminAction = "stats"
	ActionExport          AdminAction = "export"
	ActionDedupe          AdminAction = "dedupe"
	ActionIntegrity       AdminAction = "integrity"
	ActionDiscounts       AdminAction = "discounts"
	ActionDiscountAdd     AdminAction = "d_add"
	ActionDiscountEdit    AdminAction = "d_edit"
	ActionDiscountDelete  AdminAction = "d_del"
	ActionDiscountConfirm AdminAction = "d_ok"
)

// Callback is the wire form of a button payload. Exactly the fields of the
// variant named by Kind are meaningful.
type Callback struct {
	Kind CallbackKind `json:"k"`

	// ans: Item is the position when the button was posted, Ref the item's
	// content reference. Ref wins when the two disagree.
	Item  int    `json:"i,omitempty"`
	Ref   string `json:"r,omitempty"`
	Label string `json:"l,omitempty"`

	// adm
	Action AdminAction `json:"a,omitempty"`
	Arg    string      `json:"g,omitempty"`

	// dsc
	ID string `json:"d,omitempty"`
}

// AnswerCallback builds the payload for an answer button.
func AnswerCallback(item int, ref, label string) Callback {
	return Callback{Kind: CallbackAnswer, Item: item, Ref: ref, Label: label}
}

// AdminCallback builds the payload for an admin button.
func AdminCallback(action AdminAction, arg string) Callback {
	return Callback{Kind: CallbackAdmin, Action: action, Arg: arg}
}

// DiscountCallback builds the payload for an offer button.
func DiscountCallback(id string) Callback {
	return Callback{Kind: CallbackDiscount, ID: id}
}

// Encode serializes the payload and enforces the size limit.
func (c Callback) Encode() (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	if len(data) > MaxCallbackBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrCallbackTooLong, len(data))
	}
	return string(data), nil
}

// DecodeCallback parses a payload produced by Encode.
func DecodeCallback(raw string) (Callback, error) {
	var c Callback
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return c, fmt.Errorf("%w: %q", ErrUnknownCallback, raw)
	}
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrUnknownCallback, err)
	}
	if err := c.check(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Callback) check() error {
	switch c.Kind {
	case CallbackAnswer:
		if c.Item < 0 {
			return fmt.Errorf("%w: negative item", ErrUnknownCallback)
		}
		if c.Ref == "" {
			return fmt.Errorf("%w: missing item ref", ErrUnknownCallback)
		}
		if _, ok := LabelIndex(c.Label); !ok {
			return fmt.Errorf("%w: label %q", ErrUnknownCallback, c.Label)
		}
	case CallbackAdmin:
		if c.Action == "" {
			return fmt.Errorf("%w: missing admin action", ErrUnknownCallback)
		}
	case CallbackDiscount:
		if c.ID == "" {
			return fmt.Errorf("%w: missing discount id", ErrUnknownCallback)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrUnknownCallback, c.Kind)
	}
	return nil
}
