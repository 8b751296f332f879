package domain

// ChatKind mirrors the platform's chat types.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSuperGroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// Update is one inbound event; exactly one of Message or Callback is set.
type Update struct {
	Message  *Message
	Callback *CallbackQuery
}

// Message is an inbound chat message.
type Message struct {
	ID         int
	SenderID   int64
	SenderName string
	ChatID     int64
	ChatKind   ChatKind
	Text       string
	Document   *Document
}

// Document references an uploaded file.
type Document struct {
	FileID   string
	FileName string
	Size     int64
}

// CallbackQuery is an inbound button press.
type CallbackQuery struct {
	ID         string
	SenderID   int64
	SenderName string
	ChatID     int64
	MessageID  int
	Data       string
}

// Button is an outbound inline button carrying an encoded Callback.
type Button struct {
	Text string
	Data string
}
