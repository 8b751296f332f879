package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mcq-bot/internal/domain"
	"mcq-bot/internal/infra/memory"
	"mcq-bot/internal/kv"
)

type sentMessage struct {
	chatID   int64
	text     string
	keyboard [][]domain.Button
}

type callbackAnswer struct {
	id    string
	text  string
	alert bool
}

type sentDocument struct {
	chatID   int64
	fileName string
	content  []byte
}

// fakeMessenger records outbound calls; files serves DownloadFile.
type fakeMessenger struct {
	mu        sync.Mutex
	messages  []sentMessage
	answers   []callbackAnswer
	documents []sentDocument
	files     map[string][]byte
	failSend  map[int64]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{files: make(map[string][]byte), failSend: make(map[int64]bool)}
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string, keyboard [][]domain.Button) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend[chatID] {
		return 0, fmt.Errorf("chat %d blocked the bot", chatID)
	}
	m.messages = append(m.messages, sentMessage{chatID: chatID, text: text, keyboard: keyboard})
	return len(m.messages), nil
}

func (m *fakeMessenger) EditText(context.Context, int64, int, string, [][]domain.Button) error {
	return nil
}

func (m *fakeMessenger) AnswerCallback(_ context.Context, id, text string, alert bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, callbackAnswer{id: id, text: text, alert: alert})
	return nil
}

func (m *fakeMessenger) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return data, nil
}

func (m *fakeMessenger) SendDocument(_ context.Context, chatID int64, fileName string, content []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = append(m.documents, sentDocument{chatID: chatID, fileName: fileName, content: content})
	return nil
}

func (m *fakeMessenger) last(t *testing.T) sentMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		t.Fatalf("no message sent")
	}
	return m.messages[len(m.messages)-1]
}

func (m *fakeMessenger) lastAnswer(t *testing.T) callbackAnswer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.answers) == 0 {
		t.Fatalf("no callback answered")
	}
	return m.answers[len(m.answers)-1]
}

func (m *fakeMessenger) sentTo(chatID int64) []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMessage
	for _, msg := range m.messages {
		if msg.chatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

var errInjected = errors.New("injected store failure")

// flakyStore fails Put for keys matched by failPut.
type flakyStore struct {
	kv.Store
	mu      sync.Mutex
	failPut func(key string) bool
}

func (s *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	fail := s.failPut != nil && s.failPut(key)
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.Store.Put(ctx, key, value)
}

func (s *flakyStore) setFailPut(fn func(key string) bool) {
	s.mu.Lock()
	s.failPut = fn
	s.mu.Unlock()
}

func testItem(i int) domain.Item {
	return domain.Item{
		Question:    fmt.Sprintf("Question %d?", i),
		Options:     [4]string{"alpha", "beta", "gamma", "delta"},
		Answer:      "B",
		Explanation: fmt.Sprintf("Explanation %d.", i),
	}
}

// answer builds the payload of the button for testItem(i) posted at position i.
func answer(i int, label string) domain.Callback {
	return domain.AnswerCallback(i, testItem(i).Ref(), label)
}

func testItems(n int) []domain.Item {
	items := make([]domain.Item, n)
	for i := range items {
		items[i] = testItem(i)
	}
	return items
}

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

const testAdmin int64 = 1

func newTestService(t *testing.T, store kv.Store, items int) (*BotService, *fakeMessenger) {
	t.Helper()
	if store == nil {
		store = memory.NewKVStore()
	}
	msgr := newFakeMessenger()
	svc := NewBotService(store, msgr, Options{
		ShardSize: 1000,
		AdminIDs:  []int64{testAdmin},
		Clock:     func() time.Time { return testNow },
	}, zerolog.Nop())
	if items > 0 {
		if _, err := svc.Items().Append(context.Background(), testItems(items)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return svc, msgr
}

func adminText(text string) domain.Update {
	return domain.Update{Message: &domain.Message{
		SenderID: testAdmin, SenderName: "Admin", ChatID: testAdmin, ChatKind: domain.ChatPrivate, Text: text,
	}}
}

func userText(userID int64, text string) domain.Update {
	return domain.Update{Message: &domain.Message{
		SenderID: userID, SenderName: "User", ChatID: userID, ChatKind: domain.ChatPrivate, Text: text,
	}}
}

func press(userID, chatID int64, cb domain.Callback) domain.Update {
	data, err := cb.Encode()
	if err != nil {
		panic(err)
	}
	return domain.Update{Callback: &domain.CallbackQuery{
		ID: "cb-" + strings.ToLower(string(cb.Kind)), SenderID: userID, SenderName: "Tester", ChatID: chatID, Data: data,
	}}
}

func mustHandle(t *testing.T, svc *BotService, upd domain.Update) {
	t.Helper()
	if err := svc.HandleUpdate(context.Background(), upd); err != nil {
		t.Fatalf("handle update: %v", err)
	}
}
