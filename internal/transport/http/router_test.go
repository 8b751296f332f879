package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func serve(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	svc, _ := newTestService(t)
	rec := serve(NewHandler(svc, Options{}, zerolog.Nop()).Router(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestDispenseRequiresCronSecret(t *testing.T) {
	svc, msgr := newTestService(t)
	router := NewHandler(svc, Options{CronSecret: "s3cret"}, zerolog.Nop()).Router()

	rec := serve(router, http.MethodPost, "/dispense?target=-5", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, msgr.sent())

	rec = serve(router, http.MethodPost, "/dispense?target=-5", "", map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Target int64 `json:"target"`
		Item   int   `json:"item"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(-5), body.Target)
	require.Equal(t, 0, body.Item)

	rec = serve(router, http.MethodPost, "/dispense?target=-5", "", map[string]string{"Authorization": "Bearer s3cret"})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Item)
	require.Len(t, msgr.sent(), 2)
}

func TestCronWithoutTargetsConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	router := NewHandler(svc, Options{}, zerolog.Nop()).Router()
	rec := serve(router, http.MethodPost, "/cron", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	_, err := svc.Targets().Add(context.Background(), -7)
	require.NoError(t, err)
	rec = serve(router, http.MethodPost, "/cron", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"chatId":-7`)
}

func TestWebhookSecretAndDispatch(t *testing.T) {
	svc, msgr := newTestService(t)
	router := NewHandler(svc, Options{WebhookSecret: "hook"}, zerolog.Nop()).Router()
	update := `{"update_id":1,"message":{"message_id":1,"date":0,
		"from":{"id":9,"is_bot":false,"first_name":"Ada"},
		"chat":{"id":9,"type":"private"},"text":"/start"}}`

	rec := serve(router, http.MethodPost, "/webhook", update, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, http.MethodPost, "/webhook", update, map[string]string{"X-Telegram-Bot-Api-Secret-Token": "hook"})
	require.Equal(t, http.StatusOK, rec.Code)
	sent := msgr.sent()
	require.Len(t, sent, 1)
	require.Equal(t, int64(9), sent[0].chatID)

	targets, err := svc.Targets().List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{9}, targets)

	rec = serve(router, http.MethodPost, "/webhook", "{broken", map[string]string{"X-Telegram-Bot-Api-Secret-Token": "hook"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaintenanceEndpoints(t *testing.T) {
	svc, _ := newTestService(t)
	router := NewHandler(svc, Options{}, zerolog.Nop()).Router()

	rec := serve(router, http.MethodGet, "/maintenance/integrity", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		Checked int   `json:"checked"`
		Issues  []any `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 3, report.Checked)
	require.Empty(t, report.Issues)

	rec = serve(router, http.MethodPost, "/maintenance/dedupe", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"removed":0}`, rec.Body.String())

	serve(router, http.MethodPost, "/dispense?target=3", "", nil)
	rec = serve(router, http.MethodPost, "/maintenance/reset-rotation", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"reset":1}`, rec.Body.String())

	rec = serve(router, http.MethodGet, "/maintenance/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":3`)
}
