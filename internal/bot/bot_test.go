package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"olx_bot/internal/config"
	"olx_bot/internal/fetcher"
	"olx_bot/internal/model"
	"olx_bot/internal/parser"
	"olx_bot/internal/scheduler"
	"olx_bot/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID      int64
	Text        string
	ParseMode   string
	NoPreview   bool
	ReplyMarkup any
}

type mockAPI struct {
	mu       sync.Mutex
	sent     []sentMsg
	requests []tgbotapi.Chattable
	sendErr  error
	updates  chan tgbotapi.Update
	stopped  bool
	webhooks int
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sent = append(m.sent, sentMsg{
			ChatID:      msg.ChatID,
			Text:        msg.Text,
			ParseMode:   msg.ParseMode,
			NoPreview:   msg.DisableWebPagePreview,
			ReplyMarkup: msg.ReplyMarkup,
		})
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	if m.updates == nil {
		m.updates = make(chan tgbotapi.Update)
	}
	return m.updates
}

func (m *mockAPI) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *mockAPI) HandleUpdate(r *http.Request) (*tgbotapi.Update, error) {
	m.mu.Lock()
	m.webhooks++
	m.mu.Unlock()

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		return nil, err
	}
	return &update, nil
}

func (m *mockAPI) webhookCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.webhooks
}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) allSent() []sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMsg, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockAPI) allRequests() []tgbotapi.Chattable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tgbotapi.Chattable, len(m.requests))
	copy(out, m.requests)
	return out
}

type mockHTTPClient struct {
	status int
	body   string
}

func (m *mockHTTPClient) Do(_ *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

// --- helpers ---

const origin = "https://www.olx.uz"

func searchPage(ids ...string) string {
	var items []string
	for _, id := range ids {
		items = append(items, fmt.Sprintf(
			`{"item": {"@type": "Offer", "url": "%s/d/obyavlenie/x-ID%s.html", "name": "Item %s", "price": 100}}`,
			origin, id, id))
	}
	return `<script type="application/ld+json">{"@type": "ItemList", "itemListElement": [` +
		strings.Join(items, ",") + `]}</script>`
}

func newTestBot(t *testing.T, status int, body string) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{SourceBaseURL: origin, PollInterval: time.Minute, ListenAddr: ":0"}
	b := newBot(api, cfg, store,
		fetcher.New(&mockHTTPClient{status: status, body: body}),
		parser.New(origin, log), log)
	return b, api, store
}

func command(chatID int64, text string) tgbotapi.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: chatID},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func plainText(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: chatID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}}
}

func callback(chatID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: chatID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

func seedFilter(t *testing.T, store *storage.SQLite, owner, url, name string) *model.Filter {
	t.Helper()
	f, err := store.AddFilter(context.Background(), owner, url, name)
	if err != nil {
		t.Fatalf("seed filter: %v", err)
	}
	return f
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, _ := newTestBot(t, http.StatusOK, "")
	b.handleUpdate(context.Background(), command(100, "/start"))
	requireContains(t, api.lastText(), "Welcome to OLX Watcher")
}

func TestHandleHelp(t *testing.T) {
	b, api, _ := newTestBot(t, http.StatusOK, "")
	b.handleUpdate(context.Background(), command(100, "/help"))
	requireContains(t, api.lastText(), "/add <url>")
	requireContains(t, api.lastText(), "/remove <id>")
	requireContains(t, api.lastText(), origin)
}

func TestHandleAdd(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		status      int
		body        string
		text        string
		wantReply   string
		wantFilters int
		wantSeen    []string
	}{
		{
			name:      "missing url",
			status:    http.StatusOK,
			text:      "/add",
			wantReply: "Usage: /add",
		},
		{
			name:      "foreign url",
			status:    http.StatusOK,
			text:      "/add https://www.avito.ru/moskva",
			wantReply: "Only https://www.olx.uz links are supported.",
		},
		{
			name:      "not a url",
			status:    http.StatusOK,
			text:      "/add hello",
			wantReply: "valid link",
		},
		{
			name:        "success skips current listings",
			status:      http.StatusOK,
			body:        searchPage("a1", "a2"),
			text:        "/add https://www.olx.uz/elektronika/",
			wantReply:   "2 existing listings skipped",
			wantFilters: 1,
			wantSeen:    []string{"a1", "a2"},
		},
		{
			name:        "seed fetch fails but filter is kept",
			status:      http.StatusServiceUnavailable,
			text:        "/add https://www.olx.uz/elektronika/",
			wantReply:   "nothing was skipped",
			wantFilters: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, store := newTestBot(t, tt.status, tt.body)
			b.handleUpdate(ctx, command(100, tt.text))

			requireContains(t, api.lastText(), tt.wantReply)

			filters, err := store.ListFilters(ctx, "100")
			if err != nil {
				t.Fatalf("list filters: %v", err)
			}
			if diff := cmp.Diff(tt.wantFilters, len(filters)); diff != "" {
				t.Errorf("filter count (-want +got):\n%s", diff)
			}
			for _, id := range tt.wantSeen {
				seen, err := store.HasSeen(ctx, id)
				if err != nil {
					t.Fatalf("has seen: %v", err)
				}
				if !seen {
					t.Errorf("listing %s not marked seen", id)
				}
			}
		})
	}
}

func TestHandleAddDuplicate(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t, http.StatusOK, searchPage())

	b.handleUpdate(ctx, command(100, "/add https://www.olx.uz/transport/"))
	requireContains(t, api.lastText(), "0 existing listings skipped")

	b.handleUpdate(ctx, command(100, "/add https://www.olx.uz/transport/"))
	requireContains(t, api.lastText(), "already watching")
}

func TestHandleAddWithName(t *testing.T) {
	ctx := context.Background()
	b, _, store := newTestBot(t, http.StatusOK, searchPage())

	b.handleUpdate(ctx, command(100, "/add https://www.olx.uz/nedvizhimost/ Flats in Tashkent"))

	filters, err := store.ListFilters(ctx, "100")
	if err != nil {
		t.Fatalf("list filters: %v", err)
	}
	if len(filters) != 1 {
		t.Fatalf("expected 1 filter, got %d", len(filters))
	}
	if diff := cmp.Diff("Flats in Tashkent", filters[0].Name); diff != "" {
		t.Errorf("filter name (-want +got):\n%s", diff)
	}
}

func TestBareURLAddsFilter(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, http.StatusOK, searchPage("b1"))

	b.handleUpdate(ctx, plainText(100, "  https://www.olx.uz/elektronika/telefony/ "))

	requireContains(t, api.lastText(), "1 existing listings skipped")
	filters, _ := store.ListFilters(ctx, "100")
	if len(filters) != 1 {
		t.Fatalf("expected 1 filter, got %d", len(filters))
	}
	if diff := cmp.Diff("https://www.olx.uz/elektronika/telefony/", filters[0].URL); diff != "" {
		t.Errorf("filter url (-want +got):\n%s", diff)
	}
}

func TestUnknownInput(t *testing.T) {
	tests := []struct {
		name   string
		update tgbotapi.Update
	}{
		{name: "plain text", update: plainText(100, "salom")},
		{name: "foreign link", update: plainText(100, "https://example.com/")},
		{name: "unknown command", update: command(100, "/settings")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, _ := newTestBot(t, http.StatusOK, "")
			b.handleUpdate(context.Background(), tt.update)
			if diff := cmp.Diff(unknownCommand, api.lastText()); diff != "" {
				t.Errorf("reply (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIgnoredUpdates(t *testing.T) {
	b, api, _ := newTestBot(t, http.StatusOK, "")
	ctx := context.Background()

	b.handleUpdate(ctx, tgbotapi.Update{})
	b.handleUpdate(ctx, plainText(100, ""))
	b.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "/start"}})

	if diff := cmp.Diff(0, len(api.allSent())); diff != "" {
		t.Errorf("sent count (-want +got):\n%s", diff)
	}
}

func TestAccessDenied(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, http.StatusOK, searchPage())
	b.cfg.AllowedUsers = []int64{1}

	b.handleUpdate(ctx, command(200, "/add https://www.olx.uz/elektronika/"))

	if diff := cmp.Diff("Access denied.", api.lastText()); diff != "" {
		t.Errorf("reply (-want +got):\n%s", diff)
	}
	all, _ := store.ListAllFilters(ctx)
	if len(all) != 0 {
		t.Errorf("expected no filters, got %d", len(all))
	}

	b.handleUpdate(ctx, callback(200, "remove:1"))
	if len(api.allRequests()) != 0 {
		t.Error("callback from a denied user was acknowledged")
	}
}

func TestHandleList(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		b, api, _ := newTestBot(t, http.StatusOK, "")
		b.handleUpdate(ctx, command(100, "/list"))
		requireContains(t, api.lastText(), "no filters yet")
		if sent := api.allSent(); sent[0].ReplyMarkup != nil {
			t.Errorf("expected no keyboard, got %v", sent[0].ReplyMarkup)
		}
	})

	t.Run("with filters", func(t *testing.T) {
		b, api, store := newTestBot(t, http.StatusOK, "")
		long := origin + "/nedvizhimost/kvartiry/prodazha/tashkent/?search[filter_float_price:to]=90000"
		first := seedFilter(t, store, "100", origin+"/elektronika/", "Phones")
		second := seedFilter(t, store, "100", long, "")
		seedFilter(t, store, "200", origin+"/transport/", "Not mine")

		b.handleUpdate(ctx, command(100, "/list"))

		text := api.lastText()
		requireContains(t, text, fmt.Sprintf("#%d Phones", first.ID))
		requireContains(t, text, fmt.Sprintf("#%d Filter #%d", second.ID, second.ID))
		requireContains(t, text, long[:50]+"...")
		if strings.Contains(text, "Not mine") {
			t.Error("list shows another owner's filter")
		}
		if strings.Index(text, fmt.Sprintf("#%d ", second.ID)) > strings.Index(text, fmt.Sprintf("#%d ", first.ID)) {
			t.Error("expected most recent filter first")
		}

		kb, ok := api.allSent()[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
		if !ok {
			t.Fatalf("expected inline keyboard, got %T", api.allSent()[0].ReplyMarkup)
		}
		var data []string
		for _, row := range kb.InlineKeyboard {
			data = append(data, *row[0].CallbackData)
		}
		want := []string{
			fmt.Sprintf("remove_confirm:%d", second.ID),
			fmt.Sprintf("remove_confirm:%d", first.ID),
		}
		if diff := cmp.Diff(want, data); diff != "" {
			t.Errorf("keyboard (-want +got):\n%s", diff)
		}
	})
}

func TestHandleRemove(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, http.StatusOK, "")
	f := seedFilter(t, store, "100", origin+"/elektronika/", "")

	b.handleUpdate(ctx, command(200, fmt.Sprintf("/remove %d", f.ID)))
	requireContains(t, api.lastText(), "not found")
	if filters, _ := store.ListFilters(ctx, "100"); len(filters) != 1 {
		t.Fatal("another owner removed the filter")
	}

	b.handleUpdate(ctx, command(100, "/remove abc"))
	requireContains(t, api.lastText(), "Usage: /remove")

	b.handleUpdate(ctx, command(100, fmt.Sprintf("/remove %d", f.ID)))
	requireContains(t, api.lastText(), fmt.Sprintf("Filter #%d removed.", f.ID))
	if filters, _ := store.ListFilters(ctx, "100"); len(filters) != 0 {
		t.Errorf("expected no filters, got %d", len(filters))
	}
}

func TestCallbackRemoveFlow(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t, http.StatusOK, "")
	f := seedFilter(t, store, "100", origin+"/elektronika/", "Phones")

	b.handleUpdate(ctx, callback(100, fmt.Sprintf("remove_confirm:%d", f.ID)))

	sent := api.allSent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	requireContains(t, sent[0].Text, `Remove #1 "Phones"?`)
	if _, ok := sent[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); !ok {
		t.Errorf("expected inline keyboard, got %T", sent[0].ReplyMarkup)
	}

	b.handleUpdate(ctx, callback(200, fmt.Sprintf("remove:%d", f.ID)))
	requireContains(t, api.lastText(), "not found")

	b.handleUpdate(ctx, callback(100, fmt.Sprintf("remove:%d", f.ID)))
	requireContains(t, api.lastText(), "removed")

	b.handleUpdate(ctx, callback(100, "noop:0"))
	b.handleUpdate(ctx, callback(100, "garbage"))

	if diff := cmp.Diff(5, len(api.allRequests())); diff != "" {
		t.Errorf("callback acks (-want +got):\n%s", diff)
	}
}

// --- notifications ---

func TestNotify(t *testing.T) {
	l := model.Listing{
		ID:    "abc",
		Title: "Flat",
		Price: "1 000 UZS",
		URL:   origin + "/d/obyavlenie/flat-IDabc.html",
	}

	t.Run("delivered", func(t *testing.T) {
		b, api, _ := newTestBot(t, http.StatusOK, "")
		if err := b.Notify(context.Background(), "100", l); err != nil {
			t.Fatalf("Notify: %v", err)
		}
		sent := api.allSent()
		if len(sent) != 1 {
			t.Fatalf("expected 1 message, got %d", len(sent))
		}
		want := sentMsg{
			ChatID:    100,
			Text:      FormatNotification(l, MaxNotificationDetails),
			ParseMode: tgbotapi.ModeHTML,
		}
		if diff := cmp.Diff(want, sent[0]); diff != "" {
			t.Errorf("message (-want +got):\n%s", diff)
		}
	})

	tests := []struct {
		name            string
		ownerID         string
		sendErr         error
		wantUndelivered bool
	}{
		{name: "rate limited", ownerID: "100", sendErr: &tgbotapi.Error{Code: http.StatusTooManyRequests, Message: "Too Many Requests: retry after 5"}},
		{name: "network error", ownerID: "100", sendErr: errors.New("connection reset by peer")},
		{name: "blocked by user", ownerID: "100", sendErr: &tgbotapi.Error{Code: http.StatusForbidden, Message: "Forbidden: bot was blocked by the user"}, wantUndelivered: true},
		{name: "chat not found", ownerID: "100", sendErr: &tgbotapi.Error{Code: http.StatusBadRequest, Message: "Bad Request: chat not found"}, wantUndelivered: true},
		{name: "other bad request", ownerID: "100", sendErr: &tgbotapi.Error{Code: http.StatusBadRequest, Message: "Bad Request: message is too long"}},
		{name: "invalid owner", ownerID: "not-a-chat", wantUndelivered: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, _ := newTestBot(t, http.StatusOK, "")
			api.sendErr = tt.sendErr

			err := b.Notify(context.Background(), tt.ownerID, l)
			if err == nil {
				t.Fatal("Notify returned nil error")
			}
			if diff := cmp.Diff(tt.wantUndelivered, errors.Is(err, scheduler.ErrUndeliverable)); diff != "" {
				t.Errorf("undeliverable (-want +got):\n%s", diff)
			}
			if len(api.allSent()) != 0 {
				t.Error("message recorded despite failure")
			}
		})
	}
}

// --- ingestion ---

func TestWebhookHandler(t *testing.T) {
	body, err := json.Marshal(command(100, "/start"))
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantSent   int
		wantDecode int
	}{
		{name: "update", method: http.MethodPost, body: string(body), wantStatus: http.StatusOK, wantSent: 1, wantDecode: 1},
		{name: "bad json", method: http.MethodPost, body: "{", wantStatus: http.StatusBadRequest, wantDecode: 1},
		{name: "wrong method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, _ := newTestBot(t, http.StatusOK, "")
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/webhook", strings.NewReader(tt.body))

			b.WebhookHandler(context.Background()).ServeHTTP(rec, req)

			if diff := cmp.Diff(tt.wantStatus, rec.Code); diff != "" {
				t.Errorf("status (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantSent, len(api.allSent())); diff != "" {
				t.Errorf("sent count (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantDecode, api.webhookCalls()); diff != "" {
				t.Errorf("decode calls (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunLongPoll(t *testing.T) {
	b, api, _ := newTestBot(t, http.StatusOK, "")
	api.updates = make(chan tgbotapi.Update)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	api.updates <- command(100, "/help")
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	requireContains(t, api.lastText(), "/add <url>")
	reqs := api.allRequests()
	if len(reqs) == 0 {
		t.Fatal("webhook was not deleted before polling")
	}
	if _, ok := reqs[0].(tgbotapi.DeleteWebhookConfig); !ok {
		t.Errorf("first request = %T, want DeleteWebhookConfig", reqs[0])
	}
	api.mu.Lock()
	stopped := api.stopped
	api.mu.Unlock()
	if !stopped {
		t.Error("StopReceivingUpdates was not called")
	}
}
