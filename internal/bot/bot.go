package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"olx_bot/internal/config"
	"olx_bot/internal/filter"
	"olx_bot/internal/model"
	"olx_bot/internal/parser"
	"olx_bot/internal/scheduler"
	"olx_bot/internal/storage"
)

// MaxNotificationDetails caps the detail bullets in one notification.
const MaxNotificationDetails = 6

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

// PageFetcher downloads a search page when a filter is added.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	cfg     *config.Config
	fetcher PageFetcher
	parser  *parser.Parser
	mux     *http.ServeMux
	log     *slog.Logger
}

// New creates a Bot with the token from cfg.
func New(cfg *config.Config, store storage.Storage, f PageFetcher, p *parser.Parser, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("authorized", "username", api.Self.UserName)

	return newBot(api, cfg, store, f, p, log), nil
}

func newBot(api telegramAPI, cfg *config.Config, store storage.Storage, f PageFetcher, p *parser.Parser, log *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		store:   store,
		cfg:     cfg,
		fetcher: f,
		parser:  p,
		mux:     http.NewServeMux(),
		log:     log,
	}
}

// Mount adds an extra handler to the webhook server. It has no effect in
// long-poll mode.
func (b *Bot) Mount(pattern string, h http.Handler) {
	b.mux.Handle(pattern, h)
}

// Run receives updates until ctx is cancelled, through a webhook when one is
// configured and by long polling otherwise.
func (b *Bot) Run(ctx context.Context) error {
	if b.cfg.WebhookMode() {
		return b.runWebhook(ctx)
	}
	return b.runLongPoll(ctx)
}

func (b *Bot) runLongPoll(ctx context.Context) error {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("long polling started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) runWebhook(ctx context.Context) error {
	wh, err := tgbotapi.NewWebhook(b.cfg.WebhookURL)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	b.mux.Handle(webhookPath(b.cfg.WebhookURL), b.WebhookHandler(ctx))

	srv := &http.Server{
		Addr:              b.cfg.ListenAddr,
		Handler:           b.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		b.log.Info("webhook server started", "addr", srv.Addr, "url", b.cfg.WebhookURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown webhook server: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	}
}

// WebhookHandler decodes updates posted by Telegram and handles them.
func (b *Bot) WebhookHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		update, err := b.api.HandleUpdate(r)
		if err != nil {
			b.log.Warn("decode webhook update", "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		b.handleUpdate(ctx, *update)
		w.WriteHeader(http.StatusOK)
	})
}

func webhookPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/webhook"
	}
	return u.Path
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		cb := update.CallbackQuery
		if cb.From == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
			return
		}
		b.handleCallback(ctx, cb)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if filter.IsSourceURL(text, b.cfg.SourceBaseURL) {
		b.handleAdd(ctx, msg.Chat.ID, text)
		return
	}
	b.reply(msg.Chat.ID, unknownCommand)
}

// Notify sends a new-listing message to the owner's chat. A nil error means
// Telegram accepted the message. Errors for chats that will never accept it
// wrap scheduler.ErrUndeliverable.
func (b *Bot) Notify(_ context.Context, ownerID string, l model.Listing) error {
	chatID, err := strconv.ParseInt(ownerID, 10, 64)
	if err != nil {
		b.log.Error("invalid owner id", "owner_id", ownerID, "error", err)
		return fmt.Errorf("owner %q: %w", ownerID, scheduler.ErrUndeliverable)
	}

	msg := tgbotapi.NewMessage(chatID, FormatNotification(l, MaxNotificationDetails))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send notification", "owner_id", ownerID, "listing_id", l.ID, "error", err)
		if chatGone(err) {
			return fmt.Errorf("send to %s: %w: %w", ownerID, scheduler.ErrUndeliverable, err)
		}
		return fmt.Errorf("send to %s: %w", ownerID, err)
	}
	b.log.Debug("notification sent", "owner_id", ownerID, "listing_id", l.ID)
	return nil
}

// chatGone reports whether Telegram rejected a message because the chat can
// no longer receive it: the bot was blocked or the chat does not exist.
func chatGone(err error) bool {
	var (
		apiErr tgbotapi.Error
		ptr    *tgbotapi.Error
	)
	switch {
	case errors.As(err, &ptr):
		apiErr = *ptr
	case errors.As(err, &apiErr):
	default:
		return false
	}
	switch apiErr.Code {
	case http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		return strings.Contains(strings.ToLower(apiErr.Message), "chat not found")
	}
	return false
}

// SendMessage sends a plain text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "list":
		b.handleList(ctx, chatID)
	case "add":
		b.handleAdd(ctx, chatID, args)
	case "remove":
		b.handleRemove(ctx, chatID, args)
	default:
		b.reply(chatID, unknownCommand)
	}
}

func ownerID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
