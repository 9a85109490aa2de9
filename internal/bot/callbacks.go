package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbRemoveConfirm = "remove_confirm"
	cbRemove        = "remove"
	cbNoop          = "noop"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	action, idStr, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cbRemoveConfirm:
		b.confirmRemove(ctx, chatID, id)
	case cbRemove:
		b.handleRemove(ctx, chatID, idStr)
	}
}

func (b *Bot) confirmRemove(ctx context.Context, chatID, id int64) {
	filters, err := b.store.ListFilters(ctx, ownerID(chatID))
	if err != nil {
		b.log.Error("list filters", "chat_id", chatID, "error", err)
		return
	}
	for _, f := range filters {
		if f.ID != id {
			continue
		}
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Remove #%d \"%s\"? You will stop getting its listings.", id, f.DisplayName()))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, remove", fmt.Sprintf("%s:%d", cbRemove, id)),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", cbNoop+":0"),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send remove confirmation", "error", err)
		}
		return
	}
	b.reply(chatID, fmt.Sprintf("Filter #%d not found.", id))
}
