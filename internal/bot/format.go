package bot

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"olx_bot/internal/model"
)

const maxListURL = 50

// FormatNotification renders a listing as a Telegram HTML message with at
// most maxDetails detail bullets.
func FormatNotification(l model.Listing, maxDetails int) string {
	var b strings.Builder
	b.WriteString("🆕 <b>New listing!</b>\n\n")
	fmt.Fprintf(&b, "<b>%s</b>\n\n", html.EscapeString(l.Title))
	fmt.Fprintf(&b, "💰 %s\n", html.EscapeString(l.Price))
	if l.Location != "" {
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(l.Location))
	}

	details := l.Details
	if len(details) > maxDetails {
		details = details[:maxDetails]
	}
	if len(details) > 0 {
		b.WriteString("\n")
		for _, d := range details {
			fmt.Fprintf(&b, "• %s\n", html.EscapeString(d))
		}
	}

	fmt.Fprintf(&b, "\n🔗 <a href=\"%s\">Open listing</a>", html.EscapeString(l.URL))
	return b.String()
}

// FormatFilterList formats an owner's filters for display.
func FormatFilterList(filters []model.Filter) string {
	if len(filters) == 0 {
		return "You have no filters yet.\n\nSend me a search URL to add one."
	}
	var b strings.Builder
	b.WriteString("Your filters:\n")
	for _, f := range filters {
		fmt.Fprintf(&b, "\n#%d %s\n%s\n", f.ID, f.DisplayName(), shortenURL(f.URL, maxListURL))
	}
	b.WriteString("\nRemove: /remove <id>")
	return b.String()
}

func shortenURL(u string, n int) string {
	if utf8.RuneCountInString(u) <= n {
		return u
	}
	return string([]rune(u)[:n]) + "..."
}

// removeKeyboard has one remove button per filter, or nil if there are none.
func removeKeyboard(filters []model.Filter) *tgbotapi.InlineKeyboardMarkup {
	if len(filters) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(filters))
	for _, f := range filters {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Remove #%d", f.ID), fmt.Sprintf("%s:%d", cbRemoveConfirm, f.ID)),
		))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func (b *Bot) sendWithKeyboard(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}
