package bot

import (
	"context"
	"errors"
	"fmt"

	"olx_bot/internal/filter"
	"olx_bot/internal/storage"
)

const unknownCommand = "Unknown command. Use /help for a list of commands."

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to OLX Watcher!

I watch olx.uz searches and tell you about new listings.

Quick start:
1. Set up a search with the filters you want on olx.uz
2. Send me the page URL (or /add <url>)
3. Wait for new listings

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, fmt.Sprintf(`Commands:
/add <url> [name] - watch a search URL
/list - show your filters
/remove <id> - stop watching a filter

You can also just paste a link that starts with %s.

Example:
%s/nedvizhimost/kvartiry/prodazha/tashkent/

Listings already on the page when you add a filter are skipped.
Searches are checked every %s.`, b.cfg.SourceBaseURL, b.cfg.SourceBaseURL, b.cfg.PollInterval))
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	filters, err := b.store.ListFilters(ctx, ownerID(chatID))
	if err != nil {
		b.log.Error("list filters", "chat_id", chatID, "error", err)
		b.reply(chatID, "Could not load your filters. Please try again later.")
		return
	}

	b.sendWithKeyboard(chatID, FormatFilterList(filters), removeKeyboard(filters))
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	rawURL, name, err := ParseAddArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /add <url> [name]\n\nExample: /add "+b.cfg.SourceBaseURL+"/elektronika/")
		return
	}

	u, err := filter.Validate(rawURL, b.cfg.SourceBaseURL)
	switch {
	case errors.Is(err, filter.ErrForeignURL):
		b.reply(chatID, "Only "+b.cfg.SourceBaseURL+" links are supported.")
		return
	case err != nil:
		b.reply(chatID, "That does not look like a valid link.")
		return
	}

	owner := ownerID(chatID)
	f, err := b.store.AddFilter(ctx, owner, u, name)
	if errors.Is(err, storage.ErrDuplicateFilter) {
		b.reply(chatID, "You are already watching this URL.")
		return
	}
	if err != nil {
		b.log.Error("add filter", "owner_id", owner, "url", u, "error", err)
		b.reply(chatID, "Could not save the filter. Please try again later.")
		return
	}
	b.log.Info("filter added", "owner_id", owner, "filter_id", f.ID, "url", u)

	b.reply(chatID, "Adding filter...")

	skipped, err := b.seed(ctx, u)
	if err != nil {
		b.log.Warn("seed filter", "filter_id", f.ID, "url", u, "error", err)
		b.reply(chatID, fmt.Sprintf("Filter #%d added.\n\nCould not load the current listings, so nothing was skipped. "+
			"You may get notifications about listings that are already on the page.", f.ID))
		return
	}

	b.reply(chatID, fmt.Sprintf("Filter #%d added!\n\n%d existing listings skipped.\nI'll let you know about new ones.",
		f.ID, skipped))
}

// seed marks every listing currently on the page as seen so only later
// listings are reported.
func (b *Bot) seed(ctx context.Context, url string) (int, error) {
	page, err := b.fetcher.FetchPage(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("fetch page: %w", err)
	}

	listings := b.parser.Parse(page)
	for _, l := range listings {
		if err := b.store.MarkSeen(ctx, l.Seen()); err != nil {
			return 0, fmt.Errorf("mark seen %s: %w", l.ID, err)
		}
	}
	return len(listings), nil
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /remove <id>\n\nCheck the IDs with /list.")
		return
	}

	removed, err := b.store.RemoveFilter(ctx, ownerID(chatID), id)
	if err != nil {
		b.log.Error("remove filter", "chat_id", chatID, "filter_id", id, "error", err)
		b.reply(chatID, "Could not remove the filter. Please try again later.")
		return
	}
	if !removed {
		b.reply(chatID, fmt.Sprintf("Filter #%d not found.", id))
		return
	}
	b.log.Info("filter removed", "chat_id", chatID, "filter_id", id)
	b.reply(chatID, fmt.Sprintf("Filter #%d removed.", id))
}
