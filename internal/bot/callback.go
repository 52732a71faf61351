package bot

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ttgrab/ttgrab/internal/retriever"
	"github.com/ttgrab/ttgrab/internal/tiktok"
)

// handleCallback dispatches inline-button presses. Data formats:
// "mode/toggle", "lang/<code>", "sound/<content id>", "retry".
func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil {
		return
	}
	msg := cq.Message
	u := b.ensureUser(ctx, msg)

	verb, arg, _ := strings.Cut(cq.Data, "/")
	switch verb {
	case "mode":
		u.FileMode = !u.FileMode
		if err := b.db.SetFileMode(ctx, msg.Chat.ID, u.FileMode); err != nil {
			slog.Error("file mode update failed", slog.Any("error", err))
			break
		}
		key := "file_mode_off"
		if u.FileMode {
			key = "file_mode_on"
		}
		b.answer(cq, b.loc.Get(u.Lang, key))
		return
	case "lang":
		if !slices.Contains(b.loc.Languages(), arg) {
			break
		}
		if err := b.db.SetLang(ctx, msg.Chat.ID, arg); err != nil {
			slog.Error("language update failed", slog.Any("error", err))
			break
		}
		b.answer(cq, b.loc.Get(arg, "lang_set"))
		return
	case "sound":
		b.answer(cq, "")
		fake := *msg
		fake.Text = tiktok.ContentURL(arg)
		b.handleLink(ctx, &fake, retriever.KindMusic)
		return
	case "retry":
		b.answer(cq, "")
		if msg.ReplyToMessage != nil && msg.ReplyToMessage.Text != "" {
			b.handleLink(ctx, msg.ReplyToMessage, retriever.KindUnknown)
		}
		return
	}
	b.answer(cq, "")
}

func (b *Bot) answer(cq *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, text)); err != nil {
		slog.Debug("callback ack failed", slog.Any("error", err))
	}
}
