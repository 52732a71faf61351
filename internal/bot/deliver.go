package bot

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ttgrab/ttgrab/internal/retriever"
	"github.com/ttgrab/ttgrab/internal/store"
	"github.com/ttgrab/ttgrab/internal/tiktok"
)

// Telegram caps media groups at ten photos.
const mediaGroupLimit = 10

// handleLink runs the retrieval pipeline for a message containing a
// platform link and replies with the payload or a localized diagnosis.
func (b *Bot) handleLink(ctx context.Context, msg *tgbotapi.Message, hint retriever.ContentKind) {
	u := b.ensureUser(ctx, msg)
	private := msg.Chat.IsPrivate()

	link, ok := tiktok.ExtractLink(msg.Text)
	if !ok {
		if private {
			b.reply(msg, b.loc.Get(u.Lang, "link_error"), nil)
		}
		return
	}

	// Cheap pre-check before paying the admission wait: a chat that has
	// already filled its queue slot gets an immediate answer.
	if b.svc.QueueLoad(msg.Chat.ID) >= b.cfg.UserQueueCap {
		if private {
			b.reply(msg, b.loc.Get(u.Lang, "error_busy"), nil)
		}
		return
	}

	action := "upload_video"
	if hint == retriever.KindMusic {
		action = "upload_voice"
	}
	if _, err := b.api.Request(tgbotapi.NewChatAction(msg.Chat.ID, action)); err != nil {
		slog.Debug("chat action failed", slog.Any("error", err))
	}

	out := b.svc.Retrieve(ctx, retriever.Request{URL: link, UserID: msg.Chat.ID, Hint: hint})
	switch out.Status {
	case retriever.StatusSuccess:
		b.deliver(ctx, msg, u, link, out)
	case retriever.StatusCancelled:
		// The chat is gone or shutdown is in progress; nothing to say.
	default:
		if !private && out.Kind != retriever.ErrURLUnsupported {
			// Stay quiet in groups except for clearly malformed links.
			return
		}
		b.reply(msg, b.failureText(u.Lang, out), failureKeyboard(b.loc, u.Lang, out))
	}
}

func (b *Bot) deliver(ctx context.Context, msg *tgbotapi.Message, u store.User, link string, out retriever.Outcome) {
	p := out.Payload
	caption := resultCaption(out.Meta)
	if tag := b.resultTag(u.Lang); tag != "" {
		caption = truncateRunes(strings.TrimSpace(caption+"\n\n"+tag), 1024)
	}
	markup := resultKeyboard(b.loc, u.Lang, link, out)

	var err error
	switch p.Kind {
	case retriever.KindMusic:
		audio := tgbotapi.NewAudio(msg.Chat.ID, tgbotapi.FileBytes{Name: p.FileName, Bytes: p.Bytes})
		if out.Meta != nil {
			audio.Performer = out.Meta.Author
			audio.Title = out.Meta.Title
			audio.Caption = b.loc.Getf(u.Lang, "result_song", out.Meta.Author, out.Meta.Title)
			audio.ParseMode = tgbotapi.ModeHTML
		}
		audio.ReplyToMessageID = msg.MessageID
		_, err = b.api.Send(audio)
	case retriever.KindSlideshow:
		if err = b.sendSlideshow(msg, p.Images); err == nil && caption != "" {
			m := tgbotapi.NewMessage(msg.Chat.ID, caption)
			m.ReplyMarkup = markup
			_, err = b.api.Send(m)
		}
	default:
		if u.FileMode {
			doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{Name: p.FileName, Bytes: p.Bytes})
			doc.Caption = caption
			doc.ReplyMarkup = markup
			doc.ReplyToMessageID = msg.MessageID
			_, err = b.api.Send(doc)
		} else {
			video := tgbotapi.NewVideo(msg.Chat.ID, tgbotapi.FileBytes{Name: p.FileName, Bytes: p.Bytes})
			video.Caption = caption
			video.ReplyMarkup = markup
			video.ReplyToMessageID = msg.MessageID
			if out.Meta != nil {
				video.Duration = int(out.Meta.Duration.Seconds())
			}
			video.SupportsStreaming = true
			_, err = b.api.Send(video)
		}
	}
	if err != nil {
		slog.Warn("delivery failed",
			slog.Int64("chat", msg.Chat.ID),
			slog.String("kind", p.Kind.String()),
			slog.Any("error", err))
		if msg.Chat.IsPrivate() {
			b.reply(msg, b.loc.Get(u.Lang, "error"), nil)
		}
		return
	}
	if err := b.db.AddDownload(ctx, msg.Chat.ID, link, p.Kind); err != nil {
		slog.Error("download record failed", slog.Any("error", err))
	}
}

// sendSlideshow ships image URLs in media groups of up to ten, letting
// Telegram fetch the files itself.
func (b *Bot) sendSlideshow(msg *tgbotapi.Message, urls []string) error {
	for len(urls) > 0 {
		n := min(len(urls), mediaGroupLimit)
		media := make([]any, 0, n)
		for _, u := range urls[:n] {
			media = append(media, tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(u)))
		}
		urls = urls[n:]
		group := tgbotapi.NewMediaGroup(msg.Chat.ID, media)
		group.ReplyToMessageID = msg.MessageID
		if _, err := b.api.SendMediaGroup(group); err != nil {
			return err
		}
	}
	return nil
}

// resultTag is the "downloaded via" line appended to captions.
func (b *Bot) resultTag(lang string) string {
	if b.api == nil || b.api.Self.UserName == "" {
		return ""
	}
	return b.loc.Getf(lang, "result", b.api.Self.UserName)
}

func resultCaption(meta *retriever.Metadata) string {
	if meta == nil {
		return ""
	}
	var sb strings.Builder
	if meta.Title != "" {
		sb.WriteString(meta.Title)
	}
	if meta.Author != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("@" + meta.Author)
	}
	return truncateRunes(sb.String(), 1024)
}

// resultKeyboard attaches the original-page button plus, for videos, a
// shortcut that re-runs the pipeline for the clip's soundtrack.
func resultKeyboard(loc localeGetter, lang, link string, out retriever.Outcome) *tgbotapi.InlineKeyboardMarkup {
	row := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonURL(loc.Get(lang, "original_button"), link),
	}
	if out.Payload.Kind == retriever.KindVideo && out.Meta != nil && out.Meta.ID != "" {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(loc.Get(lang, "get_sound"), "sound/"+out.Meta.ID))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(row)
	return &kb
}

// localeGetter is the slice of the catalog the keyboards need.
type localeGetter interface {
	Get(lang, key string) string
}

func (b *Bot) failureText(lang string, out retriever.Outcome) string {
	if out.Stage == retriever.StageAdmit && out.Kind == retriever.ErrResourceTimeout {
		return b.loc.Getf(lang, "error_queue_full", b.cfg.UserQueueCap)
	}
	switch out.Kind {
	case retriever.ErrContentUnavailable:
		return b.loc.Get(lang, "error_unavailable")
	case retriever.ErrURLUnsupported:
		return b.loc.Get(lang, "link_error")
	case retriever.ErrUnsupportedKind:
		return b.loc.Get(lang, "error_unsupported_kind")
	case retriever.ErrBlocked, retriever.ErrPoolExhausted:
		return b.loc.Get(lang, "error_blocked")
	case retriever.ErrNetwork, retriever.ErrDownloadFailed, retriever.ErrResourceTimeout:
		return b.loc.Get(lang, "error_network")
	default:
		return b.loc.Get(lang, "error")
	}
}

// failureKeyboard offers a retry button for failures that a second
// attempt can plausibly fix.
func failureKeyboard(loc localeGetter, lang string, out retriever.Outcome) *tgbotapi.InlineKeyboardMarkup {
	switch out.Kind {
	case retriever.ErrContentUnavailable, retriever.ErrURLUnsupported, retriever.ErrUnsupportedKind:
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(loc.Get(lang, "try_again_button"), "retry"),
		),
	)
	return &kb
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
