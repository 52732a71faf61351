// Package bot is the chat-platform front end: it parses commands,
// submits links to the retrieval service and formats outcomes into
// localized replies. It holds no retrieval logic of its own.
package bot

import (
	"context"
	"log/slog"
	"slices"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ttgrab/ttgrab/internal/locale"
	"github.com/ttgrab/ttgrab/internal/retriever"
	"github.com/ttgrab/ttgrab/internal/store"
)

// Config wires the bot.
type Config struct {
	Token        string
	AdminIDs     []int64
	UserQueueCap int // mirror of the admission bound, for the pre-check reply
}

// Bot runs the Telegram long-poll loop.
type Bot struct {
	api *tgbotapi.BotAPI
	svc *retriever.Service
	db  *store.Store
	loc *locale.Catalog
	cfg Config
}

// New connects to the Bot API.
func New(cfg Config, svc *retriever.Service, db *store.Store, loc *locale.Catalog) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	slog.Info("bot authorized", slog.String("username", api.Self.UserName))
	return &Bot{api: api, svc: svc, db: db, loc: loc, cfg: cfg}, nil
}

// Run polls for updates until ctx is cancelled. Each update is handled
// on its own goroutine; concurrency is bounded downstream by admission
// control, not here.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.handle(ctx, update)
		}
	}
}

func (b *Bot) handle(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("update handler panic", slog.Any("panic", r))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil && update.Message.Text != "":
		b.handleLink(ctx, update.Message, retriever.KindUnknown)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	lang := b.ensureUser(ctx, msg).Lang
	switch msg.Command() {
	case "start":
		b.reply(msg, b.loc.Get(lang, "start"), nil)
	case "settings":
		b.reply(msg, b.loc.Get(lang, "settings"), settingsKeyboard())
	case "stats":
		if !b.isAdmin(msg.Chat.ID) {
			return
		}
		st, err := b.db.BotStats(ctx)
		if err != nil {
			slog.Error("stats query failed", slog.Any("error", err))
			return
		}
		b.reply(msg, b.loc.Getf(lang, "stats", st.Users, st.Downloads, st.Users24h, st.Downloads24h), nil)
	}
}

func (b *Bot) isAdmin(id int64) bool {
	return slices.Contains(b.cfg.AdminIDs, id)
}

// ensureUser loads the chat's profile, registering it on first contact.
func (b *Bot) ensureUser(ctx context.Context, msg *tgbotapi.Message) store.User {
	u, ok, err := b.db.GetUser(ctx, msg.Chat.ID)
	if err != nil {
		slog.Error("user lookup failed", slog.Any("error", err))
	}
	if ok {
		return u
	}
	lang := "en"
	if msg.From != nil {
		lang = locale.Pick(msg.From.LanguageCode)
	}
	ref := msg.CommandArguments()
	if err := b.db.CreateUser(ctx, msg.Chat.ID, lang, ref); err != nil {
		slog.Error("user registration failed", slog.Any("error", err))
	}
	return store.User{ID: msg.Chat.ID, Lang: lang, Ref: ref}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	m := tgbotapi.NewMessage(msg.Chat.ID, text)
	m.ParseMode = tgbotapi.ModeHTML
	m.ReplyToMessageID = msg.MessageID
	m.DisableWebPagePreview = true
	if markup != nil {
		m.ReplyMarkup = markup
	}
	if _, err := b.api.Send(m); err != nil {
		slog.Warn("reply failed", slog.Any("error", err))
	}
}

func settingsKeyboard() *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📄 File mode", "mode/toggle"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("English", "lang/en"),
			tgbotapi.NewInlineKeyboardButtonData("Русский", "lang/ru"),
		),
	)
	return &kb
}
