package bot

import (
	"strings"
	"testing"

	"github.com/ttgrab/ttgrab/internal/locale"
	"github.com/ttgrab/ttgrab/internal/retriever"
)

func testBot(t *testing.T) *Bot {
	t.Helper()
	loc, err := locale.Load()
	if err != nil {
		t.Fatal(err)
	}
	return &Bot{loc: loc, cfg: Config{UserQueueCap: 3}}
}

func TestFailureText(t *testing.T) {
	b := testBot(t)
	tests := []struct {
		name string
		out  retriever.Outcome
		want string // the locale key's English text must match
	}{
		{
			"queue full",
			retriever.Outcome{Status: retriever.StatusFailed, Stage: retriever.StageAdmit, Kind: retriever.ErrResourceTimeout},
			b.loc.Getf("en", "error_queue_full", 3),
		},
		{
			"content gone",
			retriever.Outcome{Status: retriever.StatusFailed, Stage: retriever.StageProbe, Kind: retriever.ErrContentUnavailable},
			b.loc.Get("en", "error_unavailable"),
		},
		{
			"bad link",
			retriever.Outcome{Status: retriever.StatusFailed, Stage: retriever.StageResolve, Kind: retriever.ErrURLUnsupported},
			b.loc.Get("en", "link_error"),
		},
		{
			"unsupported kind",
			retriever.Outcome{Status: retriever.StatusFailed, Stage: retriever.StageProbe, Kind: retriever.ErrUnsupportedKind},
			b.loc.Get("en", "error_unsupported_kind"),
		},
		{
			"blocked",
			retriever.Outcome{Status: retriever.StatusFailed, Stage: retriever.StageDownload, Kind: retriever.ErrBlocked},
			b.loc.Get("en", "error_blocked"),
		},
		{
			"pool exhausted",
			retriever.Outcome{Status: retriever.StatusFailed, Stage: retriever.StageResolve, Kind: retriever.ErrPoolExhausted},
			b.loc.Get("en", "error_blocked"),
		},
		{
			"network",
			retriever.Outcome{Status: retriever.StatusFailed, Stage: retriever.StageResolve, Kind: retriever.ErrNetwork},
			b.loc.Get("en", "error_network"),
		},
		{
			"internal",
			retriever.Outcome{Status: retriever.StatusFailed, Stage: retriever.StageProbe, Kind: retriever.ErrInternal},
			b.loc.Get("en", "error"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.failureText("en", tt.out); got != tt.want {
				t.Errorf("failureText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFailureKeyboardOnlyForTransientErrors(t *testing.T) {
	b := testBot(t)
	permanent := retriever.Outcome{Kind: retriever.ErrContentUnavailable}
	if kb := failureKeyboard(b.loc, "en", permanent); kb != nil {
		t.Error("retry offered for a permanent failure")
	}
	transient := retriever.Outcome{Kind: retriever.ErrNetwork}
	if kb := failureKeyboard(b.loc, "en", transient); kb == nil {
		t.Error("no retry offered for a transient failure")
	}
}

func TestResultKeyboardSoundButton(t *testing.T) {
	b := testBot(t)
	video := retriever.Outcome{
		Payload: &retriever.Payload{Kind: retriever.KindVideo},
		Meta:    &retriever.Metadata{ID: "7345"},
	}
	kb := resultKeyboard(b.loc, "en", "https://vm.tiktok.com/x", video)
	if len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("video keyboard rows = %v", kb.InlineKeyboard)
	}
	if *kb.InlineKeyboard[0][1].CallbackData != "sound/7345" {
		t.Errorf("sound callback = %q", *kb.InlineKeyboard[0][1].CallbackData)
	}

	music := retriever.Outcome{
		Payload: &retriever.Payload{Kind: retriever.KindMusic},
		Meta:    &retriever.Metadata{ID: "991"},
	}
	kb = resultKeyboard(b.loc, "en", "https://vm.tiktok.com/x", music)
	if len(kb.InlineKeyboard[0]) != 1 {
		t.Error("non-video payload got a sound button")
	}
}

func TestResultCaption(t *testing.T) {
	if got := resultCaption(nil); got != "" {
		t.Errorf("nil meta caption = %q", got)
	}
	got := resultCaption(&retriever.Metadata{Title: "a clip", Author: "someone"})
	if got != "a clip\n@someone" {
		t.Errorf("caption = %q", got)
	}
	long := resultCaption(&retriever.Metadata{Title: strings.Repeat("x", 2000)})
	if len([]rune(long)) > 1024 {
		t.Errorf("caption not truncated: %d runes", len([]rune(long)))
	}
}
