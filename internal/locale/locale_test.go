package locale

import (
	"strings"
	"testing"
)

func TestLoadCatalogs(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	langs := c.Languages()
	if len(langs) < 2 {
		t.Fatalf("languages = %v, want at least en and ru", langs)
	}
}

func TestRussianMirrorsEnglishKeys(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	for key := range c.messages["en"] {
		if _, ok := c.messages["ru"][key]; !ok {
			t.Errorf("ru catalog missing key %q", key)
		}
	}
	for key := range c.messages["ru"] {
		if _, ok := c.messages["en"][key]; !ok {
			t.Errorf("en catalog missing key %q", key)
		}
	}
}

func TestGetFallsBack(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Get("de", "start"); got != c.Get("en", "start") {
		t.Errorf("unknown language did not fall back to English: %q", got)
	}
	if got := c.Get("en", "no_such_key"); got != "no_such_key" {
		t.Errorf("missing key not surfaced: %q", got)
	}
}

func TestGetf(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	got := c.Getf("en", "error_queue_full", 3)
	if strings.Contains(got, "%d") {
		t.Errorf("format verb not substituted: %q", got)
	}
	if !strings.Contains(got, "3") {
		t.Errorf("argument missing from message: %q", got)
	}
}

func TestPick(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"ru", "ru"},
		{"ru-RU", "ru"},
		{"uk", "ru"},
		{"be", "ru"},
		{"kk", "ru"},
		{"en", "en"},
		{"en-US", "en"},
		{"de", "en"},
		{"", "en"},
	}
	for _, tt := range tests {
		if got := Pick(tt.code); got != tt.want {
			t.Errorf("Pick(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
