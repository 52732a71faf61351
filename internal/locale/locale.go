// Package locale holds the embedded message catalogs for the bot's
// user-facing replies. Lookup falls back to English for missing keys.
package locale

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"
)

//go:embed catalogs/*.json
var catalogFS embed.FS

const fallbackLang = "en"

// Catalog maps language → key → message.
type Catalog struct {
	messages map[string]map[string]string
}

// Load parses the embedded catalogs.
func Load() (*Catalog, error) {
	c := &Catalog{messages: make(map[string]map[string]string)}
	entries, err := fs.ReadDir(catalogFS, "catalogs")
	if err != nil {
		return nil, fmt.Errorf("read catalogs: %w", err)
	}
	for _, e := range entries {
		lang := strings.TrimSuffix(e.Name(), ".json")
		data, err := catalogFS.ReadFile("catalogs/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", e.Name(), err)
		}
		var msgs map[string]string
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", e.Name(), err)
		}
		c.messages[lang] = msgs
	}
	if _, ok := c.messages[fallbackLang]; !ok {
		return nil, fmt.Errorf("fallback catalog %q missing", fallbackLang)
	}
	return c, nil
}

// Get returns the message for lang/key, falling back to English and
// finally to the key itself so a missing entry stays visible.
func (c *Catalog) Get(lang, key string) string {
	if msgs, ok := c.messages[lang]; ok {
		if m, ok := msgs[key]; ok {
			return m
		}
	}
	if m, ok := c.messages[fallbackLang][key]; ok {
		return m
	}
	return key
}

// Getf formats a parameterized message.
func (c *Catalog) Getf(lang, key string, args ...any) string {
	return fmt.Sprintf(c.Get(lang, key), args...)
}

// Pick maps a Telegram language code onto a supported catalog language.
func Pick(code string) string {
	code = strings.ToLower(code)
	if i := strings.IndexByte(code, '-'); i > 0 {
		code = code[:i]
	}
	switch code {
	case "ru", "uk", "be", "kk":
		return "ru"
	default:
		return "en"
	}
}

// Languages lists the loaded catalog languages.
func (c *Catalog) Languages() []string {
	langs := make([]string, 0, len(c.messages))
	for l := range c.messages {
		langs = append(langs, l)
	}
	return langs
}
