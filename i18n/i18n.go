// Package i18n localizes doctrans's user-facing strings: progress labels,
// error messages shown to end users and CLI output.
//
// Catalogs are gettext .po files embedded in the binary. Until Init runs,
// every lookup returns its msgid unchanged, so library code can call T
// without caring whether the program localized itself.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/leonelquinteros/gotext"
)

//go:embed all:locales
var locales embed.FS

const domain = "doctrans"

var (
	mu   sync.RWMutex
	po   *gotext.Locale
	lang = "en"
)

// Init loads the catalog for lang. An empty lang is taken from
// DOCTRANS_LANG, then the gettext variables LANGUAGE, LC_ALL, LC_MESSAGES
// and LANG. Init may be called again to switch languages.
func Init(l string) {
	if l == "" {
		l = detectLanguage()
	}
	loc := gotext.NewLocaleFSWithPath(l, locales, "locales")
	loc.AddDomain(domain)
	loc.SetDomain(domain)

	mu.Lock()
	po, lang = loc, l
	mu.Unlock()
}

// Lang reports the language passed to (or detected by) the last Init.
func Lang() string {
	mu.RLock()
	defer mu.RUnlock()
	return lang
}

// Available lists the languages with an embedded catalog.
func Available() []string {
	entries, err := fs.ReadDir(locales, "locales")
	if err != nil {
		return nil
	}
	out := []string{"en"}
	for _, e := range entries {
		if e.IsDir() && e.Name() != "en" {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out[1:])
	return out
}

func locale() *gotext.Locale {
	mu.RLock()
	defer mu.RUnlock()
	return po
}

// T returns the translation of msgid, or msgid itself.
func T(msgid string) string {
	if l := locale(); l != nil {
		return l.Get(msgid)
	}
	return msgid
}

// Tf translates format and then applies args to it.
func Tf(format string, args ...any) string {
	return fmt.Sprintf(T(format), args...)
}

// N picks the plural form of msgid for n.
func N(singular, plural string, n int) string {
	if l := locale(); l != nil {
		return l.GetN(singular, plural, n)
	}
	if n == 1 {
		return singular
	}
	return plural
}

// Nf is N followed by formatting with n and args.
func Nf(singular, plural string, n int, args ...any) string {
	return fmt.Sprintf(N(singular, plural, n), append([]any{n}, args...)...)
}

func detectLanguage() string {
	if v := strings.TrimSpace(os.Getenv("DOCTRANS_LANG")); v != "" {
		return normalize(v)
	}
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		val := os.Getenv(env)
		if env == "LANGUAGE" {
			val, _, _ = strings.Cut(val, ":")
		}
		val = normalize(val)
		// C and POSIX mean no translation.
		if val == "" || val == "C" || val == "POSIX" {
			continue
		}
		return val
	}
	return "en"
}

// normalize turns "ja-JP.UTF-8@euro" into "ja_JP".
func normalize(v string) string {
	if i := strings.IndexAny(v, ".@"); i >= 0 {
		v = v[:i]
	}
	return strings.ReplaceAll(v, "-", "_")
}
