// Package langmeta holds the language rules shared by the job pipeline and
// the CLI: provider target normalization, output file suffixes, the
// opposite-language hint used on retry, and display metadata.
package langmeta

import (
	"path/filepath"
	"strings"
)

// Meta describes language display metadata.
type Meta struct {
	Name string
	Flag string
}

// Registry contains display metadata for the provider language codes the
// tool accepts or reports.
var Registry = map[string]Meta{
	"JA":    {Name: "日本語", Flag: "🇯🇵"},
	"EN":    {Name: "English", Flag: "🇺🇸"},
	"EN-US": {Name: "English (US)", Flag: "🇺🇸"},
	"EN-GB": {Name: "English (UK)", Flag: "🇬🇧"},
	"DE":    {Name: "Deutsch", Flag: "🇩🇪"},
	"FR":    {Name: "Français", Flag: "🇫🇷"},
	"ES":    {Name: "Español", Flag: "🇪🇸"},
	"ZH":    {Name: "中文", Flag: "🇨🇳"},
	"KO":    {Name: "한국어", Flag: "🇰🇷"},
}

// Targets are the target codes a job may request.
var Targets = []string{"JA", "EN-US", "EN-GB"}

// DefaultTarget is used when the requested target is not recognized.
const DefaultTarget = "JA"

func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	return strings.ToUpper(normalized)
}

// NormalizeTarget maps a user-supplied language to a provider target code.
// Bare EN becomes EN-US and anything unrecognized falls back to JA.
func NormalizeTarget(lang string) string {
	code := canonicalize(lang)
	switch code {
	case "EN":
		return "EN-US"
	case "JP", "JA-JP":
		return "JA"
	}
	for _, t := range Targets {
		if t == code {
			return t
		}
	}
	return DefaultTarget
}

// Primary returns the primary subtag of a language code in lowercase.
func Primary(lang string) string {
	code := strings.ToLower(canonicalize(lang))
	if i := strings.IndexByte(code, '-'); i >= 0 {
		code = code[:i]
	}
	return code
}

// Suffix returns the output file suffix for a target: "jp" for Japanese
// and "en" for everything else.
func Suffix(target string) string {
	if Primary(target) == "ja" {
		return "jp"
	}
	return "en"
}

// KnownSuffixes lists every suffix Suffix can return.
var KnownSuffixes = []string{"jp", "en"}

// LogicalName returns the document name shared by an upload and its
// translations: the base name without extension and without a trailing
// _jp/_en suffix.
func LogicalName(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	lower := strings.ToLower(base)
	for _, s := range KnownSuffixes {
		if strings.HasSuffix(lower, "_"+s) {
			return base[:len(base)-len(s)-1]
		}
	}
	return base
}

// OppositeSource returns the explicit source language hint used when the
// provider rejects a job because it detected the target as the source.
func OppositeSource(target string) string {
	if Primary(target) == "ja" {
		return "EN"
	}
	return "JA"
}

// Resolve returns best-effort display metadata for a language code.
func Resolve(lang string) Meta {
	code := canonicalize(lang)
	if m, ok := Registry[code]; ok {
		return m
	}
	if p := strings.ToUpper(Primary(code)); p != "" {
		if m, ok := Registry[p]; ok {
			return m
		}
	}
	return Meta{Name: lang}
}
