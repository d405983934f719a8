package prefs

import (
	"strings"

	"golang.org/x/text/language"
)

// SupportedLocale pairs a catalog language code with its provider region.
type SupportedLocale struct {
	Code   string
	Region string
	Name   string
}

// SupportedLocales is the set of locales the catalog is queried in. The
// first entry is the fallback.
var SupportedLocales = []SupportedLocale{
	{Code: "en-US", Region: "US", Name: "English (US)"},
	{Code: "en-GB", Region: "GB", Name: "English (UK)"},
	{Code: "es-ES", Region: "ES", Name: "Español (España)"},
	{Code: "es-MX", Region: "MX", Name: "Español (México)"},
	{Code: "fr-FR", Region: "FR", Name: "Français"},
	{Code: "de-DE", Region: "DE", Name: "Deutsch"},
	{Code: "it-IT", Region: "IT", Name: "Italiano"},
	{Code: "pt-BR", Region: "BR", Name: "Português (Brasil)"},
	{Code: "ja-JP", Region: "JP", Name: "日本語"},
	{Code: "ko-KR", Region: "KR", Name: "한국어"},
}

var localeMatcher language.Matcher

func init() {
	tags := make([]language.Tag, len(SupportedLocales))
	for i, l := range SupportedLocales {
		tags[i] = language.MustParse(l.Code)
	}
	localeMatcher = language.NewMatcher(tags)
}

// ResolveLocale maps a preferred BCP-47 tag (for example the host locale on
// first run) to the closest supported locale, falling back to the first
// entry when nothing matches.
func ResolveLocale(preferred string) SupportedLocale {
	preferred = strings.TrimSpace(preferred)
	if preferred == "" {
		return SupportedLocales[0]
	}
	tag, err := language.Parse(preferred)
	if err != nil {
		return SupportedLocales[0]
	}
	_, index, conf := localeMatcher.Match(tag)
	if conf == language.No {
		return SupportedLocales[0]
	}
	return SupportedLocales[index]
}

// LocaleByCode returns the supported locale with the exact code, if any.
func LocaleByCode(code string) (SupportedLocale, bool) {
	for _, l := range SupportedLocales {
		if strings.EqualFold(l.Code, code) {
			return l, true
		}
	}
	return SupportedLocale{}, false
}
