package translate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// ErrUnsupportedLanguage is returned for codes with no model locale
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language describes one supported language
type Language struct {
	Code   models.LanguageCode `json:"code"`
	Name   string              `json:"name"`
	Locale string              `json:"locale"`
}

// mBART-50 locale tags
var languages = map[models.LanguageCode]Language{
	"en": {Code: "en", Name: "English", Locale: "en_XX"},
	"es": {Code: "es", Name: "Spanish", Locale: "es_XX"},
	"fr": {Code: "fr", Name: "French", Locale: "fr_XX"},
	"de": {Code: "de", Name: "German", Locale: "de_DE"},
	"ja": {Code: "ja", Name: "Japanese", Locale: "ja_XX"},
	"zh": {Code: "zh", Name: "Chinese", Locale: "zh_CN"},
	"hi": {Code: "hi", Name: "Hindi", Locale: "hi_IN"},
	"pt": {Code: "pt", Name: "Portuguese", Locale: "pt_PT"},
	"ko": {Code: "ko", Name: "Korean", Locale: "ko_KR"},
	"ta": {Code: "ta", Name: "Tamil", Locale: "ta_IN"},
	"uk": {Code: "uk", Name: "Ukrainian", Locale: "uk_UA"},
	"ru": {Code: "ru", Name: "Russian", Locale: "ru_RU"},
	"ar": {Code: "ar", Name: "Arabic", Locale: "ar_AR"},
	"vi": {Code: "vi", Name: "Vietnamese", Locale: "vi_VN"},
}

// Locale resolves a language code to the model locale tag. It never falls
// back to a default.
func Locale(code models.LanguageCode) (string, error) {
	lang, ok := languages[code.Normalize()]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, string(code))
	}
	return lang.Locale, nil
}

// Supported reports whether code can be translated from or to
func Supported(code models.LanguageCode) bool {
	_, ok := languages[code.Normalize()]
	return ok
}

// Languages returns every supported language ordered by code
func Languages() []Language {
	out := make([]Language, 0, len(languages))
	for _, l := range languages {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
