package translator

import (
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/text/unicode/norm"
)

// SupportedLanguages are the target languages the plugin offers, in menu
// order.
var SupportedLanguages = []string{"ko", "en", "ja", "zh", "es", "fr", "de"}

// DetectLanguage guesses the language of text from its script. Hangul maps
// to ko, any kana to ja, remaining Han ideographs to zh and everything else
// to en. Kana wins over Han since Japanese mixes both.
func DetectLanguage(text string) string {
	var hasKana, hasHan bool
	for _, r := range norm.NFC.String(text) {
		switch {
		case unicode.Is(unicode.Hangul, r):
			return "ko"
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			hasKana = true
		case unicode.Is(unicode.Han, r):
			hasHan = true
		}
	}
	switch {
	case hasKana:
		return "ja"
	case hasHan:
		return "zh"
	}
	return "en"
}

// LanguageName returns the native display name for a language code, or the
// code itself when it does not parse.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.Self.Name(tag); name != "" {
		return name
	}
	return code
}

// Language is a selectable target language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func Languages() []Language {
	out := make([]Language, len(SupportedLanguages))
	for i, code := range SupportedLanguages {
		out[i] = Language{Code: code, Name: LanguageName(code)}
	}
	return out
}
