package i18n

import "strings"

var languageNames = map[string]string{
	"de": "German",
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"ru": "Russian",
	"uk": "Ukrainian",
}

// GetLanguageName renders a human readable name for a language tag,
// falling back to the tag itself.
func GetLanguageName(code string) string {
	normalized := strings.ToLower(code)
	if name, ok := languageNames[normalized]; ok {
		return name
	}
	return code
}
