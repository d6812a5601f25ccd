package speech

import "strings"

var locales = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"it": "it-IT",
	"pt": "pt-PT",
	"zh": "zh-CN",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"ar": "ar-SA",
}

// Locale maps a short language code to the recognizer locale. Full locales
// pass through; unknown codes fall back to en-US.
func Locale(code string) string {
	if l, ok := locales[strings.ToLower(code)]; ok {
		return l
	}
	if strings.Contains(code, "-") {
		return code
	}
	return "en-US"
}
