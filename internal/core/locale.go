package core

// Strings holds the user-facing text the core itself produces.
type Strings struct {
	PlaceholderTitle string
	// ProcessingText is shown as the user message when a turn carries only a
	// hidden directive.
	ProcessingText string
	StreamError    string
	LectureText    string
}

var locales = map[string]Strings{
	"ar": {
		PlaceholderTitle: "جلسة جديدة",
		ProcessingText:   "جاري معالجة الجلسة الأكاديمية...",
		StreamError:      "خطأ في النظام: فشل المحرك الأكاديمي في المعالجة. حاول مرة أخرى.",
		LectureText:      "قمت برفع تسجيل حصة التيمز للتلخيص.",
	},
	"en": {
		PlaceholderTitle: "New Session",
		ProcessingText:   "Processing the academic session...",
		StreamError:      "System error: the academic engine failed to process this. Please try again.",
		LectureText:      "I uploaded the Teams lecture recording for a summary.",
	},
}

// StringsFor falls back to Arabic for unknown locales.
func StringsFor(locale string) Strings {
	if s, ok := locales[locale]; ok {
		return s
	}
	return locales["ar"]
}

// isPlaceholderTitle accepts every placeholder any locale ever wrote, so
// sessions saved under another locale still get renamed.
func isPlaceholderTitle(title string) bool {
	if title == "" {
		return true
	}
	for _, s := range locales {
		if title == s.PlaceholderTitle {
			return true
		}
	}
	return false
}
