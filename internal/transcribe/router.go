package transcribe

import (
	"sort"
	"strings"
)

// DefaultLanguage is assumed when a call declares no language.
const DefaultLanguage = "ka"

// primaryLanguages is the static set the primary Whisper provider transcribes natively.
var primaryLanguages = []string{
	"af", "ar", "hy", "az", "be", "bs", "bg", "ca", "zh", "hr", "cs", "da",
	"nl", "en", "et", "fi", "fr", "gl", "de", "el", "he", "hi", "hu", "id",
	"it", "ja", "kn", "kk", "ko", "lv", "lt", "mk", "ms", "mr", "mi", "ne",
	"no", "fa", "pl", "pt", "ro", "ru", "sk", "sl", "es", "sw", "sv", "tl",
	"ta", "th", "tr", "uk", "ur", "vi", "cy",
	// not offered by the OpenAI Whisper API
	"ka", "mn", "si", "am",
}

// DefaultSupportedLanguages returns a sorted copy of the primary provider's languages.
func DefaultSupportedLanguages() []string {
	out := append([]string(nil), primaryLanguages...)
	sort.Strings(out)
	return out
}

// Router picks a provider from the declared language alone.
type Router struct {
	primary   Provider
	fallback  Provider
	supported map[string]struct{}
}

// NewRouter builds a router. A nil supported list selects the default set.
func NewRouter(primary, fallback Provider, supported []string) *Router {
	if supported == nil {
		supported = primaryLanguages
	}
	set := make(map[string]struct{}, len(supported))
	for _, lang := range supported {
		set[NormalizeLanguage(lang)] = struct{}{}
	}
	return &Router{primary: primary, fallback: fallback, supported: set}
}

// Supports reports whether the primary provider handles lang.
func (r *Router) Supports(lang string) bool {
	_, ok := r.supported[NormalizeLanguage(lang)]
	return ok
}

// Select returns the provider for lang and whether it is the fallback.
func (r *Router) Select(lang string) (Provider, bool) {
	if r.Supports(lang) {
		return r.primary, false
	}
	return r.fallback, true
}

// NormalizeLanguage lowercases and trims a language code, applying the default.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return DefaultLanguage
	}
	return lang
}
