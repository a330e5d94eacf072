package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Model identifiers seen in deployments of the service.
const (
	YourTTS = "tts_models/multilingual/multi-dataset/your_tts"
	XTTSv2  = "tts_models/multilingual/multi-dataset/xtts_v2"
)

// catalog lists the language codes each known model accepts. The two families
// use different spellings for the same language ("fr-fr" vs "fr").
var catalog = map[string][]string{
	YourTTS: {"en", "fr-fr", "pt-br"},
	XTTSv2: {
		"en", "es", "fr", "de", "it", "pt", "pl", "tr", "ru",
		"nl", "cs", "ar", "zh-cn", "hu", "ko", "ja", "hi",
	},
}

// ModelSpec identifies the engine instance to load.
type ModelSpec struct {
	Model    string
	Language string
}

func (s ModelSpec) String() string {
	return fmt.Sprintf("%s (%s)", s.Model, s.Language)
}

// KnownLanguages returns the languages of a catalogued model and whether the
// model is catalogued at all.
func KnownLanguages(model string) ([]string, bool) {
	langs, ok := catalog[model]
	if !ok {
		return nil, false
	}
	out := make([]string, len(langs))
	copy(out, langs)
	sort.Strings(out)
	return out, true
}

// CheckLanguage reports an error when model is catalogued and does not serve
// language. Uncatalogued models pass; their languages are checked at load.
func CheckLanguage(model, language string) error {
	langs, ok := KnownLanguages(model)
	if !ok {
		return nil
	}
	if containsLanguage(langs, language) {
		return nil
	}
	return fmt.Errorf("language %q is not supported by model %s (supported: %s)",
		language, model, strings.Join(langs, ", "))
}

func containsLanguage(langs []string, language string) bool {
	for _, l := range langs {
		if strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}

// SupportsLanguage reports whether language appears in langs, ignoring case.
func SupportsLanguage(langs []string, language string) bool {
	return containsLanguage(langs, language)
}
