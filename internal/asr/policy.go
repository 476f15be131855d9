package asr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedLanguage is returned for languages the models do not know.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// translatableModels are the Whisper variants whose checkpoints were trained
// for the translate task.
var translatableModels = map[string]bool{
	"large":    true,
	"large-v1": true,
	"large-v2": true,
	"large-v3": true,
}

// IsTranslatable reports whether model can translate speech into English.
func IsTranslatable(model string) bool {
	return translatableModels[model]
}

// ResolveTask returns the task actually run for model. A translate request
// on a model outside the translatable set is downgraded to transcription;
// the second result reports whether that happened.
func ResolveTask(model string, translate bool) (Task, bool) {
	if !translate {
		return TaskTranscribe, false
	}
	if !IsTranslatable(model) {
		return TaskTranscribe, true
	}
	return TaskTranslate, false
}

// AutoLanguage is the display value for language detection.
const AutoLanguage = "Automatic Detection"

// NormalizeLanguage maps a language name or code to a Whisper language code.
// "auto", the empty string and AutoLanguage map to "" (detect).
func NormalizeLanguage(lang string) (string, error) {
	lang = strings.TrimSpace(lang)
	switch strings.ToLower(lang) {
	case "", "auto", strings.ToLower(AutoLanguage):
		return "", nil
	}

	lower := strings.ToLower(lang)
	if _, ok := languageNames[lower]; ok {
		return lower, nil
	}
	if code, ok := languageCodes[lower]; ok {
		return code, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
}

// LanguageName returns the English name for a Whisper code.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}
