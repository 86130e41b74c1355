package config

import (
	"fmt"
	"strings"

	"meet-transcription-pipeline/internal/models"
)

// acceptedLanguages is the set of base language codes the transcription
// pipeline supports. Regional variants ("en-US", "es-SV") are accepted
// when their base code is in the set.
var acceptedLanguages = map[string]struct{}{
	"af": {}, "am": {}, "ar": {}, "as": {}, "az": {}, "ba": {}, "be": {},
	"bg": {}, "bn": {}, "bo": {}, "br": {}, "bs": {}, "ca": {}, "cs": {},
	"cy": {}, "da": {}, "de": {}, "el": {}, "en": {}, "es": {}, "et": {},
	"eu": {}, "fa": {}, "fi": {}, "fo": {}, "fr": {}, "gl": {}, "gu": {},
	"ha": {}, "haw": {}, "he": {}, "hi": {}, "hr": {}, "ht": {}, "hu": {},
	"hy": {}, "id": {}, "is": {}, "it": {}, "ja": {}, "jw": {}, "ka": {},
	"kk": {}, "km": {}, "kn": {}, "ko": {}, "la": {}, "lb": {}, "ln": {},
	"lo": {}, "lt": {}, "lv": {}, "mg": {}, "mi": {}, "mk": {}, "ml": {},
	"mn": {}, "mr": {}, "ms": {}, "mt": {}, "my": {}, "ne": {}, "nl": {},
	"nn": {}, "no": {}, "oc": {}, "pa": {}, "pl": {}, "ps": {}, "pt": {},
	"ro": {}, "ru": {}, "sa": {}, "sd": {}, "si": {}, "sk": {}, "sl": {},
	"sn": {}, "so": {}, "sq": {}, "sr": {}, "su": {}, "sv": {}, "sw": {},
	"ta": {}, "te": {}, "tg": {}, "th": {}, "tk": {}, "tl": {}, "tr": {},
	"tt": {}, "uk": {}, "ur": {}, "uz": {}, "vi": {}, "yi": {}, "yo": {},
	"zh": {}, "yue": {},
}

// ValidateLanguage checks that a language code's base language is
// supported. Codes may carry a region suffix ("en-US").
func ValidateLanguage(code string) error {
	if code == "" {
		return fmt.Errorf("language code cannot be empty")
	}
	base := strings.ToLower(code)
	if i := strings.IndexAny(base, "-_"); i > 0 {
		base = base[:i]
	}
	if _, ok := acceptedLanguages[base]; !ok {
		return fmt.Errorf("unsupported language code %q", code)
	}
	return nil
}

// NormalizeTask maps a requested task onto the one the pipeline performs.
// "translate" is accepted and treated as a transcription request.
func NormalizeTask(task string) (models.Task, error) {
	switch strings.ToLower(strings.TrimSpace(task)) {
	case "transcribe", "translate":
		return models.TaskTranscribe, nil
	default:
		return "", fmt.Errorf("unsupported task %q", task)
	}
}
