package translate

import (
	"fmt"
	"sort"
	"strings"
)

// AutoDetect is the source-language choice that lets the provider detect it.
const AutoDetect = "Automatic Detection"

var deeplSource = map[string]string{
	"Arabic":     "AR",
	"Bulgarian":  "BG",
	"Czech":      "CS",
	"Danish":     "DA",
	"German":     "DE",
	"Greek":      "EL",
	"English":    "EN",
	"Spanish":    "ES",
	"Estonian":   "ET",
	"Finnish":    "FI",
	"French":     "FR",
	"Hungarian":  "HU",
	"Indonesian": "ID",
	"Italian":    "IT",
	"Japanese":   "JA",
	"Korean":     "KO",
	"Lithuanian": "LT",
	"Latvian":    "LV",
	"Norwegian":  "NB",
	"Dutch":      "NL",
	"Polish":     "PL",
	"Portuguese": "PT",
	"Romanian":   "RO",
	"Russian":    "RU",
	"Slovak":     "SK",
	"Slovenian":  "SL",
	"Swedish":    "SV",
	"Turkish":    "TR",
	"Ukrainian":  "UK",
	"Chinese":    "ZH",
}

// DeepL rejects the bare EN and PT targets, so plain names map to a variant.
var deeplTarget = map[string]string{
	"Arabic":                 "AR",
	"Bulgarian":              "BG",
	"Czech":                  "CS",
	"Danish":                 "DA",
	"German":                 "DE",
	"Greek":                  "EL",
	"English":                "EN-US",
	"English (British)":      "EN-GB",
	"English (American)":     "EN-US",
	"Spanish":                "ES",
	"Estonian":               "ET",
	"Finnish":                "FI",
	"French":                 "FR",
	"Hungarian":              "HU",
	"Indonesian":             "ID",
	"Italian":                "IT",
	"Japanese":               "JA",
	"Korean":                 "KO",
	"Lithuanian":             "LT",
	"Latvian":                "LV",
	"Norwegian":              "NB",
	"Dutch":                  "NL",
	"Polish":                 "PL",
	"Portuguese":             "PT-PT",
	"Portuguese (Brazilian)": "PT-BR",
	"Romanian":               "RO",
	"Russian":                "RU",
	"Slovak":                 "SK",
	"Slovenian":              "SL",
	"Swedish":                "SV",
	"Turkish":                "TR",
	"Ukrainian":              "UK",
	"Chinese (simplified)":   "ZH-HANS",
	"Chinese (traditional)":  "ZH-HANT",
}

// DeepLSourceCode resolves a display name or code. AutoDetect and the empty
// string resolve to "".
func DeepLSourceCode(lang string) (string, error) {
	lang = strings.TrimSpace(lang)
	if lang == "" || strings.EqualFold(lang, AutoDetect) || strings.EqualFold(lang, "auto") {
		return "", nil
	}
	return lookup(deeplSource, lang, "source")
}

// DeepLTargetCode resolves a display name or code for the target language.
func DeepLTargetCode(lang string) (string, error) {
	if strings.TrimSpace(lang) == "" {
		return "", fmt.Errorf("target language is required")
	}
	return lookup(deeplTarget, strings.TrimSpace(lang), "target")
}

func lookup(table map[string]string, lang, role string) (string, error) {
	for name, code := range table {
		if strings.EqualFold(name, lang) {
			return code, nil
		}
	}
	upper := strings.ToUpper(lang)
	for _, code := range table {
		if code == upper {
			return code, nil
		}
	}
	return "", fmt.Errorf("unsupported %s language for deepl: %q", role, lang)
}

// DeepLSourceLanguages lists source choices, AutoDetect first.
func DeepLSourceLanguages() []string {
	return append([]string{AutoDetect}, sortedKeys(deeplSource)...)
}

// DeepLTargetLanguages lists target choices.
func DeepLTargetLanguages() []string {
	return sortedKeys(deeplTarget)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
