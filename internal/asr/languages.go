package asr

import (
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// languageNames maps Whisper language codes to their English names.
var languageNames = map[string]string{
	"en":  "english",
	"zh":  "chinese",
	"de":  "german",
	"es":  "spanish",
	"ru":  "russian",
	"ko":  "korean",
	"fr":  "french",
	"ja":  "japanese",
	"pt":  "portuguese",
	"tr":  "turkish",
	"pl":  "polish",
	"ca":  "catalan",
	"nl":  "dutch",
	"ar":  "arabic",
	"sv":  "swedish",
	"it":  "italian",
	"id":  "indonesian",
	"hi":  "hindi",
	"fi":  "finnish",
	"vi":  "vietnamese",
	"he":  "hebrew",
	"uk":  "ukrainian",
	"el":  "greek",
	"ms":  "malay",
	"cs":  "czech",
	"ro":  "romanian",
	"da":  "danish",
	"hu":  "hungarian",
	"ta":  "tamil",
	"no":  "norwegian",
	"th":  "thai",
	"ur":  "urdu",
	"hr":  "croatian",
	"bg":  "bulgarian",
	"lt":  "lithuanian",
	"la":  "latin",
	"mi":  "maori",
	"ml":  "malayalam",
	"cy":  "welsh",
	"sk":  "slovak",
	"te":  "telugu",
	"fa":  "persian",
	"lv":  "latvian",
	"bn":  "bengali",
	"sr":  "serbian",
	"az":  "azerbaijani",
	"sl":  "slovenian",
	"kn":  "kannada",
	"et":  "estonian",
	"mk":  "macedonian",
	"br":  "breton",
	"eu":  "basque",
	"is":  "icelandic",
	"hy":  "armenian",
	"ne":  "nepali",
	"mn":  "mongolian",
	"bs":  "bosnian",
	"kk":  "kazakh",
	"sq":  "albanian",
	"sw":  "swahili",
	"gl":  "galician",
	"mr":  "marathi",
	"pa":  "punjabi",
	"si":  "sinhala",
	"km":  "khmer",
	"sn":  "shona",
	"yo":  "yoruba",
	"so":  "somali",
	"af":  "afrikaans",
	"oc":  "occitan",
	"ka":  "georgian",
	"be":  "belarusian",
	"tg":  "tajik",
	"sd":  "sindhi",
	"gu":  "gujarati",
	"am":  "amharic",
	"yi":  "yiddish",
	"lo":  "lao",
	"uz":  "uzbek",
	"fo":  "faroese",
	"ht":  "haitian creole",
	"ps":  "pashto",
	"tk":  "turkmen",
	"nn":  "nynorsk",
	"mt":  "maltese",
	"sa":  "sanskrit",
	"lb":  "luxembourgish",
	"my":  "myanmar",
	"bo":  "tibetan",
	"tl":  "tagalog",
	"mg":  "malagasy",
	"as":  "assamese",
	"tt":  "tatar",
	"haw": "hawaiian",
	"ln":  "lingala",
	"ha":  "hausa",
	"ba":  "bashkir",
	"jw":  "javanese",
	"su":  "sundanese",
	"yue": "cantonese",
}

var languageCodes = func() map[string]string {
	m := make(map[string]string, len(languageNames))
	for code, name := range languageNames {
		m[name] = code
	}
	return m
}()

// Languages returns the supported language names sorted alphabetically.
func Languages() []string {
	names := make([]string, 0, len(languageNames))
	for _, name := range languageNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DisplayLanguages returns the language choices shown in the UI: automatic
// detection first, then every name title-cased ("Haitian Creole").
func DisplayLanguages() []string {
	caser := cases.Title(language.English)
	names := Languages()
	out := make([]string, 0, len(names)+1)
	out = append(out, AutoLanguage)
	for _, name := range names {
		out = append(out, caser.String(name))
	}
	return out
}
