package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
	localeGerman  locale = "de"
)

type messages struct {
	connecting string
	recording  string
	processing string
	noSpeech   string
	errorText  string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "de") {
		return localeGerman
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeGerman:
		return messages{
			connecting: "Verbinde…",
			recording:  "Aufnahme…",
			processing: "Transkribiere…",
			noSpeech:   "Keine Sprache erkannt",
			errorText:  "Fehler bei der Spracherkennung",
		}
	default:
		return messages{
			connecting: "Connecting…",
			recording:  "Recording…",
			processing: "Transcribing…",
			noSpeech:   "No speech detected",
			errorText:  "Speech recognition error",
		}
	}
}
