package script

import (
	"regexp"
	"strings"
)

var (
	headingMarker = regexp.MustCompile(`#+\s`)
	emphasis      = strings.NewReplacer("*", "", "_", "")
	newlines      = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
)

// CleanForSpeech strips Markdown so a drafted script reads naturally: heading
// markers and emphasis characters are removed and line breaks become spaces.
func CleanForSpeech(text string) string {
	text = headingMarker.ReplaceAllString(text, "")
	text = emphasis.Replace(text)
	text = newlines.Replace(text)
	return strings.TrimSpace(text)
}

// SpeechPrompt wraps cleaned text in the read-aloud instruction sent to the
// speech model.
func SpeechPrompt(text string) string {
	return `Waosaken teks menika kanthi intonasi ingkang sae: "` + CleanForSpeech(text) + `"`
}
