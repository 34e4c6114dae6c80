package knowledge

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/mohammad-safakhou/ragpipe/internal/helpers"
)

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// makeChunks splits text into windows of approx runes that overlap by
// overlap runes.
func makeChunks(text string, approx, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if overlap >= approx {
		overlap = 0
	}
	runes := []rune(text)
	if len(runes) <= approx {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + approx
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}

// cleanDoc strips markup from every text field of doc.
func cleanDoc(doc DocInput) DocInput {
	doc.Title = helpers.PlainText(doc.Title)
	doc.Text = helpers.PlainText(doc.Text)
	doc.URL = strings.TrimSpace(doc.URL)
	if canonical, err := helpers.CanonicalURL(doc.URL); err == nil && doc.URL != "" {
		doc.URL = canonical
	}
	return doc
}
