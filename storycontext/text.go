package storycontext

import (
	"regexp"
	"unicode/utf8"
)

// MaxTextChars is the ceiling for raw scene or beat text, in characters.
const MaxTextChars = 100_000

// ImagePlaceholder replaces inline image payloads.
const ImagePlaceholder = "[image]"

var (
	htmlImage     = regexp.MustCompile(`(?is)<img\b[^>]*\bsrc\s*=\s*["']?data:[^>]*>`)
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(\s*data:[^)]*\)`)
	dataURI       = regexp.MustCompile(`data:[a-zA-Z0-9.+-]+/[a-zA-Z0-9.+-]+(?:;[a-zA-Z0-9=.+-]+)*;base64,[A-Za-z0-9+/=]+`)
)

// Sanitize replaces inline image payloads (HTML img tags and markdown images
// with data URIs, and bare base64 data URIs) with ImagePlaceholder.
func Sanitize(text string) string {
	text = htmlImage.ReplaceAllString(text, ImagePlaceholder)
	text = markdownImage.ReplaceAllString(text, ImagePlaceholder)
	return dataURI.ReplaceAllString(text, ImagePlaceholder)
}

// TruncateText cuts text to at most limit characters and reports whether
// anything was removed. A limit <= 0 disables truncation.
func TruncateText(text string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i], true
		}
		n++
	}
	return text, false
}

// EstimateTokens approximates the token count of text as one token per four
// characters, rounded up.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
