package posting

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-shiori/go-readability"
)

var (
	// (?s) allows dot to match newlines
	// (?i) makes it case-insensitive
	reScript = regexp.MustCompile(`(?si)<script\b[^>]*>.*?</script>`)
	reStyle  = regexp.MustCompile(`(?si)<style\b[^>]*>.*?</style>`)
	reTag    = regexp.MustCompile(`(?s)<[^>]+>`)
	reMarkup = regexp.MustCompile(`(?i)</?(p|div|br|li|ul|ol|span|strong|b|h[1-6])\b`)

	// Descriptions have no page of their own. Relative links resolve here.
	baseURL = &url.URL{Scheme: "https", Host: "postings.invalid", Path: "/"}
)

// stripNoise removes script and style blocks, whose text readability would
// otherwise keep when the description is a fragment rather than a page.
func stripNoise(content []byte) []byte {
	cleaned := reScript.ReplaceAll(content, []byte{})
	cleaned = reStyle.ReplaceAll(cleaned, []byte{})
	return cleaned
}

// PlainText returns the readable text of a description. Portals deliver
// descriptions either as plain text or as HTML fragments.
func PlainText(description string) string {
	if !reMarkup.MatchString(description) {
		return collapse(description)
	}
	body := stripNoise([]byte(description))

	stripped := collapse(reTag.ReplaceAllString(string(body), " "))
	article, err := readability.FromReader(bytes.NewReader(body), baseURL)
	if err != nil {
		return stripped
	}
	// Readability prunes blocks it scores as boilerplate. Short fragments
	// such as bullet lists of tasks are often pruned whole.
	text := collapse(article.TextContent)
	if len(text)*2 < len(stripped) {
		return stripped
	}
	return text
}

// Excerpt returns at most n runes of text, cut at a word boundary.
func Excerpt(text string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
