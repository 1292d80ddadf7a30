package mail

import (
	"regexp"
	"strings"
)

const previewLength = 200

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// NormalizeMessageID trims surrounding whitespace from a Message-ID token.
// The angle brackets are kept: the same form must be stored and looked up.
func NormalizeMessageID(messageID string) string {
	return strings.TrimSpace(messageID)
}

// ParseReferences splits a References header into its message-id tokens.
// The header lists them oldest first.
func ParseReferences(references string) []string {
	if references == "" {
		return nil
	}

	var tokens []string
	for _, token := range strings.Fields(references) {
		token = strings.TrimSpace(token)
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// StripHTMLTags removes markup and decodes the common entities, for bodies
// where only an HTML part was available.
func StripHTMLTags(html string) string {
	if html == "" {
		return ""
	}

	clean := htmlTagPattern.ReplaceAllString(html, "")
	replacer := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return strings.TrimSpace(replacer.Replace(clean))
}

// SafePreview returns a bounded plain-text preview of a message body.
func SafePreview(content string) string {
	preview := StripHTMLTags(content)
	if len(preview) > previewLength {
		preview = preview[:previewLength] + "..."
	}
	return preview
}
