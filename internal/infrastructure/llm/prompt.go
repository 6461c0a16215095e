package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
)

// maxExcerpt bounds how much document text goes to the external
// service.
const maxExcerpt = 4000

func buildFallbackPrompt(req domain.FallbackRequest) string {
	excerpt := truncateExcerpt(req.Excerpt)

	var sb strings.Builder
	sb.WriteString("You are a document classifier.\n")
	sb.WriteString("Pick exactly one category from this list: ")
	sb.WriteString(strings.Join(req.ValidCategories, ", "))
	sb.WriteString(".\n")
	sb.WriteString("Return a strict JSON object with keys: category (string), confidence (number from 0 to 1).\n")
	sb.WriteString("No markdown, no extra keys.\n")
	if req.EscalationReason != "" {
		fmt.Fprintf(&sb, "\nKeyword pre-screening was inconclusive: %s\n", req.EscalationReason)
	}
	sb.WriteString("\nDocument:\n")
	sb.WriteString(excerpt)
	return sb.String()
}

// truncateExcerpt cuts at a rune boundary so the prompt never carries a
// split multi-byte character.
func truncateExcerpt(excerpt string) string {
	if len(excerpt) <= maxExcerpt {
		return excerpt
	}
	cut := maxExcerpt
	for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
		cut--
	}
	return excerpt[:cut]
}
