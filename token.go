package stratum

import "golang.org/x/text/unicode/norm"

// bytesPerToken is the byte-to-token heuristic used across the pipeline.
// Roughly 4 bytes per token holds for English prose on current models.
const bytesPerToken = 4

// EstimateTokens returns an approximate token count for text. The text is
// NFC-normalized first so visually identical strings (composed vs decomposed
// accents) count the same regardless of which adapter produced them.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(norm.NFC.String(text))
	tokens := n / bytesPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
