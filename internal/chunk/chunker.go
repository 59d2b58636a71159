package chunk

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Document is one normalized reference entry ready for splitting.
type Document struct {
	ID        string
	Title     string
	Body      string
	SourceTag string
	URL       string
}

// Chunk is a bounded segment of a document body sized for embedding.
// Concatenating the chunks of a parent in OrderIndex order, after removing
// the overlap prefix from each non-first chunk, reproduces the body exactly.
type Chunk struct {
	Content         string
	ParentID        string
	OrderIndex      int
	TokenCount      int
	OverlapPrevious bool
	OverlapNext     bool
}

var (
	ErrEmptyDocument = errors.New("chunk: document body is empty")
	ErrInvalidBudget = errors.New("chunk: maxTokens must exceed overlapTokens and both must be positive")
)

// charsPerToken approximates the character-to-token ratio of common
// embedding tokenizers.
const charsPerToken = 4

func EstimateTokens(text string) int {
	n := len(text) / charsPerToken
	if n < 1 {
		return 1
	}
	return n
}

func charsForTokens(tokens int) int {
	return tokens * charsPerToken
}

// Prioritized separators for recursive splitting. The empty string is the
// character-level fallback that guarantees termination.
var separators = []string{
	"\n\n\n",
	"\n\n",
	"\n",
	". ",
	"! ",
	"? ",
	"; ",
	", ",
	" ",
	"",
}

// Split cuts a document body into chunks of at most maxTokens, then prefixes
// every chunk after the first with the trailing ~overlapTokens of its
// predecessor so no boundary is silently lost. Output is deterministic for
// identical input and parameters.
func Split(doc Document, maxTokens, overlapTokens int) ([]Chunk, error) {
	if strings.TrimSpace(doc.Body) == "" {
		return nil, ErrEmptyDocument
	}
	if overlapTokens <= 0 || maxTokens <= overlapTokens {
		return nil, ErrInvalidBudget
	}

	pieces := recursiveSplit(doc.Body, 0, maxTokens)

	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		content := piece
		overlapped := false
		if i > 0 {
			if prefix := OverlapPrefix(pieces[i-1], overlapTokens); prefix != "" {
				content = prefix + content
				overlapped = true
			}
		}
		chunks = append(chunks, Chunk{
			Content:         content,
			ParentID:        doc.ID,
			OrderIndex:      i,
			TokenCount:      EstimateTokens(content),
			OverlapPrevious: overlapped,
		})
		if overlapped {
			chunks[i-1].OverlapNext = true
		}
	}
	return chunks, nil
}

// OverlapPrefix returns the trailing ~overlapTokens of prev, advanced to the
// first word boundary inside the window. The window start is nudged forward
// to a rune boundary so the prefix is always valid UTF-8. Returns "" when
// prev fits entirely within the overlap window (prefixing it would just
// duplicate the chunk).
func OverlapPrefix(prev string, overlapTokens int) string {
	window := charsForTokens(overlapTokens)
	if window <= 0 || len(prev) <= window {
		return ""
	}
	start := len(prev) - window
	for start < len(prev) && !utf8.RuneStart(prev[start]) {
		start++
	}
	prefix := prev[start:]
	if i := strings.IndexByte(prefix, ' '); i >= 0 {
		prefix = prefix[i+1:]
	}
	return prefix
}

// recursiveSplit splits text on the highest-priority separator present,
// greedily merging adjacent parts up to the token budget. Separators stay
// attached to the preceding part so the pieces concatenate back to text.
func recursiveSplit(text string, sepIndex, maxTokens int) []string {
	if EstimateTokens(text) <= maxTokens {
		return []string{text}
	}
	if sepIndex >= len(separators) || separators[sepIndex] == "" {
		return characterSplit(text, maxTokens)
	}

	sep := separators[sepIndex]
	if !strings.Contains(text, sep) {
		return recursiveSplit(text, sepIndex+1, maxTokens)
	}

	parts := strings.SplitAfter(text, sep)
	var pieces []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
		}
	}

	for _, part := range parts {
		if part == "" {
			continue
		}
		if EstimateTokens(current.String()+part) <= maxTokens {
			current.WriteString(part)
			continue
		}
		flush()
		if EstimateTokens(part) > maxTokens {
			pieces = append(pieces, recursiveSplit(part, sepIndex+1, maxTokens)...)
			continue
		}
		current.WriteString(part)
	}
	flush()

	return pieces
}

// characterSplit is the last-resort split; it bounds every piece by the
// budget even when no separator exists at all. Cuts back up to the nearest
// rune boundary so no piece carries invalid UTF-8.
func characterSplit(text string, maxTokens int) []string {
	maxChars := charsForTokens(maxTokens)
	var pieces []string
	for len(text) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxChars
		}
		pieces = append(pieces, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		pieces = append(pieces, text)
	}
	return pieces
}
