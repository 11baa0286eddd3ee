package rag

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/weftlabs/weft/pkg/config"
)

// Chunker splits preprocessed text into embeddable pieces. Chunking is
// deterministic: the same text always yields the same chunks, which keeps
// re-ingestion idempotent.
type Chunker interface {
	Chunk(text string) []string
}

// NewChunker returns the chunker selected by cfg.ChunkStrategy.
func NewChunker(cfg *config.RAGConfig) Chunker {
	switch cfg.ChunkStrategy {
	case "fixed":
		return NewFixedChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	default:
		return NewSentenceChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	}
}

// EstimateTokens approximates token count from text length. Four chars
// per token is close enough for budgeting across common tokenizers.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// FixedChunker cuts text into fixed-size windows with overlap, measured
// in runes so multi-byte text never splits mid-character.
type FixedChunker struct {
	size    int
	overlap int
}

// NewFixedChunker clamps overlap below size.
func NewFixedChunker(size, overlap int) *FixedChunker {
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 6
	}
	return &FixedChunker{size: size, overlap: overlap}
}

// Chunk slides a window of size runes, stepping size-overlap each time.
func (c *FixedChunker) Chunk(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []string{string(runes)}
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := min(start+c.size, len(runes))
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// SentenceChunker splits hierarchically: paragraphs first, oversized
// paragraphs on sentence boundaries, oversized sentences on words. Pieces
// are then packed into chunks up to maxChars with a sentence-aligned
// overlap carried between consecutive chunks.
type SentenceChunker struct {
	maxChars     int
	overlapChars int
}

// NewSentenceChunker builds a sentence-aware chunker. Sizes are in chars.
func NewSentenceChunker(maxChars, overlap int) *SentenceChunker {
	if maxChars <= 0 {
		maxChars = 1200
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = maxChars / 6
	}
	return &SentenceChunker{maxChars: maxChars, overlapChars: overlap}
}

// Chunk splits then packs. Empty input yields nil.
func (c *SentenceChunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.maxChars {
		return []string{text}
	}
	return c.pack(c.split(text))
}

// split breaks text into pieces no larger than maxChars, preferring
// paragraph boundaries, then sentences, then words.
func (c *SentenceChunker) split(text string) []string {
	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= c.maxChars {
			pieces = append(pieces, para)
			continue
		}
		for _, sent := range splitSentences(para) {
			if len(sent) <= c.maxChars {
				pieces = append(pieces, sent)
				continue
			}
			pieces = append(pieces, splitWords(sent, c.maxChars)...)
		}
	}
	return pieces
}

// pack greedily fills chunks up to maxChars and seeds each new chunk
// with the tail of the previous one for context continuity.
func (c *SentenceChunker) pack(pieces []string) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		chunk := strings.TrimSpace(cur.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		cur.Reset()
	}

	for _, piece := range pieces {
		if cur.Len() > 0 && cur.Len()+len(piece)+1 > c.maxChars {
			prev := cur.String()
			flush()
			if tail := overlapTail(prev, c.overlapChars); tail != "" {
				cur.WriteString(tail)
			}
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(piece)
	}
	flush()
	return chunks
}

// overlapTail returns the last sentences of s totalling at most n chars,
// or a word-aligned suffix when a single sentence exceeds n.
func overlapTail(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	if len(s) <= n {
		return s
	}
	sentences := splitSentences(s)
	var tail []string
	total := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		l := len(sentences[i])
		if len(tail) > 0 {
			l++ // joining space
		}
		if total+l > n {
			break
		}
		tail = append([]string{sentences[i]}, tail...)
		total += l
	}
	if len(tail) > 0 {
		return strings.Join(tail, " ")
	}
	// No whole sentence fits; fall back to a word-aligned suffix.
	suffix := s[len(s)-n:]
	if i := strings.IndexFunc(suffix, unicode.IsSpace); i >= 0 {
		suffix = suffix[i+1:]
	}
	return strings.TrimSpace(suffix)
}

// abbreviations that a trailing dot does not end a sentence after.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"inc": true, "ltd": true, "co": true, "corp": true, "no": true,
	"vol": true, "fig": true, "dept": true, "est": true, "approx": true,
	"eg": true, "ie": true, "al": true,
}

// splitSentences splits on sentence terminators, skipping decimal points
// and common abbreviations. CJK terminators are honored without a
// trailing space requirement.
func splitSentences(text string) []string {
	var sentences []string
	start := 0

	for i, r := range text {
		switch r {
		case '。', '！', '？':
			end := i + utf8.RuneLen(r)
			if s := strings.TrimSpace(text[start:end]); s != "" {
				sentences = append(sentences, s)
			}
			start = end
		case '.', '!', '?':
			end := i + 1
			// Terminator must be followed by whitespace or end of text.
			if end < len(text) {
				next, _ := utf8.DecodeRuneInString(text[end:])
				if !unicode.IsSpace(next) {
					continue
				}
			}
			if r == '.' && isNonTerminalDot(text, i) {
				continue
			}
			if s := strings.TrimSpace(text[start:end]); s != "" {
				sentences = append(sentences, s)
			}
			start = end
		}
	}

	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// isNonTerminalDot reports whether the dot at position i is a decimal
// point or part of an abbreviation.
func isNonTerminalDot(text string, i int) bool {
	// Decimal: digit on both sides.
	if i > 0 && i+1 < len(text) {
		prev := text[i-1]
		next := text[i+1]
		if prev >= '0' && prev <= '9' && next >= '0' && next <= '9' {
			return true
		}
	}
	// Abbreviation: word before the dot is in the known set.
	wordStart := i
	for wordStart > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:wordStart])
		if !unicode.IsLetter(r) {
			break
		}
		wordStart -= size
	}
	word := strings.ToLower(text[wordStart:i])
	return abbreviations[word]
}

// splitWords hard-splits an oversized sentence on whitespace.
func splitWords(sentence string, maxChars int) []string {
	words := strings.Fields(sentence)
	var parts []string
	var cur strings.Builder

	flush := func() {
		if part := strings.TrimSpace(cur.String()); part != "" {
			parts = append(parts, part)
		}
		cur.Reset()
	}

	for _, word := range words {
		if cur.Len() > 0 && cur.Len()+len(word)+1 > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		// A single word longer than maxChars is split by runes.
		if len(word) > maxChars {
			for _, piece := range splitRunes(word, maxChars) {
				if cur.Len() > 0 {
					flush()
				}
				cur.WriteString(piece)
			}
			continue
		}
		cur.WriteString(word)
	}
	flush()
	return parts
}

func splitRunes(s string, maxChars int) []string {
	runes := []rune(s)
	var parts []string
	for start := 0; start < len(runes); start += maxChars {
		end := min(start+maxChars, len(runes))
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}
