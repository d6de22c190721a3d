package postprocessors

import (
	"strings"
	"sync"
	"unicode"

	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.PostProcessorPipeline = (*Pipeline)(nil)

// Pipeline implements PostProcessorPipeline. The chunker is always first;
// further processors may append chunk-level enrichment after it, but must
// not merge, drop, or reorder chunks, since that would break the
// concat(chunks) == normalized(input) invariant the chunker establishes.
type Pipeline struct {
	mu         sync.RWMutex
	chunker    *Chunker
	processors []driven.PostProcessor
}

// NewPipeline creates a new post-processor pipeline with the given chunker.
func NewPipeline(chunker *Chunker) *Pipeline {
	return &Pipeline{chunker: chunker}
}

// Add appends a processor that runs after chunking.
func (p *Pipeline) Add(processor driven.PostProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processors = append(p.processors, processor)
}

// Process normalizes then chunks content, then runs any additional
// processors over the resulting chunks.
func (p *Pipeline) Process(content string) []driven.Chunk {
	normalized := Normalize(content)
	chunks := p.chunker.chunk(normalized)

	p.mu.RLock()
	processors := make([]driven.PostProcessor, len(p.processors))
	copy(processors, p.processors)
	p.mu.RUnlock()

	for _, proc := range processors {
		chunks = proc.Process(chunks)
	}
	return chunks
}

// List returns processor names in order, chunker first.
func (p *Pipeline) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.processors)+1)
	names = append(names, p.chunker.Name())
	for _, proc := range p.processors {
		names = append(names, proc.Name())
	}
	return names
}

// DefaultPipeline creates a pipeline with the default chunk size.
func DefaultPipeline() *Pipeline {
	return NewPipeline(NewChunker(DefaultChunkConfig()))
}

// Normalize applies the byte-level pre-step required before chunking:
// CRLF/CR -> LF, stripping control characters (except tab/newline) and
// zero-width Unicode, collapsing horizontal whitespace runs, collapsing 3+
// consecutive newlines to 2, and trimming. It runs once, ahead of and
// independent from the per-MIME-type Normaliser registry, so the chunker's
// round-trip invariant holds no matter which Normaliser ran first.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isZeroWidth(r) {
			continue
		}
		if r == '\t' || r == '\n' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	text = b.String()

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = collapseHorizontalWhitespace(line)
	}
	text = strings.Join(lines, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(text)
}

func isZeroWidth(r rune) bool {
	switch r {
	case '​', '‌', '‍', 0xFEFF, '⁠':
		return true
	default:
		return false
	}
}

func collapseHorizontalWhitespace(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	prevSpace := false
	for _, r := range line {
		if r == ' ' || r == '\t' {
			if !prevSpace {
				b.WriteRune(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// ChunkConfig configures the chunker behavior.
type ChunkConfig struct {
	// MaxChunkSize is the maximum bytes per chunk.
	MaxChunkSize int
}

// DefaultChunkConfig returns sensible defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{MaxChunkSize: 1000}
}

// Chunker splits normalized text into byte-exact, non-overlapping chunks.
// Concatenating every chunk's content reproduces the input exactly; every
// chunk but possibly the last ends at a '.' or '\n', or at a hard cut at
// MaxChunkSize when the last 100 bytes of its window hold neither.
type Chunker struct {
	config ChunkConfig
}

// Verify interface compliance
var _ driven.PostProcessor = (*Chunker)(nil)

// NewChunker creates a new chunker with the given config.
func NewChunker(config ChunkConfig) *Chunker {
	return &Chunker{config: config}
}

// Process implements driven.PostProcessor by chunking the single
// full-content chunk it's handed; it ignores any chunks beyond the first,
// since it is always the pipeline's first stage.
func (c *Chunker) Process(chunks []driven.Chunk) []driven.Chunk {
	if len(chunks) == 0 {
		return nil
	}
	return c.chunk(chunks[0].Content)
}

// Name returns the processor name.
func (c *Chunker) Name() string {
	return "chunker"
}

// Order returns 0 - chunker is always first.
func (c *Chunker) Order() int {
	return 0
}

const breakSearchWindow = 100

// chunk splits text per the algorithm: walk the text; for each window up to
// MaxChunkSize bytes, prefer breaking at the last '.' within the last 100
// bytes of the window, else the last '\n' in that window, else a hard cut
// at the limit.
func (c *Chunker) chunk(text string) []driven.Chunk {
	if len(text) == 0 {
		return nil
	}
	if len(text) <= c.config.MaxChunkSize {
		return []driven.Chunk{{Content: text, Position: 0, StartOffset: 0, EndOffset: len(text)}}
	}

	var result []driven.Chunk
	start := 0
	position := 0

	for start < len(text) {
		limit := start + c.config.MaxChunkSize
		if limit >= len(text) {
			result = append(result, driven.Chunk{
				Content:     text[start:],
				Position:    position,
				StartOffset: start,
				EndOffset:   len(text),
			})
			break
		}

		end := findBreakPoint(text, start, limit)

		result = append(result, driven.Chunk{
			Content:     text[start:end],
			Position:    position,
			StartOffset: start,
			EndOffset:   end,
		})
		position++
		start = end
	}

	return result
}

// findBreakPoint returns the offset to end a chunk spanning [start, limit).
func findBreakPoint(text string, start, limit int) int {
	windowStart := limit - breakSearchWindow
	if windowStart < start {
		windowStart = start
	}
	window := text[windowStart:limit]

	if idx := strings.LastIndexByte(window, '.'); idx != -1 {
		return windowStart + idx + 1
	}
	if idx := strings.LastIndexByte(window, '\n'); idx != -1 {
		return windowStart + idx + 1
	}
	return limit
}
