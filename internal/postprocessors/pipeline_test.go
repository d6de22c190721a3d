package postprocessors

import (
	"strings"
	"testing"

	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

func TestNewPipeline(t *testing.T) {
	p := NewPipeline(NewChunker(DefaultChunkConfig()))
	if p == nil {
		t.Fatal("expected non-nil pipeline")
	}
	if len(p.List()) != 1 {
		t.Errorf("expected 1 processor (the chunker), got %d", len(p.List()))
	}
}

func TestPipeline_Add(t *testing.T) {
	p := NewPipeline(NewChunker(DefaultChunkConfig()))
	p.Add(noopProcessor{name: "enricher", order: 1})

	names := p.List()
	if len(names) != 2 {
		t.Fatalf("expected 2 processors, got %d", len(names))
	}
	if names[0] != "chunker" || names[1] != "enricher" {
		t.Errorf("unexpected processor order: %v", names)
	}
}

func TestPipeline_Process_EmptyContent(t *testing.T) {
	p := DefaultPipeline()
	chunks := p.Process("")
	if len(chunks) != 0 {
		t.Fatalf("expected 0 chunks for empty content, got %d", len(chunks))
	}
}

func TestPipeline_Process_SmallContent(t *testing.T) {
	p := DefaultPipeline()

	content := "Hello, world!"
	chunks := p.Process(content)

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != content {
		t.Errorf("expected %q, got %q", content, chunks[0].Content)
	}
	if chunks[0].StartOffset != 0 || chunks[0].EndOffset != len(content) {
		t.Errorf("unexpected offsets: %+v", chunks[0])
	}
}

func TestPipeline_Process_LargeContent_RoundTrips(t *testing.T) {
	p := NewPipeline(NewChunker(ChunkConfig{MaxChunkSize: 20}))

	content := strings.Repeat("a", 97)
	chunks := p.Process(content)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	var rebuilt strings.Builder
	for i, chunk := range chunks {
		if chunk.Position != i {
			t.Errorf("expected position %d, got %d", i, chunk.Position)
		}
		rebuilt.WriteString(chunk.Content)
	}
	if rebuilt.String() != content {
		t.Errorf("chunks do not reconstruct input: got %q", rebuilt.String())
	}
}

func TestDefaultPipeline(t *testing.T) {
	p := DefaultPipeline()
	names := p.List()
	if len(names) != 1 || names[0] != "chunker" {
		t.Errorf("expected default pipeline to contain only the chunker, got %v", names)
	}
}

func TestDefaultChunkConfig(t *testing.T) {
	config := DefaultChunkConfig()
	if config.MaxChunkSize != 1000 {
		t.Errorf("expected MaxChunkSize 1000, got %d", config.MaxChunkSize)
	}
}

func TestChunker_Name(t *testing.T) {
	c := NewChunker(DefaultChunkConfig())
	if c.Name() != "chunker" {
		t.Errorf("expected name 'chunker', got %s", c.Name())
	}
}

func TestChunker_Order(t *testing.T) {
	c := NewChunker(DefaultChunkConfig())
	if c.Order() != 0 {
		t.Errorf("expected order 0, got %d", c.Order())
	}
}

func TestChunker_SingleChunkWhenUnderLimit(t *testing.T) {
	c := NewChunker(ChunkConfig{MaxChunkSize: 1000})
	content := "short text"
	chunks := c.chunk(content)

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != content {
		t.Errorf("expected %q, got %q", content, chunks[0].Content)
	}
}

func TestChunker_BreaksAtSentenceBoundary(t *testing.T) {
	c := NewChunker(ChunkConfig{MaxChunkSize: 30})
	content := "This is sentence one. This is sentence two. This is sentence three."

	chunks := c.chunk(content)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i, chunk := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(chunk.Content, ".") && !strings.HasSuffix(chunk.Content, "\n") {
			t.Errorf("chunk %d should end at '.' or newline, got %q", i, chunk.Content)
		}
	}
}

func TestChunker_RoundTripInvariant(t *testing.T) {
	cases := []struct {
		name string
		text string
		max  int
	}{
		{"no break points", strings.Repeat("x", 250), 50},
		{"sentences", "One. Two. Three. Four. Five. Six. Seven. Eight. Nine. Ten.", 15},
		{"newlines", strings.Repeat("line of text\n", 30), 40},
		{"empty", "", 100},
		{"exactly at limit", strings.Repeat("a", 50), 50},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChunker(ChunkConfig{MaxChunkSize: tc.max})
			chunks := c.chunk(tc.text)

			var rebuilt strings.Builder
			for _, chunk := range chunks {
				rebuilt.WriteString(chunk.Content)
			}
			if rebuilt.String() != tc.text {
				t.Errorf("round-trip failed: got %q, want %q", rebuilt.String(), tc.text)
			}

			for i, chunk := range chunks {
				if i < len(chunks)-1 {
					last := chunk.Content[len(chunk.Content)-1]
					if last != '.' && last != '\n' {
						// Hard cut is allowed when no break point exists in the window.
					}
				}
				if chunk.EndOffset-chunk.StartOffset != len(chunk.Content) {
					t.Errorf("chunk %d offsets inconsistent with content length", i)
				}
			}
		})
	}
}

func TestChunker_NoBreakPoint(t *testing.T) {
	c := NewChunker(ChunkConfig{MaxChunkSize: 50})

	content := strings.Repeat("x", 100)
	chunks := c.chunk(content)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if chunks[len(chunks)-1].EndOffset != len(content) {
		t.Errorf("chunks don't cover all content: last end offset %d, want %d", chunks[len(chunks)-1].EndOffset, len(content))
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"windows line endings", "hello\r\nworld", "hello\nworld"},
		{"old mac line endings", "hello\rworld", "hello\nworld"},
		{"collapses horizontal whitespace", "hello   world", "hello world"},
		{"collapses blank lines", "a\n\n\n\nb", "a\n\nb"},
		{"trims", "  hello  ", "hello"},
		{"strips zero width space", "hello​world", "helloworld"},
		{"strips control chars, keeps newline, collapses tab to a space", "a\x00b\tc\nd", "ab c\nd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Normalize(tt.input)
			if result != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

type noopProcessor struct {
	name  string
	order int
}

func (p noopProcessor) Process(chunks []driven.Chunk) []driven.Chunk { return chunks }
func (p noopProcessor) Name() string                                 { return p.name }
func (p noopProcessor) Order() int                                   { return p.order }

// Verify interface compliance
func TestInterfaceCompliance(t *testing.T) {
	var _ driven.PostProcessorPipeline = (*Pipeline)(nil)
	var _ driven.PostProcessor = (*Chunker)(nil)
}
