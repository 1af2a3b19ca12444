package service

import (
	"strings"
	"unicode"
)

// ChunkConfig controls how source documents split into content units.
type ChunkConfig struct {
	MaxChars  int
	MinChars  int
	Overlap   int
	MaxChunks int
}

// DefaultChunkConfig provides sane defaults for document splitting.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars:  1200,
		MinChars:  400,
		Overlap:   200,
		MaxChunks: 40,
	}
}

// DocumentSection is one unit-sized excerpt of a source document.
type DocumentSection struct {
	Title   string
	Order   int32
	Content string
}

// SplitDocument divides a document into sections. Markdown-style headings
// become section boundaries; oversized sections fall back to size-based
// splitting with overlap.
func SplitDocument(text string, cfg ChunkConfig) []DocumentSection {
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}

	var sections []DocumentSection
	order := int32(0)
	for _, block := range splitByHeadings(text) {
		for _, chunk := range chunkText(block.body, cfg) {
			sections = append(sections, DocumentSection{
				Title:   block.title,
				Order:   order,
				Content: chunk,
			})
			order++
			if cfg.MaxChunks > 0 && int(order) >= cfg.MaxChunks {
				return sections
			}
		}
	}
	return sections
}

type headingBlock struct {
	title string
	body  string
}

func splitByHeadings(text string) []headingBlock {
	lines := strings.Split(text, "\n")
	var blocks []headingBlock
	current := headingBlock{}
	var body []string

	flush := func() {
		trimmed := strings.TrimSpace(strings.Join(body, "\n"))
		if trimmed != "" {
			current.body = trimmed
			blocks = append(blocks, current)
		}
		body = body[:0]
	}

	for _, line := range lines {
		if title, ok := headingTitle(line); ok {
			flush()
			current = headingBlock{title: title}
			continue
		}
		body = append(body, line)
	}
	flush()

	if len(blocks) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			blocks = append(blocks, headingBlock{body: trimmed})
		}
	}
	return blocks
}

func headingTitle(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	if title == "" {
		return "", false
	}
	return title, true
}

func chunkText(text string, cfg ChunkConfig) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	runes := []rune(clean)
	if len(runes) <= cfg.MaxChars {
		return []string{clean}
	}

	chunks := make([]string, 0, 8)
	start := 0
	for start < len(runes) {
		if cfg.MaxChunks > 0 && len(chunks) >= cfg.MaxChunks {
			break
		}

		end := start + cfg.MaxChars
		if end > len(runes) {
			end = len(runes)
		}

		if end < len(runes) {
			cut := end
			minCut := start + cfg.MinChars
			if minCut > end {
				minCut = start
			}
			for i := end; i > minCut; i-- {
				if unicode.IsSpace(runes[i-1]) {
					cut = i
					break
				}
			}
			end = cut
		}

		if end <= start {
			break
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}

		nextStart := end
		if cfg.Overlap > 0 {
			if end-start > cfg.Overlap {
				nextStart = end - cfg.Overlap
			}
		}
		if nextStart <= start {
			nextStart = end
		}
		start = nextStart
	}

	return chunks
}
