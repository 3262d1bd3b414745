package ingest

import "strings"

const (
	// chunkSize is the target chunk length in runes.
	chunkSize = 1000
	// chunkOverlap is how many runes consecutive chunks share.
	chunkOverlap = 200
)

// ChunkPages slices page-wise text into overlapping chunks, recording which
// source pages each chunk covers. Chunk boundaries prefer paragraph breaks,
// then line breaks, then sentence ends within the window.
func ChunkPages(pages []Page) []Chunk {
	text, offsets := joinPages(pages)
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = adjustBoundary(runes, start, end)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			covered := pagesInRange(offsets, start, end)
			chunk := Chunk{
				Index: len(chunks),
				Text:  content,
			}
			if len(covered) > 0 {
				chunk.Page = covered[0]
			}
			if len(covered) > 1 {
				chunk.Pages = covered
			}
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}
		next := end - chunkOverlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// pageOffset maps a page number to its rune range in the joined text.
type pageOffset struct {
	number int
	start  int
	end    int
}

func joinPages(pages []Page) (string, []pageOffset) {
	var b strings.Builder
	offsets := make([]pageOffset, 0, len(pages))
	pos := 0
	for _, page := range pages {
		text := strings.TrimSpace(page.Text)
		if text == "" {
			continue
		}
		if pos > 0 {
			b.WriteString("\n\n")
			pos += 2
		}
		runeLen := len([]rune(text))
		offsets = append(offsets, pageOffset{number: page.Number, start: pos, end: pos + runeLen})
		b.WriteString(text)
		pos += runeLen
	}
	return b.String(), offsets
}

// adjustBoundary pulls the window end back to the nearest natural break,
// as long as that keeps more than the overlap worth of content.
func adjustBoundary(runes []rune, start, end int) int {
	window := string(runes[start:end])
	minLen := chunkOverlap + 1

	for _, sep := range []string{"\n\n", "\n", ". "} {
		if idx := strings.LastIndex(window, sep); idx != -1 {
			boundary := start + len([]rune(window[:idx+len(sep)]))
			if boundary-start >= minLen {
				return boundary
			}
		}
	}
	return end
}

func pagesInRange(offsets []pageOffset, start, end int) []int {
	var covered []int
	for _, off := range offsets {
		if off.start < end && off.end > start {
			covered = append(covered, off.number)
		}
	}
	return covered
}
