package chunk

// TextWindowLines is the default window size, in lines, for plain-text
// chunking.
const TextWindowLines = 60

// TextWindowOverlap is the number of lines of overlap between consecutive
// windows.
const TextWindowOverlap = 10

// ChunkText splits plain text into fixed-size overlapping line windows.
// Each window after the first starts inside the previous one's tail, so the
// windows cover every line with no gap, but their ranges do not partition
// the file: a line in an overlap belongs to two windows.
func ChunkText(path, text string) []Chunk {
	lines := splitLinesKeepTrailing(text)
	n := len(lines)
	if n == 0 {
		return nil
	}

	step := TextWindowLines - TextWindowOverlap
	if step < 1 {
		step = TextWindowLines
	}

	var chunks []Chunk
	start := 1
	for start <= n {
		end := start + TextWindowLines - 1
		if end > n {
			end = n
		}
		body := joinLines(lines, start, end)
		c := Chunk{Path: path, Kind: KindText, Range: Range{StartLine: start, EndLine: end}, Text: body}
		c.Finalize()
		chunks = append(chunks, c)

		if end == n {
			break
		}
		start += step
	}

	return chunks
}

func splitLinesKeepTrailing(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i])
			start = i + 1
		}
	}
	lines = append(lines, text[start:])
	// A trailing newline produces a final empty element; drop it so line
	// counts match len(lines) exactly as they do for the other chunkers.
	if len(lines) > 0 && lines[len(lines)-1] == "" && len(text) > 0 && text[len(text)-1] == '\n' {
		lines = lines[:len(lines)-1]
	}
	return lines
}
