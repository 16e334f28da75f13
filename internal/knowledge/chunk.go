package knowledge

import "strings"

// DefaultChunkSize is the maximum chunk length in characters.
const DefaultChunkSize = 1000

// Split breaks text into chunks of at most size runes. Paragraphs are packed
// together while they fit; a paragraph longer than size is cut at the last
// whitespace before the limit, or hard cut when there is none.
func Split(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var (
		chunks  []string
		current strings.Builder
		curLen  int
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		curLen = 0
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, piece := range cutLong([]rune(para), size) {
			n := len([]rune(piece))
			sep := 0
			if curLen > 0 {
				sep = 2
			}
			if curLen+sep+n > size {
				flush()
				sep = 0
			}
			if sep > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(piece)
			curLen += sep + n
		}
	}
	flush()
	return chunks
}

func cutLong(r []rune, size int) []string {
	var out []string
	for len(r) > size {
		cut := size
		for i := size; i > size/2; i-- {
			if r[i] == ' ' || r[i] == '\n' || r[i] == '\t' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(r[:cut])))
		r = r[cut:]
		for len(r) > 0 && (r[0] == ' ' || r[0] == '\n' || r[0] == '\t') {
			r = r[1:]
		}
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
