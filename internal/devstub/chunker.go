package devstub

// defaultChunkSize mimics the token-sized chunks the production stream
// produces.
const defaultChunkSize = 24

// Chunks splits an answer into stream-sized pieces on word boundaries.
// Concatenating the chunks reproduces the answer byte for byte.
func Chunks(text string, size int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		for end < len(runes) && runes[end] != ' ' {
			end++
		}
		if end < len(runes) {
			end++
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end
	}
	return chunks
}
