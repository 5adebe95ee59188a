package deliver

// SplitChunks breaks text into ordered pieces of at most limit runes.
// Concatenating the pieces reproduces text exactly; text of exactly limit
// runes yields one piece.
func SplitChunks(text string, limit int) []string {
	if limit <= 0 || text == "" {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
