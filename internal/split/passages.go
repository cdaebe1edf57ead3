package split

// Defaults for passage splitting during ingestion. Sized so a passage
// fits comfortably within the embedding model's input window while the
// overlap keeps sentences that straddle a boundary retrievable from
// either side.
const (
	DefaultPassageSize    = 2000
	DefaultPassageOverlap = 100
)

// Passages splits text into overlapping windows of at most size runes,
// advancing size-overlap runes per window. The final window may be
// shorter. Empty input yields no passages.
//
// Splitting is rune-based so multi-byte content is never cut mid-rune.
func Passages(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultPassageSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultPassageOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	passages := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		passages = append(passages, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return passages
}
