// Package split implements the two text segmentation routines used by the
// bot: splitting long model output into platform-sized chat messages
// without breaking fenced code blocks, and splitting ingested documents
// into overlapping passages for embedding.
package split

import "strings"

// DefaultMaxMessageChars is the platform limit for a single chat message.
const DefaultMaxMessageChars = 2000

const fenceMarker = "```"

// Messages splits text into ordered chunks of at most maxChars characters
// each, processing the input line by line.
//
// A fenced code block is kept intact where possible. When a block must be
// split to respect maxChars, the current chunk is closed with a synthetic
// fence marker and the next chunk reopens the fence with the same language
// tag, so every chunk renders as valid markdown on its own.
//
// Rules:
//   - a chunk is flushed when the closing fence line is appended, and
//     whenever appending a line would exceed maxChars
//   - a single line longer than maxChars is never split further
//   - an unterminated fence at end of input is flushed as-is
//   - empty input yields no chunks
func Messages(text string, maxChars int) []string {
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxMessageChars
	}

	// Inside a fence the budget reserves room for the synthetic closing
	// marker, so a chunk closed mid-block still fits within maxChars.
	fenceBudget := maxChars - len(fenceMarker) - 1

	var (
		chunks      []string
		chunk       strings.Builder
		insideFence bool
		language    string
	)

	flush := func() {
		if chunk.Len() > 0 {
			chunks = append(chunks, chunk.String())
			chunk.Reset()
		}
	}

	overflows := func(line string, budget int) bool {
		return chunk.Len()+len(line)+1 > budget
	}

	appendLine := func(line string) {
		chunk.WriteString(line)
		chunk.WriteByte('\n')
	}

	for line := range strings.Lines(text) {
		line = strings.TrimSuffix(line, "\n")

		switch {
		case !insideFence && strings.HasPrefix(line, fenceMarker):
			// Opening fence. The language tag is whatever follows the
			// backticks; it is replayed verbatim when the block is
			// reopened in a continuation chunk.
			insideFence = true
			language = strings.TrimSpace(strings.Trim(line, "`"))
			if overflows(line, fenceBudget) {
				flush()
			}
			appendLine(line)

		case insideFence && line == fenceMarker:
			// Closing fence ends both the block and the chunk, so a
			// code block never dangles at the top of the next message.
			insideFence = false
			appendLine(line)
			flush()

		case insideFence:
			if overflows(line, fenceBudget) {
				appendLine(fenceMarker)
				flush()
				appendLine(fenceMarker + language)
			}
			appendLine(line)

		default:
			if overflows(line, maxChars) {
				flush()
			}
			appendLine(line)
		}
	}

	flush()
	return chunks
}
