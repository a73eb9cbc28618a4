package pipeline

import "strings"

// Sentence chunking tuning. Synthesis quality drops on fragments shorter
// than chunkMinChars, while waiting for chunkHardLimit characters adds a
// full sentence of latency, so soft chunks aim between the two.
const (
	chunkMinChars   = 28
	chunkTargetChars = 58
	chunkHardLimit  = 90
)

const sentenceEndings = ".!?;,\n"

// chunkPunctBreaks are the secondary break characters a soft chunk prefers
// over a bare space, including the full-width forms Vietnamese LLM output
// mixes in.
const chunkPunctBreaks = ",，:：、"

// extractSentence splits the first complete sentence off buffer. A sentence
// is the prefix up to the first ending character, inclusive, and must be
// longer than one character after trimming; a lone ending character is
// dropped. Returns an empty sentence when no ending has arrived yet.
func extractSentence(buffer []rune) (sentence string, rest []rune) {
	for i, r := range buffer {
		if !strings.ContainsRune(sentenceEndings, r) {
			continue
		}
		s := strings.TrimSpace(string(buffer[:i+1]))
		rest = buffer[i+1:]
		if len([]rune(s)) > 1 {
			return s, rest
		}
		return "", rest
	}
	return "", buffer
}

// extractSoftChunk cuts a chunk from a buffer that grew past the hard limit
// without any sentence ending. It prefers the rightmost secondary
// punctuation below the limit, then the rightmost space; mid-word cuts are
// never made. Returns an empty chunk when no acceptable cut exists.
func extractSoftChunk(buffer []rune) (chunk string, rest []rune) {
	if len(buffer) < chunkMinChars {
		return "", buffer
	}

	limit := min(len(buffer), chunkHardLimit)

	cut := -1
	for i := limit - 1; i >= chunkMinChars; i-- {
		if strings.ContainsRune(chunkPunctBreaks, buffer[i]) {
			cut = i
			break
		}
	}

	if cut != -1 {
		chunk = strings.TrimRight(string(buffer[:cut+1]), " \t\n")
		rest = trimLeftSpace(buffer[cut+1:])
	} else {
		space := -1
		for i := limit - 1; i >= chunkMinChars; i-- {
			if buffer[i] == ' ' {
				space = i
				break
			}
		}
		if space == -1 {
			return "", buffer
		}
		chunk = strings.TrimRight(string(buffer[:space]), " \t\n")
		rest = trimLeftSpace(buffer[space+1:])
	}

	if len([]rune(chunk)) < chunkMinChars {
		return "", buffer
	}
	return chunk, rest
}

func trimLeftSpace(rs []rune) []rune {
	for len(rs) > 0 && (rs[0] == ' ' || rs[0] == '\t' || rs[0] == '\n') {
		rs = rs[1:]
	}
	return rs
}
