package ingest

import (
	"fmt"
	"strings"

	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

const DefaultChunkChars = 800

// TextSourceID is the source id given to free text pasted into a session.
const TextSourceID = "text_input"

// splitWindows cuts text into consecutive windows of size runes with no
// overlap. The last window may be shorter. Windows are trimmed and blank
// ones are dropped.
func splitWindows(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkChars
	}
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece == "" {
			continue
		}
		out = append(out, piece)
	}
	return out
}

// ChunkPlainText turns free text into text segments. Calling it twice with
// the same input yields identical segments.
func ChunkPlainText(text, sourceID string, chunkChars int) ([]model.Segment, error) {
	if sourceID == "" {
		sourceID = TextSourceID
	}
	pieces := splitWindows(text, chunkChars)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: text is empty", appErr.ErrSourceUnavailable)
	}
	segs := make([]model.Segment, 0, len(pieces))
	for i, piece := range pieces {
		seg, err := model.NewTextSegment(sourceID, piece, i)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, nil
}
