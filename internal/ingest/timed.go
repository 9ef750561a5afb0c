package ingest

import (
	"fmt"
	"strings"

	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

// NormalizeCaptions maps each caption fragment to one youtube segment.
// chunk_index is the fragment's position in the fetched track, so blank
// fragments leave gaps rather than renumbering the rest.
func NormalizeCaptions(videoID string, fragments []model.Fragment) ([]model.Segment, error) {
	segs := make([]model.Segment, 0, len(fragments))
	for i, frag := range fragments {
		text := strings.TrimSpace(frag.Text)
		if text == "" {
			continue
		}
		seg, err := model.NewTimedSegment(model.SourceTypeYouTube, videoID, text, i,
			model.Seconds(frag.Start), model.Seconds(frag.End()))
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: video %s has no caption text", appErr.ErrSourceUnavailable, videoID)
	}
	return segs, nil
}

// NormalizeTranscript turns an audio transcript into segments. With time
// anchored fragments each one becomes a segment; otherwise the whole text
// is a single segment without anchors.
func NormalizeTranscript(sourceID, text string, fragments []model.Fragment) ([]model.Segment, error) {
	if len(fragments) > 0 {
		segs := make([]model.Segment, 0, len(fragments))
		for _, frag := range fragments {
			t := strings.TrimSpace(frag.Text)
			if t == "" {
				continue
			}
			seg, err := model.NewTimedSegment(model.SourceTypeAudio, sourceID, t, len(segs),
				model.Seconds(frag.Start), model.Seconds(frag.End()))
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
		}
		if len(segs) > 0 {
			return segs, nil
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: transcript of %s is empty", appErr.ErrSourceUnavailable, sourceID)
	}
	seg, err := model.NewTimedSegment(model.SourceTypeAudio, sourceID, text, 0, nil, nil)
	if err != nil {
		return nil, err
	}
	return []model.Segment{seg}, nil
}
