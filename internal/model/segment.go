package model

import (
	"fmt"
	"strings"
)

type SourceType string

const (
	SourceTypePDF     SourceType = "pdf"
	SourceTypeAudio   SourceType = "audio"
	SourceTypeYouTube SourceType = "youtube"
	SourceTypeText    SourceType = "text"
)

func ParseSourceType(value string) (SourceType, error) {
	st := SourceType(strings.ToLower(strings.TrimSpace(value)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown source type: %q", value)
	}
	return st, nil
}

func (s SourceType) Valid() bool {
	switch s {
	case SourceTypePDF, SourceTypeAudio, SourceTypeYouTube, SourceTypeText:
		return true
	}
	return false
}

// Timed reports whether segments of this type may carry start/end anchors.
func (s SourceType) Timed() bool {
	return s == SourceTypeAudio || s == SourceTypeYouTube
}

// Segment is the smallest retrievable unit of session content.
// Page is 1-based and zero when absent. Start and End are seconds.
type Segment struct {
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	Text       string     `json:"text"`
	ChunkIndex int        `json:"chunk_index"`
	Page       int        `json:"page,omitempty"`
	Start      *float64   `json:"start,omitempty"`
	End        *float64   `json:"end,omitempty"`
}

func NewTextSegment(sourceID, text string, chunkIndex int) (Segment, error) {
	seg := Segment{SourceType: SourceTypeText, SourceID: sourceID, Text: text, ChunkIndex: chunkIndex}
	return seg, seg.Validate()
}

func NewPDFSegment(sourceID, text string, chunkIndex, page int) (Segment, error) {
	seg := Segment{SourceType: SourceTypePDF, SourceID: sourceID, Text: text, ChunkIndex: chunkIndex, Page: page}
	return seg, seg.Validate()
}

// NewTimedSegment builds an audio or youtube segment. start and end may be nil.
func NewTimedSegment(st SourceType, sourceID, text string, chunkIndex int, start, end *float64) (Segment, error) {
	seg := Segment{SourceType: st, SourceID: sourceID, Text: text, ChunkIndex: chunkIndex, Start: start, End: end}
	return seg, seg.Validate()
}

func (s Segment) Validate() error {
	if !s.SourceType.Valid() {
		return fmt.Errorf("invalid source type: %q", s.SourceType)
	}
	if strings.TrimSpace(s.SourceID) == "" {
		return fmt.Errorf("source id is required")
	}
	if s.ChunkIndex < 0 {
		return fmt.Errorf("chunk index must be non-negative, got %d", s.ChunkIndex)
	}
	if s.Page != 0 && s.SourceType != SourceTypePDF {
		return fmt.Errorf("page anchor not allowed on %s segment", s.SourceType)
	}
	if s.Page < 0 {
		return fmt.Errorf("page must be positive, got %d", s.Page)
	}
	if (s.Start != nil || s.End != nil) && !s.SourceType.Timed() {
		return fmt.Errorf("time anchor not allowed on %s segment", s.SourceType)
	}
	if s.Start != nil && s.End != nil && *s.End < *s.Start {
		return fmt.Errorf("segment end %.3f before start %.3f", *s.End, *s.Start)
	}
	return nil
}

// Eligible reports whether the segment carries text worth indexing.
func (s Segment) Eligible() bool {
	return strings.TrimSpace(s.Text) != ""
}

func (s Segment) Metadata() Metadata {
	return Metadata{
		SourceType: s.SourceType,
		SourceID:   s.SourceID,
		ChunkIndex: s.ChunkIndex,
		Page:       s.Page,
		Start:      s.Start,
		End:        s.End,
	}
}

func Seconds(v float64) *float64 {
	return &v
}

// Fragment is a time-anchored piece of a caption track or transcript.
type Fragment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

func (f Fragment) End() float64 {
	if f.Duration < 0 {
		return f.Start
	}
	return f.Start + f.Duration
}
