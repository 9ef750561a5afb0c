package model

import (
	"fmt"
	"strings"
	"time"
)

// Metadata is what the vector index keeps beside each entry.
type Metadata struct {
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	ChunkIndex int        `json:"chunk_index"`
	Page       int        `json:"page,omitempty"`
	Start      *float64   `json:"start,omitempty"`
	End        *float64   `json:"end,omitempty"`
	Degraded   bool       `json:"degraded,omitempty"`
}

// Anchor renders the human readable location of an entry, e.g. "page 3"
// or "12.0s - 15.5s". Empty when the entry carries no anchor.
func (m Metadata) Anchor() string {
	switch {
	case m.Page > 0:
		return fmt.Sprintf("page %d", m.Page)
	case m.Start != nil && m.End != nil:
		return fmt.Sprintf("%.1fs - %.1fs", *m.Start, *m.End)
	case m.Start != nil:
		return fmt.Sprintf("from %.1fs", *m.Start)
	}
	return ""
}

func (m Metadata) Label() string {
	parts := []string{string(m.SourceType), m.SourceID}
	if anchor := m.Anchor(); anchor != "" {
		parts = append(parts, anchor)
	}
	return "[" + strings.Join(parts, " | ") + "]"
}

type IndexHandle struct {
	Collection   string    `json:"collection"`
	Entries      int       `json:"entries"`
	Degraded     int       `json:"degraded"`
	Dimension    int       `json:"dimension"`
	SegmentCount int       `json:"segment_count"`
	BuiltAt      time.Time `json:"built_at"`
}

type Hit struct {
	ID       string   `json:"id"`
	Document string   `json:"document"`
	Metadata Metadata `json:"metadata"`
	Distance float64  `json:"distance"`
}

func (h Hit) Similarity() float64 {
	return 1 - h.Distance
}

type Retrieval struct {
	Context string `json:"context"`
	Hits    []Hit  `json:"hits"`
}
