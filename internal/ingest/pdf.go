package ingest

import (
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

// PageText is the plain text of one PDF page. Page is 1-based.
type PageText struct {
	Page int
	Text string
}

// ExtractPDF reads the plain text of every page in the file at path.
// Pages without a content stream are skipped.
func ExtractPDF(path string) (pages []PageText, err error) {
	// the pdf reader panics on some malformed content streams
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = fmt.Errorf("%w: malformed pdf: %v", appErr.ErrSourceUnavailable, rec)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", appErr.ErrSourceUnavailable, err)
	}
	defer f.Close()

	total := r.NumPage()
	pages = make([]PageText, 0, total)
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: read page %d: %v", appErr.ErrSourceUnavailable, i, err)
		}
		pages = append(pages, PageText{Page: i, Text: text})
	}
	return pages, nil
}

// NormalizePDF windows each page separately so a segment never spans two
// pages. chunk_index runs across the whole document.
func NormalizePDF(sourceID string, pages []PageText, chunkChars int) ([]model.Segment, error) {
	var segs []model.Segment
	idx := 0
	for _, page := range pages {
		for _, piece := range splitWindows(page.Text, chunkChars) {
			seg, err := model.NewPDFSegment(sourceID, piece, idx, page.Page)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
			idx++
		}
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: no text extracted from %s", appErr.ErrSourceUnavailable, sourceID)
	}
	return segs, nil
}
