package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

func TestChunkPlainTextWindows(t *testing.T) {
	text := strings.Repeat("a", 2000)
	segs, err := ChunkPlainText(text, "", 800)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	lengths := []int{800, 800, 400}
	for i, seg := range segs {
		require.Equal(t, model.SourceTypeText, seg.SourceType)
		require.Equal(t, TextSourceID, seg.SourceID)
		require.Equal(t, i, seg.ChunkIndex)
		require.Len(t, seg.Text, lengths[i])
		require.Zero(t, seg.Page)
		require.Nil(t, seg.Start)
	}
}

func TestChunkPlainTextDeterministic(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 120)
	a, err := ChunkPlainText(text, "notes", 300)
	require.NoError(t, err)
	b, err := ChunkPlainText(text, "notes", 300)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestChunkPlainTextCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 10)
	segs, err := ChunkPlainText(text, "t", 4)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	require.Equal(t, "éééé", segs[0].Text)
	require.Equal(t, "éé", segs[2].Text)
}

func TestChunkPlainTextSkipsBlankWindows(t *testing.T) {
	text := "abc" + strings.Repeat(" ", 10) + "def"
	segs, err := ChunkPlainText(text, "t", 5)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Equal(t, "abc", segs[0].Text)
	require.Equal(t, 0, segs[0].ChunkIndex)
	require.Equal(t, "def", segs[1].Text)
	require.Equal(t, 1, segs[1].ChunkIndex)
}

func TestChunkPlainTextEmpty(t *testing.T) {
	_, err := ChunkPlainText("   \n\t ", "t", 800)
	require.True(t, errors.Is(err, appErr.ErrSourceUnavailable))
}

func TestNormalizePDFDocumentWideIndex(t *testing.T) {
	pages := []PageText{
		{Page: 1, Text: strings.Repeat("x", 10)},
		{Page: 2, Text: "   "},
		{Page: 3, Text: strings.Repeat("y", 6)},
	}
	segs, err := NormalizePDF("book.pdf", pages, 4)
	require.NoError(t, err)
	require.Len(t, segs, 5)
	wantPages := []int{1, 1, 1, 3, 3}
	for i, seg := range segs {
		require.Equal(t, i, seg.ChunkIndex)
		require.Equal(t, wantPages[i], seg.Page)
		require.Equal(t, model.SourceTypePDF, seg.SourceType)
		require.Equal(t, "book.pdf", seg.SourceID)
	}
}

func TestNormalizePDFNoText(t *testing.T) {
	_, err := NormalizePDF("scan.pdf", []PageText{{Page: 1, Text: ""}}, 800)
	require.True(t, errors.Is(err, appErr.ErrSourceUnavailable))
}

func TestExtractPDFInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))
	_, err := ExtractPDF(path)
	require.True(t, errors.Is(err, appErr.ErrSourceUnavailable))
}

func TestNormalizeCaptions(t *testing.T) {
	frags := []model.Fragment{
		{Text: "hello", Start: 0, Duration: 2.5},
		{Text: "  ", Start: 2.5, Duration: 1},
		{Text: "world", Start: 3.5, Duration: 1.5},
	}
	segs, err := NormalizeCaptions("abc123", frags)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Equal(t, 0, segs[0].ChunkIndex)
	require.Equal(t, 2.5, *segs[0].End)
	require.Equal(t, 2, segs[1].ChunkIndex)
	require.Equal(t, 3.5, *segs[1].Start)
	require.Equal(t, 5.0, *segs[1].End)

	_, err = NormalizeCaptions("abc123", nil)
	require.True(t, errors.Is(err, appErr.ErrSourceUnavailable))
}

func TestNormalizeTranscript(t *testing.T) {
	segs, err := NormalizeTranscript("talk.mp3", "full transcript text", nil)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, model.SourceTypeAudio, segs[0].SourceType)
	require.Equal(t, "talk.mp3", segs[0].SourceID)
	require.Nil(t, segs[0].Start)
	require.Nil(t, segs[0].End)

	segs, err = NormalizeTranscript("talk.mp3", "ignored", []model.Fragment{
		{Text: "first", Start: 0, Duration: 1.2},
		{Text: "second", Start: 1.2, Duration: 0.8},
	})
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Equal(t, 1, segs[1].ChunkIndex)
	require.InDelta(t, 2.0, *segs[1].End, 1e-9)

	_, err = NormalizeTranscript("talk.mp3", " ", nil)
	require.True(t, errors.Is(err, appErr.ErrSourceUnavailable))
}
