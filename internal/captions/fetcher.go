package captions

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

type Transcript struct {
	VideoID   string
	Language  string
	Generated bool
	Fragments []model.Fragment
	Metadata  *VideoMetadata
}

// Source fetches the caption track of a video.
type Source interface {
	Fetch(ctx context.Context, videoURL string) (*Transcript, error)
}

// VideoClient is the part of youtube.Client the fetcher relies on.
type VideoClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetTranscriptCtx(ctx context.Context, video *youtube.Video, lang string) (youtube.VideoTranscript, error)
}

type Config struct {
	Languages  []string
	HTTPClient *http.Client
	Client     VideoClient
	Metadata   MetadataLookup
}

type Fetcher struct {
	languages []string
	client    VideoClient
	meta      MetadataLookup
}

func NewFetcher(cfg Config) *Fetcher {
	f := &Fetcher{
		languages: cfg.Languages,
		client:    cfg.Client,
		meta:      cfg.Metadata,
	}
	if len(f.languages) == 0 {
		f.languages = []string{"en"}
	}
	if f.client == nil {
		hc := cfg.HTTPClient
		if hc == nil {
			hc = &http.Client{Timeout: 30 * time.Second}
		}
		f.client = &youtube.Client{HTTPClient: hc}
	}
	return f
}

// Fetch resolves the video, picks a caption track in the preferred
// languages and downloads its fragments. Metadata lookup failures are logged
// and do not fail the fetch.
func (f *Fetcher) Fetch(ctx context.Context, videoURL string) (*Transcript, error) {
	videoID, err := ExtractVideoID(videoURL)
	if err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("video_id", videoID))
	video, err := f.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("%w: load video %s: %w", appErr.ErrSourceUnavailable, videoID, err)
	}
	if len(video.CaptionTracks) == 0 {
		return nil, fmt.Errorf("%w: video %s lists no caption tracks", appErr.ErrCaptionsDisabled, videoID)
	}
	track, ok := pickTrack(video.CaptionTracks, f.languages)
	if !ok {
		return nil, fmt.Errorf("%w: no track in %v for video %s", appErr.ErrNoCaptions, f.languages, videoID)
	}
	segs, err := f.client.GetTranscriptCtx(ctx, video, track.LanguageCode)
	if err != nil {
		if errors.Is(err, youtube.ErrTranscriptDisabled) {
			return nil, fmt.Errorf("%w: video %s: %w", appErr.ErrCaptionsDisabled, videoID, err)
		}
		return nil, fmt.Errorf("%w: fetch captions: %w", appErr.ErrSourceUnavailable, err)
	}
	frags, skipped := toFragments(segs)
	if skipped > 0 {
		logger.Warn("skipped caption fragments with bad timing", zap.Int("skipped", skipped))
	}
	if len(frags) == 0 {
		return nil, fmt.Errorf("%w: caption track of %s is empty", appErr.ErrNoCaptions, videoID)
	}
	out := &Transcript{
		VideoID:   videoID,
		Language:  track.LanguageCode,
		Generated: track.Kind == "asr",
		Fragments: frags,
	}
	if f.meta != nil {
		meta, err := f.meta.Lookup(ctx, videoID)
		if err != nil {
			logger.Warn("lookup video metadata failed", zap.Error(err))
		} else {
			out.Metadata = meta
		}
	}
	logger.Info("captions fetched", zap.String("language", track.LanguageCode), zap.Int("fragments", len(frags)))
	return out, nil
}

// pickTrack prefers the earliest listed language, and a manual track over
// an auto-generated one within the same language.
func pickTrack(tracks []youtube.CaptionTrack, languages []string) (youtube.CaptionTrack, bool) {
	for _, lang := range languages {
		var generated *youtube.CaptionTrack
		for i := range tracks {
			if !strings.EqualFold(tracks[i].LanguageCode, lang) {
				continue
			}
			if tracks[i].Kind != "asr" {
				return tracks[i], true
			}
			if generated == nil {
				generated = &tracks[i]
			}
		}
		if generated != nil {
			return *generated, true
		}
	}
	return youtube.CaptionTrack{}, false
}

// toFragments converts millisecond segments to second based fragments.
// Segments with negative offsets or durations carry unusable anchors and are
// dropped.
func toFragments(segs youtube.VideoTranscript) ([]model.Fragment, int) {
	frags := make([]model.Fragment, 0, len(segs))
	skipped := 0
	for _, s := range segs {
		if s.StartMs < 0 || s.Duration < 0 {
			skipped++
			continue
		}
		frags = append(frags, model.Fragment{
			Text:     strings.TrimSpace(html.UnescapeString(s.Text)),
			Start:    float64(s.StartMs) / 1000,
			Duration: float64(s.Duration) / 1000,
		})
	}
	return frags, skipped
}
