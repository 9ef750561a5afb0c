package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AssemblyAI/assemblyai-go-sdk"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

const defaultBaseURL = "https://api.assemblyai.com"

type Transcript struct {
	ID        string
	Text      string
	Fragments []model.Fragment
}

// Transcriber converts a local audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (*Transcript, error)
}

type Config struct {
	APIKey       string
	BaseURL      string
	SpeechModel  string
	PollAttempts int
	PollInterval time.Duration
	Timestamps   bool
	HTTPClient   *http.Client
}

type Client struct {
	api         *assemblyai.Client
	configured  bool
	speechModel string
	attempts    int
	interval    time.Duration
	timestamps  bool
}

func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	c := &Client{
		api: assemblyai.NewClientWithOptions(
			assemblyai.WithAPIKey(apiKey),
			assemblyai.WithBaseURL(baseURL),
			assemblyai.WithHTTPClient(hc),
		),
		configured:  apiKey != "",
		speechModel: cfg.SpeechModel,
		attempts:    cfg.PollAttempts,
		interval:    cfg.PollInterval,
		timestamps:  cfg.Timestamps,
	}
	if c.speechModel == "" {
		c.speechModel = "universal"
	}
	if c.attempts <= 0 {
		c.attempts = 30
	}
	if c.interval <= 0 {
		c.interval = 3 * time.Second
	}
	return c
}

// Transcribe uploads the file, submits a job and polls until it settles.
// Polling gives up with ErrTimeout after the configured number of attempts.
func (c *Client) Transcribe(ctx context.Context, path string) (*Transcript, error) {
	if !c.configured {
		return nil, fmt.Errorf("%w: transcription api key not configured", appErr.ErrTranscriptionFailed)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("file", path))
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open audio: %v", appErr.ErrSourceUnavailable, err)
	}
	job, err := c.api.Transcripts.SubmitFromReader(ctx, file, &assemblyai.TranscriptOptionalParams{
		SpeechModel: assemblyai.SpeechModel(c.speechModel),
	})
	_ = file.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: submit: %v", appErr.ErrTranscriptionFailed, err)
	}
	jobID := deref(job.ID)
	if jobID == "" {
		return nil, fmt.Errorf("%w: submit returned no job id", appErr.ErrTranscriptionFailed)
	}
	logger = logger.With(zap.String("job_id", jobID))
	logger.Info("transcription submitted")

	for attempt := 1; attempt <= c.attempts; attempt++ {
		status, err := c.api.Transcripts.Get(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: poll: %v", appErr.ErrTranscriptionFailed, err)
		}
		switch status.Status {
		case assemblyai.TranscriptStatusCompleted:
			out := &Transcript{ID: jobID, Text: deref(status.Text)}
			if c.timestamps {
				frags, err := c.sentences(ctx, jobID)
				if err != nil {
					logger.Warn("fetch sentence timings failed, falling back to plain text", zap.Error(err))
				} else {
					out.Fragments = frags
				}
			}
			logger.Info("transcription completed", zap.Int("attempts", attempt))
			return out, nil
		case assemblyai.TranscriptStatusError:
			return nil, fmt.Errorf("%w: %s", appErr.ErrTranscriptionFailed, deref(status.Error))
		}
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.interval):
		}
	}
	return nil, fmt.Errorf("%w: transcription %s not finished after %d polls", appErr.ErrTimeout, jobID, c.attempts)
}

// sentences converts the millisecond sentence timings into fragments.
// Sentences without both anchors are dropped.
func (c *Client) sentences(ctx context.Context, id string) ([]model.Fragment, error) {
	resp, err := c.api.Transcripts.GetSentences(ctx, id)
	if err != nil {
		return nil, err
	}
	frags := make([]model.Fragment, 0, len(resp.Sentences))
	for _, s := range resp.Sentences {
		if s.Start == nil || s.End == nil || *s.End < *s.Start {
			continue
		}
		frags = append(frags, model.Fragment{
			Text:     strings.TrimSpace(deref(s.Text)),
			Start:    float64(*s.Start) / 1000,
			Duration: float64(*s.End-*s.Start) / 1000,
		})
	}
	return frags, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
