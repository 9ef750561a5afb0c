package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/studyrag/internal/captions"
	"github.com/xxxsen/studyrag/internal/filestore"
	"github.com/xxxsen/studyrag/internal/index"
	"github.com/xxxsen/studyrag/internal/ingest"
	"github.com/xxxsen/studyrag/internal/job"
	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
	"github.com/xxxsen/studyrag/internal/session"
	"github.com/xxxsen/studyrag/internal/transcribe"
)

type IngestResult struct {
	SessionID  string            `json:"session_id"`
	SourceType model.SourceType  `json:"source_type"`
	SourceID   string            `json:"source_id"`
	Added      int               `json:"added"`
	Total      int               `json:"total_segments"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// JobSchedule reports when a named housekeeping job fires next.
type JobSchedule interface {
	Next(name string) (time.Time, bool)
}

type SessionService struct {
	sessions    *session.Store
	builder     *index.Builder
	captions    captions.Source
	transcriber transcribe.Transcriber
	archive     filestore.Store
	schedule    JobSchedule
	chunkChars  int
}

type SessionServiceDeps struct {
	Sessions    *session.Store
	Builder     *index.Builder
	Captions    captions.Source
	Transcriber transcribe.Transcriber
	// Archive is optional; when set, uploaded files are copied there before
	// the scratch copy is removed.
	Archive    filestore.Store
	Schedule   JobSchedule
	ChunkChars int
}

func NewSessionService(deps SessionServiceDeps) *SessionService {
	chunk := deps.ChunkChars
	if chunk <= 0 {
		chunk = ingest.DefaultChunkChars
	}
	return &SessionService{
		sessions:    deps.Sessions,
		builder:     deps.Builder,
		captions:    deps.Captions,
		transcriber: deps.Transcriber,
		archive:     deps.Archive,
		schedule:    deps.Schedule,
		chunkChars:  chunk,
	}
}

func (s *SessionService) Create(ctx context.Context) (string, error) {
	return s.sessions.Create(ctx)
}

// Reset drops the session's index and deletes the session. It reports
// whether the session existed. It waits for an in-flight build so the build
// cannot recreate the collection after the drop.
func (s *SessionService) Reset(ctx context.Context, sessionID string) (bool, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		if appErr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	sess.LockBuild()
	defer sess.UnlockBuild()
	if err := s.builder.Drop(ctx, sessionID); err != nil {
		logutil.GetLogger(ctx).Error("drop index on reset failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return s.sessions.Delete(ctx, sessionID)
}

func (s *SessionService) Status(ctx context.Context, sessionID string) (*session.Status, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	st := sess.Status()
	if s.schedule != nil {
		if next, ok := s.schedule.Next(job.SessionExpiryJobName); ok && !next.IsZero() {
			st.NextExpirySweep = &next
		}
	}
	return &st, nil
}

func (s *SessionService) BuildIndex(ctx context.Context, sessionID string) (*model.IndexHandle, error) {
	return s.builder.Build(ctx, sessionID)
}

func (s *SessionService) AddText(ctx context.Context, sessionID, sourceName, text string) (*IngestResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	sourceID := strings.TrimSpace(sourceName)
	if sourceID == "" {
		sourceID = ingest.TextSourceID
	}
	segs, err := ingest.ChunkPlainText(text, sourceID, s.chunkChars)
	if err != nil {
		return nil, err
	}
	return s.append(ctx, sess, model.SourceInfo{SourceType: model.SourceTypeText, SourceID: sourceID}, segs), nil
}

func (s *SessionService) AddYouTube(ctx context.Context, sessionID, videoURL string) (*IngestResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := captions.ExtractVideoID(videoURL); err != nil {
		return nil, err
	}
	if s.captions == nil {
		return nil, fmt.Errorf("%w: caption source not configured", appErr.ErrSourceUnavailable)
	}
	tr, err := s.captions.Fetch(ctx, videoURL)
	if err != nil {
		return nil, sourceErr(err)
	}
	segs, err := ingest.NormalizeCaptions(tr.VideoID, tr.Fragments)
	if err != nil {
		return nil, err
	}
	info := model.SourceInfo{SourceType: model.SourceTypeYouTube, SourceID: tr.VideoID}
	if tr.Metadata != nil {
		info.Metadata = tr.Metadata.Map()
	}
	if tr.Language != "" {
		if info.Metadata == nil {
			info.Metadata = map[string]string{}
		}
		info.Metadata["language"] = tr.Language
	}
	return s.append(ctx, sess, info, segs), nil
}

// IngestPDF stores the upload in a request scoped scratch directory, extracts
// its pages and appends the resulting segments.
func (s *SessionService) IngestPDF(ctx context.Context, sessionID, filename string, r io.Reader) (*IngestResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	name := cleanFilename(filename, "document.pdf")
	var segs []model.Segment
	err = s.withUpload(ctx, sess, name, r, func(path string) error {
		pages, err := ingest.ExtractPDF(path)
		if err != nil {
			return err
		}
		segs, err = ingest.NormalizePDF(name, pages, s.chunkChars)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.append(ctx, sess, model.SourceInfo{SourceType: model.SourceTypePDF, SourceID: name}, segs), nil
}

func (s *SessionService) IngestAudio(ctx context.Context, sessionID, filename string, r io.Reader) (*IngestResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.transcriber == nil {
		return nil, fmt.Errorf("%w: %w: transcriber not configured", appErr.ErrSourceUnavailable, appErr.ErrTranscriptionFailed)
	}
	name := cleanFilename(filename, "audio")
	var segs []model.Segment
	err = s.withUpload(ctx, sess, name, r, func(path string) error {
		tr, err := s.transcriber.Transcribe(ctx, path)
		if err != nil {
			return sourceErr(err)
		}
		segs, err = ingest.NormalizeTranscript(name, tr.Text, tr.Fragments)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.append(ctx, sess, model.SourceInfo{SourceType: model.SourceTypeAudio, SourceID: name}, segs), nil
}

func (s *SessionService) append(ctx context.Context, sess *session.Session, info model.SourceInfo, segs []model.Segment) *IngestResult {
	total := sess.AppendSegments(info, segs)
	logutil.GetLogger(ctx).Info("source ingested",
		zap.String("session_id", sess.ID()),
		zap.String("source_type", string(info.SourceType)),
		zap.String("source_id", info.SourceID),
		zap.Int("added", len(segs)),
		zap.Int("total", total))
	return &IngestResult{
		SessionID:  sess.ID(),
		SourceType: info.SourceType,
		SourceID:   info.SourceID,
		Added:      len(segs),
		Total:      total,
		Metadata:   info.Metadata,
	}
}

// withUpload writes r below a fresh directory inside the session's scratch
// space and runs fn on the file. The directory is removed on every path.
func (s *SessionService) withUpload(ctx context.Context, sess *session.Session, name string, r io.Reader, fn func(path string) error) error {
	dir, err := os.MkdirTemp(sess.ScratchDir(), "upload-")
	if err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	size, err := writeFile(path, r)
	if err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	if err := fn(path); err != nil {
		return err
	}
	s.archiveUpload(ctx, sess.ID(), name, path, size)
	return nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (s *SessionService) archiveUpload(ctx context.Context, sessionID, name, path string, size int64) {
	if s.archive == nil {
		return
	}
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sessionID), zap.String("file", name))
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("open upload for archive failed", zap.Error(err))
		return
	}
	defer f.Close()
	key := filestore.ArchiveKey(sessionID, name)
	if err := s.archive.Save(ctx, key, f, size); err != nil {
		logger.Warn("archive upload failed", zap.String("store", s.archive.Type()), zap.Error(err))
		return
	}
	logger.Debug("upload archived", zap.String("key", key))
}

func cleanFilename(name, fallback string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return fallback
	}
	return name
}

// sourceErr marks an adapter failure as SourceUnavailable while keeping the
// adapter's own condition matchable.
func sourceErr(err error) error {
	if err == nil || appErr.IsSourceUnavailable(err) {
		return err
	}
	return fmt.Errorf("%w: %w", appErr.ErrSourceUnavailable, err)
}
