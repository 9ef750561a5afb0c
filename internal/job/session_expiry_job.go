package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/studyrag/internal/index"
	"github.com/xxxsen/studyrag/internal/session"
)

const SessionExpiryJobName = "session_expiry"

// SessionExpiryJob deletes sessions idle for longer than maxIdle together
// with their vector collections.
type SessionExpiryJob struct {
	sessions *session.Store
	builder  *index.Builder
	maxIdle  time.Duration
}

func NewSessionExpiryJob(sessions *session.Store, builder *index.Builder, maxIdle time.Duration) *SessionExpiryJob {
	return &SessionExpiryJob{sessions: sessions, builder: builder, maxIdle: maxIdle}
}

func (j *SessionExpiryJob) Name() string {
	return SessionExpiryJobName
}

func (j *SessionExpiryJob) Run(ctx context.Context) error {
	if j.sessions == nil || j.maxIdle <= 0 {
		return nil
	}
	expired := j.sessions.DeleteIdle(ctx, j.maxIdle)
	if len(expired) == 0 {
		return nil
	}
	logger := logutil.GetLogger(ctx)
	for _, id := range expired {
		if j.builder == nil {
			continue
		}
		if err := j.builder.Drop(ctx, id); err != nil {
			logger.Warn("drop expired index failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	logger.Info("expired idle sessions", zap.Int("count", len(expired)), zap.Int("remaining", j.sessions.Len()))
	return nil
}
