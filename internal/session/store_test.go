package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

func textSegs(t *testing.T, source string, n int) []model.Segment {
	t.Helper()
	out := make([]model.Segment, 0, n)
	for i := 0; i < n; i++ {
		seg, err := model.NewTextSegment(source, fmt.Sprintf("%s-%d", source, i), i)
		require.NoError(t, err)
		out = append(out, seg)
	}
	return out
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := store.Create(ctx)
	require.NoError(t, err)
	sess, err := store.Get(id)
	require.NoError(t, err)
	require.Equal(t, id, sess.ID())
	require.Empty(t, sess.Segments())
	require.Nil(t, sess.Index())
	_, err = os.Stat(sess.ScratchDir())
	require.NoError(t, err)

	ok, err := store.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = os.Stat(sess.ScratchDir())
	require.True(t, os.IsNotExist(err))

	_, err = store.Get(id)
	require.True(t, errors.Is(err, appErr.ErrSessionNotFound))

	ok, err = store.Delete(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSessionsAreIsolated(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	a, _ := store.Create(ctx)
	b, _ := store.Create(ctx)
	require.NotEqual(t, a, b)

	sa, _ := store.Get(a)
	sa.AppendSegments(model.SourceInfo{SourceType: model.SourceTypeText, SourceID: "a"}, textSegs(t, "a", 3))

	sb, _ := store.Get(b)
	require.Zero(t, sb.SegmentCount())
	require.Len(t, sa.Segments(), 3)
}

func TestConcurrentAppendIsLossless(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	id, _ := store.Create(context.Background())
	sess, _ := store.Get(id)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			segs := textSegs(t, fmt.Sprintf("src%d", w), 25)
			sess.AppendSegments(model.SourceInfo{SourceType: model.SourceTypeText, SourceID: fmt.Sprintf("src%d", w)}, segs)
		}(w)
	}
	wg.Wait()
	require.Equal(t, 200, sess.SegmentCount())
	require.Len(t, sess.Status().Sources, 8)
}

func TestSegmentsReturnsCopy(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	id, _ := store.Create(context.Background())
	sess, _ := store.Get(id)
	sess.AppendSegments(model.SourceInfo{SourceType: model.SourceTypeText, SourceID: "x"}, textSegs(t, "x", 2))

	snap := sess.Segments()
	snap[0].Text = "mutated"
	require.Equal(t, "x-0", sess.Segments()[0].Text)
}

func TestSetQuizClearsAnswers(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	id, _ := store.Create(context.Background())
	sess, _ := store.Get(id)

	sess.SetQuiz(&model.Quiz{Questions: []model.QuizQuestion{{Num: 1}}})
	sess.SetAnswers(model.QuizAnswers{1: "a"})
	sess.SetResult(&model.QuizResult{Score: 1})
	require.NotNil(t, sess.Result())

	sess.SetQuiz(&model.Quiz{})
	require.Nil(t, sess.Answers())
	require.Nil(t, sess.Result())
}

func TestDeleteIdle(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	old, _ := store.Create(ctx)
	now = now.Add(2 * time.Hour)
	fresh, _ := store.Create(ctx)

	removed := store.DeleteIdle(ctx, time.Hour)
	require.Equal(t, []string{old}, removed)
	require.False(t, store.Exists(old))
	require.True(t, store.Exists(fresh))
	require.Nil(t, store.DeleteIdle(ctx, 0))
}
