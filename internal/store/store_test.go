package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ttgrab/ttgrab/internal/retriever"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.CreateUser(ctx, 42, "en", "ads"))
	u, ok, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "en", u.Lang)
	require.Equal(t, "ads", u.Ref)
	require.False(t, u.FileMode)

	// Re-registration is a no-op, not an error.
	require.NoError(t, s.CreateUser(ctx, 42, "ru", ""))
	u, _, err = s.GetUser(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "en", u.Lang)

	require.NoError(t, s.SetLang(ctx, 42, "ru"))
	require.NoError(t, s.SetFileMode(ctx, 42, true))
	u, _, err = s.GetUser(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "ru", u.Lang)
	require.True(t, u.FileMode)
}

func TestBotStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, 1, "en", ""))
	require.NoError(t, s.CreateUser(ctx, 2, "ru", ""))
	require.NoError(t, s.AddDownload(ctx, 1, "https://vm.tiktok.com/x", retriever.KindVideo))
	require.NoError(t, s.AddDownload(ctx, 2, "https://vm.tiktok.com/y", retriever.KindSlideshow))
	require.NoError(t, s.AddDownload(ctx, 2, "https://vm.tiktok.com/z", retriever.KindMusic))

	st, err := s.BotStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, st.Users)
	require.EqualValues(t, 3, st.Downloads)
	require.EqualValues(t, 2, st.Users24h)
	require.EqualValues(t, 3, st.Downloads24h)
}

func TestRecordOutcome(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordOutcome(ctx, retriever.Event{
		UserID:      42,
		CanonicalID: "7345",
		Status:      retriever.StatusFailed,
		Stage:       retriever.StageProbe,
		Kind:        retriever.ErrBlocked,
		Duration:    1500 * time.Millisecond,
	}))

	var status, stage, kind string
	var durationMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT status, stage, error_kind, duration_ms FROM outcomes WHERE user_id = 42`,
	).Scan(&status, &stage, &kind, &durationMS)
	require.NoError(t, err)
	require.Equal(t, "failed", status)
	require.Equal(t, "probe", stage)
	require.Equal(t, "blocked", kind)
	require.EqualValues(t, 1500, durationMS)
}

func TestConsumeDrainsEvents(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan retriever.Event, 2)
	events <- retriever.Event{UserID: 1, Status: retriever.StatusSuccess, Stage: retriever.StageDownload}
	events <- retriever.Event{UserID: 2, Status: retriever.StatusCancelled, Stage: retriever.StageAdmit}
	close(events)

	s.Consume(ctx, events)

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outcomes`).Scan(&n))
	require.Equal(t, 2, n)
}
