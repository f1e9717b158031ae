package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedules.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := Record{
		ScheduleID:     "sched-1",
		PluginID:       "plugin-a",
		HandlerFile:    "index.js",
		HandlerExport:  "run",
		CronOrInterval: "5m",
		Input:          []byte(`{"x":1}`),
		MinIntervalMs:  1000,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.Save(ctx, rec))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ScheduleID, list[0].ScheduleID)
	assert.Equal(t, rec.CronOrInterval, list[0].CronOrInterval)
	assert.JSONEq(t, `{"x":1}`, string(list[0].Input))
}

func TestSaveUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := Record{ScheduleID: "sched-1", PluginID: "plugin-a", HandlerFile: "a.js", HandlerExport: "run", CronOrInterval: "5m", CreatedAt: time.Now()}
	require.NoError(t, s.Save(ctx, rec))
	rec.CronOrInterval = "10m"
	require.NoError(t, s.Save(ctx, rec))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "10m", list[0].CronOrInterval)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := Record{ScheduleID: "sched-1", PluginID: "plugin-a", HandlerFile: "a.js", HandlerExport: "run", CronOrInterval: "5m", CreatedAt: time.Now()}
	require.NoError(t, s.Save(ctx, rec))
	require.NoError(t, s.Delete(ctx, "sched-1"))
	require.NoError(t, s.Delete(ctx, "sched-1"))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
