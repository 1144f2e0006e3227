package oplog

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacobrmount/Acrostic/pkg/kv"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) (*Log, *kv.MemoryStore, *atomic.Int64) {
	t.Helper()
	clock := &atomic.Int64{}
	clock.Store(time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC).UnixNano())
	store := kv.NewMemoryStore()
	l := New(store, WithClock(func() time.Time { return time.Unix(0, clock.Load()).UTC() }))
	return l, store, clock
}

func TestLog_LatestPerKind(t *testing.T) {
	ctx := context.Background()
	l, _, clock := newTestLog(t)

	require.NoError(t, l.Record(ctx, StoreToken, "T1", map[string]any{"name": "Work"}, nil))
	clock.Add(int64(time.Second))
	require.NoError(t, l.Record(ctx, UpdateToken, "T1", map[string]any{"name": "Work", "isActivated": false}, nil))
	clock.Add(int64(time.Second))
	require.NoError(t, l.Record(ctx, UpdateToken, "T1", map[string]any{"name": "Work", "isActivated": true}, nil))
	require.NoError(t, l.Record(ctx, StoreToken, "T2", map[string]any{"name": "Home"}, nil))

	entry, ok, err := l.Latest(ctx, "T1", UpdateToken)
	require.NoError(t, err)
	require.True(t, ok)
	var value map[string]any
	require.NoError(t, json.Unmarshal(entry.Value, &value))
	require.Equal(t, true, value["isActivated"])

	_, ok, err = l.Latest(ctx, "T1", DeleteToken)
	require.NoError(t, err)
	require.False(t, ok)

	history, err := l.History(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, StoreToken, history[0].Kind)
}

func TestLog_SameInstantKeepsBoth(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLog(t)

	require.NoError(t, l.Record(ctx, StoreCache, "file_list_cache_T1", nil, map[string]string{"type": "file_list_cache"}))
	require.NoError(t, l.Record(ctx, DeleteCache, "file_list_cache_T1", nil, nil))

	history, err := l.History(ctx, "file_list_cache_T1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "file_list_cache", history[0].Metadata["type"])
}

func TestLog_HistoryIgnoresLongerKeys(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLog(t)

	require.NoError(t, l.Record(ctx, StoreToken, "T1", nil, nil))
	require.NoError(t, l.Record(ctx, StoreToken, "T1:extra", nil, nil))

	history, err := l.History(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestLog_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLog(t)

	require.Error(t, l.Record(ctx, Kind("mint"), "T1", nil, nil))
	require.Error(t, l.Record(ctx, StoreToken, "", nil, nil))
}

func TestLog_Prune(t *testing.T) {
	ctx := context.Background()
	l, store, clock := newTestLog(t)

	require.NoError(t, l.Record(ctx, StoreToken, "T1", nil, nil))
	clock.Add(int64(48 * time.Hour))
	require.NoError(t, l.Record(ctx, UpdateToken, "T1", nil, nil))
	require.NoError(t, store.Set(ctx, "tx:T1:broken", []byte("{")))
	require.NoError(t, store.Set(ctx, "tokens", []byte("[]")))

	removed, err := l.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	history, err := l.History(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, UpdateToken, history[0].Kind)

	_, err = store.Get(ctx, "tokens")
	require.NoError(t, err)
}
