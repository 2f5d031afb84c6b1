// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers thread creation races, snapshot isolation, and atomic commits

package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateThread_CreatesOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	id := uuid.New().String()

	thread, created, err := s.GetOrCreateThread(ctx, id)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, id, thread.ID)
	assert.Equal(t, int64(0), thread.TurnSeq)

	again, created, err := s.GetOrCreateThread(ctx, id)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, thread.ID, again.ID)
}

func TestGetOrCreateThread_ConcurrentSameID(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	id := uuid.New().String()
	const workers = 10

	var mu sync.Mutex
	createdCount := 0

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.GetOrCreateThread(ctx, id)
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount, "exactly one caller should create the thread")
}

func TestGetThread_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetThread(t.Context(), "unknown-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadSnapshot_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReadSnapshot(t.Context(), "unknown-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadSnapshot_EmptyThread(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	id := uuid.New().String()
	_, _, err := s.GetOrCreateThread(ctx, id)
	require.NoError(t, err)

	snap, err := s.ReadSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, snap.Messages)
	assert.Nil(t, snap.Itinerary)
	assert.Nil(t, snap.Profile)
	assert.Equal(t, int64(0), snap.TurnSeq)
}

func TestCommitTurn_AppendsMessagesWithContiguousSeqs(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	id := uuid.New().String()
	_, _, err := s.GetOrCreateThread(ctx, id)
	require.NoError(t, err)

	err = s.CommitTurn(ctx, &TurnCommit{
		ThreadID: id,
		TurnID:   uuid.New().String(),
		Messages: []MessageDraft{
			{Role: RoleUser, Content: "Plan a trip to Kyoto"},
			{Role: RoleAgent, Content: "Here is a three day plan."},
		},
	})
	require.NoError(t, err)

	err = s.CommitTurn(ctx, &TurnCommit{
		ThreadID: id,
		TurnID:   uuid.New().String(),
		Messages: []MessageDraft{
			{Role: RoleUser, Content: "Add a day in Nara"},
			{Role: RoleAgent, Content: "Done, four days now."},
		},
	})
	require.NoError(t, err)

	snap, err := s.ReadSnapshot(ctx, id)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, int64(2), snap.TurnSeq)

	for i, msg := range snap.Messages {
		assert.Equal(t, int64(i+1), msg.Seq, "sequence numbers must be gap-free")
	}
	assert.Equal(t, RoleUser, snap.Messages[0].Role)
	assert.Equal(t, RoleAgent, snap.Messages[3].Role)
}

func TestCommitTurn_ReplacesBlobs(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	id := uuid.New().String()
	_, _, err := s.GetOrCreateThread(ctx, id)
	require.NoError(t, err)

	itinerary := &Itinerary{Version: 1, Data: json.RawMessage(`{"destination":"Kyoto","days":3}`)}
	profile := json.RawMessage(`{"home_airport":"SFO"}`)

	err = s.CommitTurn(ctx, &TurnCommit{
		ThreadID:  id,
		TurnID:    uuid.New().String(),
		Messages:  []MessageDraft{{Role: RoleUser, Content: "hi"}},
		Itinerary: itinerary,
		Profile:   profile,
	})
	require.NoError(t, err)

	snap, err := s.ReadSnapshot(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, snap.Itinerary)
	assert.Equal(t, 1, snap.Itinerary.Version)
	assert.JSONEq(t, `{"destination":"Kyoto","days":3}`, string(snap.Itinerary.Data))
	assert.JSONEq(t, `{"home_airport":"SFO"}`, string(snap.Profile))

	// A commit without blobs leaves the existing ones in place
	err = s.CommitTurn(ctx, &TurnCommit{
		ThreadID: id,
		TurnID:   uuid.New().String(),
		Messages: []MessageDraft{{Role: RoleUser, Content: "again"}},
	})
	require.NoError(t, err)

	snap, err = s.ReadSnapshot(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, snap.Itinerary)
	assert.Equal(t, 1, snap.Itinerary.Version)
}

func TestCommitTurn_UnknownThread(t *testing.T) {
	s := newTestStore(t)

	err := s.CommitTurn(t.Context(), &TurnCommit{
		ThreadID: "unknown-id",
		TurnID:   uuid.New().String(),
		Messages: []MessageDraft{{Role: RoleUser, Content: "x"}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitTurn_RecordsUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	id := uuid.New().String()
	_, _, err := s.GetOrCreateThread(ctx, id)
	require.NoError(t, err)

	turnID := uuid.New().String()
	err = s.CommitTurn(ctx, &TurnCommit{
		ThreadID: id,
		TurnID:   turnID,
		Messages: []MessageDraft{{Role: RoleUser, Content: "hi"}},
		Usage:    &TokenUsage{InputTokens: 12, OutputTokens: 48},
	})
	require.NoError(t, err)

	usages, err := s.GetThreadUsage(ctx, id)
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Equal(t, turnID, usages[0].TurnID)
	assert.Equal(t, int64(12), usages[0].InputTokens)
	assert.Equal(t, int64(48), usages[0].OutputTokens)
}

func TestCommitTurn_ConcurrentDistinctThreads(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	const threads = 8
	ids := make([]string, threads)
	for i := range ids {
		ids[i] = uuid.New().String()
		_, _, err := s.GetOrCreateThread(ctx, ids[i])
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CommitTurn(ctx, &TurnCommit{
				ThreadID: id,
				TurnID:   uuid.New().String(),
				Messages: []MessageDraft{
					{Role: RoleUser, Content: fmt.Sprintf("message %d", i)},
					{Role: RoleAgent, Content: "reply"},
				},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, id := range ids {
		snap, err := s.ReadSnapshot(ctx, id)
		require.NoError(t, err)
		require.Len(t, snap.Messages, 2)
		assert.Equal(t, int64(1), snap.Messages[0].Seq)
		assert.Equal(t, int64(2), snap.Messages[1].Seq)
	}
}

func TestMemoryStore_SharedAcrossConcurrentConnections(t *testing.T) {
	// database/sql hands each pooled connection its own database when the
	// DSN is a plain :memory:. Without pinning the pool to one connection,
	// a second connection sees no schema and reads fail with
	// "no such table: threads". Hammer the store from many goroutines so
	// the pool would open extra connections if it were allowed to.
	s := newTestStore(t)
	ctx := t.Context()

	const workers = 16
	const iterations = 10

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New().String()
			_, _, err := s.GetOrCreateThread(ctx, id)
			if !assert.NoError(t, err, "worker %d create", w) {
				return
			}
			for i := range iterations {
				err := s.CommitTurn(ctx, &TurnCommit{
					ThreadID: id,
					TurnID:   uuid.New().String(),
					Messages: []MessageDraft{
						{Role: RoleUser, Content: fmt.Sprintf("message %d", i)},
						{Role: RoleAgent, Content: "reply"},
					},
				})
				if !assert.NoError(t, err, "worker %d commit %d", w, i) {
					return
				}
				snap, err := s.ReadSnapshot(ctx, id)
				if !assert.NoError(t, err, "worker %d read %d", w, i) {
					return
				}
				assert.Len(t, snap.Messages, 2*(i+1))
			}
		}()
	}
	wg.Wait()
}

func TestListThreads(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for range 3 {
		_, _, err := s.GetOrCreateThread(ctx, uuid.New().String())
		require.NoError(t, err)
	}

	threads, err := s.ListThreads(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, threads, 3)

	threads, err = s.ListThreads(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, threads, 2)
}
