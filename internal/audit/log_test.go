package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xela07ax/a2a-guard/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func event(turn string, stage domain.Stage) domain.SafetyEvent {
	return domain.SafetyEvent{
		TurnID:   turn,
		Stage:    stage,
		Verdict:  domain.VerdictAllow,
		Category: domain.CategoryNone,
		Detail:   "ok",
	}
}

func TestAppendAssignsSequence(t *testing.T) {
	l := NewLog(nil, zap.NewNop())

	a := l.Append(event("t1", domain.StagePre))
	b := l.Append(event("t1", domain.StagePost))

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	assert.False(t, a.Timestamp.IsZero())
	assert.Len(t, l.ForTurn("t1"), 2)
	assert.Len(t, l.Since(1), 1)
	assert.Empty(t, l.Since(5))
}

// В памяти живет только хвост, нумерация при этом сквозная.
func TestRetentionKeepsTail(t *testing.T) {
	l := NewLog(nil, zap.NewNop(), WithRetention(3))
	for i := 1; i <= 7; i++ {
		l.Append(event(fmt.Sprintf("t%d", i), domain.StagePre))
	}

	entries := l.Entries()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, uint64(5+i), e.Seq)
	}

	assert.Empty(t, l.ForTurn("t1"))
	assert.Len(t, l.ForTurn("t7"), 1)

	// Since за пределами хвоста отдает то, что осталось
	assert.Len(t, l.Since(0), 3)
	since := l.Since(5)
	require.Len(t, since, 2)
	assert.Equal(t, uint64(6), since[0].Seq)
	assert.Empty(t, l.Since(7))
}

func TestEntriesReturnsCopy(t *testing.T) {
	l := NewLog(nil, zap.NewNop())
	l.Append(event("t1", domain.StagePre))

	got := l.Entries()
	got[0].Detail = "tampered"
	assert.Equal(t, "ok", l.Entries()[0].Detail)
}

func TestConcurrentAppendsAreSerialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	f, err := OpenFile(path)
	require.NoError(t, err)

	l := NewLog(f, zap.NewNop())

	const workers, perWorker = 32, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				l.Append(event(fmt.Sprintf("w%d-%d", w, i), domain.StagePre))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, l.Close())
	require.NoError(t, f.Close())

	entries := l.Entries()
	require.Len(t, entries, workers*perWorker)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
	}

	// Файл: каждая строка — целый JSON, seq строго возрастает
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	var prev uint64
	lines := 0
	for sc.Scan() {
		var line struct {
			Seq     uint64 `json:"seq"`
			Stage   string `json:"stage"`
			Verdict string `json:"verdict"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		assert.Greater(t, line.Seq, prev)
		assert.Equal(t, "PRE", line.Stage)
		prev = line.Seq
		lines++
	}
	assert.Equal(t, workers*perWorker, lines)
}

type failingSyncer struct{}

func (failingSyncer) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (failingSyncer) Sync() error               { return nil }

func TestSinkFailureKeepsEntry(t *testing.T) {
	var sinkErrs int
	l := NewLog(zapcore.AddSync(failingSyncer{}), zap.NewNop(), WithSinkErrorHook(func(error) { sinkErrs++ }))

	e := l.Append(event("t1", domain.StagePre))
	assert.Equal(t, uint64(1), e.Seq)
	assert.Len(t, l.Entries(), 1)
	assert.Equal(t, 1, sinkErrs)
}

func TestClockOption(t *testing.T) {
	fixed := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	l := NewLog(nil, zap.NewNop(), WithClock(func() time.Time { return fixed }))
	assert.Equal(t, fixed, l.Append(event("t", domain.StagePre)).Timestamp)
}

type memStorage struct {
	mu      sync.Mutex
	entries []Entry
	batches int
}

func (m *memStorage) WriteBatch(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	m.batches++
	return nil
}

func (m *memStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestReplicatorDrainsOnStop(t *testing.T) {
	store := &memStorage{}
	r := NewReplicator(store, ReplicatorConfig{BufferSize: 100, BatchSize: 10, FlushInterval: time.Hour}, zap.NewNop())
	r.Start()

	l := NewLog(nil, zap.NewNop(), WithReplica(r))
	for i := 0; i < 25; i++ {
		l.Append(event(fmt.Sprintf("t%d", i), domain.StagePre))
	}
	require.NoError(t, l.Close())

	assert.Equal(t, 25, store.count())
	assert.GreaterOrEqual(t, store.batches, 3)

	// После остановки Submit не паникует
	r.Submit(Entry{Seq: 99})
	r.Stop()
}

func TestReplicatorShedsLoad(t *testing.T) {
	store := &memStorage{}
	r := NewReplicator(store, ReplicatorConfig{BufferSize: 2, BatchSize: 100, FlushInterval: time.Hour}, zap.NewNop())
	var dropped int
	r.OnDrop(func() { dropped++ })

	// Воркер не запущен: буфер заполняется, лишнее сбрасывается
	for i := 0; i < 5; i++ {
		r.Submit(Entry{Seq: uint64(i + 1)})
	}
	assert.Equal(t, 3, dropped)

	r.Start()
	r.Stop()
	assert.Equal(t, 2, store.count())
}
