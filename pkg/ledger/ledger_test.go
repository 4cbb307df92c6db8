package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(Config{Path: filepath.Join(t.TempDir(), "ledger.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_Lifecycle(t *testing.T) {
	l := openTest(t)
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	require.NoError(t, l.MarkStarted("run-1", "SHHS1", "200001", "/d/shhs1-200001.edf", "/d/shhs1-200001.xml"))
	rec, err := l.Get("SHHS1", "200001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StateStarted, rec.State)
	assert.Equal(t, uint32(1), rec.AttemptCount)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, uint64(clock.UnixMicro()), rec.StartedAt)

	done, err := l.Done("SHHS1", "200001")
	require.NoError(t, err)
	assert.False(t, done)

	clock = clock.Add(time.Minute)
	require.NoError(t, l.MarkDone("SHHS1", "200001", Completion{Sequences: 6, Epochs: 133, Bytes: 4096, Checksum: 0xabc}))
	rec, err = l.Get("SHHS1", "200001")
	require.NoError(t, err)
	assert.Equal(t, StateDone, rec.State)
	assert.Equal(t, uint32(6), rec.Sequences)
	assert.Equal(t, uint32(133), rec.Epochs)
	assert.Equal(t, uint64(0xabc), rec.Checksum)
	assert.Equal(t, uint64(clock.UnixMicro()), rec.FinishedAt)

	done, err = l.Done("SHHS1", "200001")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestLedger_FailureAndRetry(t *testing.T) {
	l := openTest(t)

	require.NoError(t, l.MarkStarted("run-1", "MESA", "0001", "", ""))
	require.NoError(t, l.MarkFailed("MESA", "0001", "resolve", errors.New("channel not found: lead \"E1\"")))

	rec, err := l.Get("MESA", "0001")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, "resolve", rec.FailureStage)
	assert.Contains(t, rec.FailureReason, "E1")

	// a retry clears the failure and counts the attempt
	require.NoError(t, l.MarkStarted("run-2", "MESA", "0001", "", ""))
	rec, err = l.Get("MESA", "0001")
	require.NoError(t, err)
	assert.Equal(t, StateStarted, rec.State)
	assert.Equal(t, uint32(2), rec.AttemptCount)
	assert.Empty(t, rec.FailureStage)
	assert.Empty(t, rec.FailureReason)
	assert.Equal(t, "run-2", rec.RunID)
}

func TestLedger_FinishWithoutStart(t *testing.T) {
	l := openTest(t)
	err := l.MarkDone("SHHS1", "nobody", Completion{})
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	require.NoError(t, l.MarkStarted("r", "SHHS1", "x", "", ""))
	require.NoError(t, l.MarkDone("SHHS1", "x", Completion{}))
	// DONE cannot be finished again
	assert.ErrorIs(t, l.MarkFailed("SHHS1", "x", "write", nil), ErrNotStarted)

	rec, err := l.Get("SHHS1", "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLedger_SubjectsAndCounts(t *testing.T) {
	l := openTest(t)
	for _, s := range []struct {
		dataset, subject string
		done             bool
	}{
		{"SHHS1", "b", true},
		{"SHHS1", "a", true},
		{"SHHS1", "c", false},
		{"SHHS10", "z", true},
	} {
		require.NoError(t, l.MarkStarted("r", s.dataset, s.subject, "", ""))
		if s.done {
			require.NoError(t, l.MarkDone(s.dataset, s.subject, Completion{}))
		} else {
			require.NoError(t, l.MarkFailed(s.dataset, s.subject, "align", errors.New("short")))
		}
	}

	done, err := l.Subjects("SHHS1", StateDone)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, done)

	all, err := l.Subjects("SHHS1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, all)

	counts, err := l.Counts("SHHS1")
	require.NoError(t, err)
	assert.Equal(t, map[uint8]int{StateDone: 2, StateFailed: 1}, counts)

	counts, err = l.Counts("SHHS10")
	require.NoError(t, err)
	assert.Equal(t, map[uint8]int{StateDone: 1}, counts)
}

func TestLedger_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, l.BeginRun("run-7"))
	require.NoError(t, l.MarkStarted("run-7", "CFS", "800002", "", ""))
	require.NoError(t, l.MarkDone("CFS", "800002", Completion{Sequences: 1}))
	require.NoError(t, l.Close())

	l, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer l.Close()

	id, err := l.LastRun()
	require.NoError(t, err)
	assert.Equal(t, "run-7", id)

	done, err := l.Done("CFS", "800002")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestLedger_Backup(t *testing.T) {
	l := openTest(t)
	require.NoError(t, l.MarkStarted("r", "HMC", "SN001", "", ""))

	backupPath := filepath.Join(t.TempDir(), "backup.db")
	f, err := os.Create(backupPath)
	require.NoError(t, err)
	n, err := l.Backup(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Positive(t, n)

	db, err := bolt.Open(backupPath, 0600, &bolt.Options{ReadOnly: true})
	require.NoError(t, err)
	defer db.Close()
	err = db.View(func(tx *bolt.Tx) error {
		rec := DecodeSubjectRecord(tx.Bucket(bucketSubjects).Get(Key("HMC", "SN001")))
		if rec == nil {
			return errors.New("record missing from backup")
		}
		assert.Equal(t, StateStarted, rec.State)
		return nil
	})
	require.NoError(t, err)
}

func TestRecord_EncodeDecode(t *testing.T) {
	assert.Nil(t, DecodeSubjectRecord(nil))
	assert.Nil(t, DecodeSubjectRecord([]byte("{not json")))

	dataset, subject := SplitKey(Key("SHHS1", "shhs1-200001"))
	assert.Equal(t, "SHHS1", dataset)
	assert.Equal(t, "shhs1-200001", subject)

	assert.Equal(t, "done", StateName(StateDone))
	assert.Equal(t, "unknown", StateName(9))
}
