package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// we will store subject records in this bucket.
	bucketSubjects = []byte("subjects")
	// run bookkeeping
	bucketMeta = []byte("meta")

	keyLastRun = []byte("last_run")
)

// ErrNotStarted is returned when finishing a subject with no STARTED record.
var ErrNotStarted = errors.New("subject has no started record")

// Completion describes a successfully written subject.
type Completion struct {
	Sequences int
	Epochs    int
	Bytes     int64
	Checksum  uint64
}

// Ledger persists subject records in BoltDB. It is safe for concurrent use;
// BoltDB serializes writers.
type Ledger struct {
	db     *bolt.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Config holds Ledger configuration options.
type Config struct {
	Path   string
	Logger *slog.Logger
	// Timeout bounds the wait for the file lock held by another process.
	Timeout time.Duration
}

// Open opens or creates the ledger at cfg.Path.
func Open(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSubjects); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Ledger{
		db:     db,
		path:   cfg.Path,
		logger: cfg.Logger.With("component", "ledger"),
		now:    time.Now,
	}, nil
}

func (l *Ledger) micros() uint64 {
	return uint64(l.now().UnixMicro())
}

// BeginRun records runID as the most recent run.
func (l *Ledger) BeginRun(runID string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyLastRun, []byte(runID))
	})
}

// LastRun returns the ID recorded by the latest BeginRun, or "".
func (l *Ledger) LastRun() (string, error) {
	var id string
	err := l.db.View(func(tx *bolt.Tx) error {
		id = string(tx.Bucket(bucketMeta).Get(keyLastRun))
		return nil
	})
	return id, err
}

// MarkStarted moves a subject to STARTED and bumps its attempt count.
func (l *Ledger) MarkStarted(runID, dataset, subject, signalPath, annotationPath string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubjects)
		key := Key(dataset, subject)

		rec := DecodeSubjectRecord(b.Get(key))
		if rec == nil {
			rec = &SubjectRecord{Dataset: dataset, Subject: subject}
		}
		rec.State = StateStarted
		rec.RunID = runID
		rec.SignalPath = signalPath
		rec.AnnotationPath = annotationPath
		rec.StartedAt = l.micros()
		rec.FinishedAt = 0
		rec.AttemptCount++
		rec.FailureStage, rec.FailureReason = "", ""
		rec.Sequences, rec.Epochs, rec.Bytes, rec.Checksum = 0, 0, 0, 0

		return b.Put(key, rec.Encode())
	})
}

// MarkDone moves a STARTED subject to DONE.
func (l *Ledger) MarkDone(dataset, subject string, c Completion) error {
	err := l.update(dataset, subject, func(rec *SubjectRecord) {
		rec.State = StateDone
		rec.Sequences = uint32(c.Sequences)
		rec.Epochs = uint32(c.Epochs)
		rec.Bytes = uint64(c.Bytes)
		rec.Checksum = c.Checksum
	})
	if err == nil {
		l.logger.Debug("subject done",
			slog.String("dataset", dataset),
			slog.String("subject", subject),
			slog.Int("sequences", c.Sequences))
	}
	return err
}

// MarkFailed moves a STARTED subject to FAILED with the failing stage.
func (l *Ledger) MarkFailed(dataset, subject, stage string, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return l.update(dataset, subject, func(rec *SubjectRecord) {
		rec.State = StateFailed
		rec.FailureStage = stage
		rec.FailureReason = reason
	})
}

func (l *Ledger) update(dataset, subject string, fn func(rec *SubjectRecord)) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubjects)
		key := Key(dataset, subject)
		rec := DecodeSubjectRecord(b.Get(key))
		if rec == nil || rec.State != StateStarted {
			return fmt.Errorf("%w: %s/%s", ErrNotStarted, dataset, subject)
		}
		fn(rec)
		rec.FinishedAt = l.micros()
		return b.Put(key, rec.Encode())
	})
}

// Get retrieves a subject record, or nil when none exists.
func (l *Ledger) Get(dataset, subject string) (*SubjectRecord, error) {
	var record *SubjectRecord

	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSubjects).Get(Key(dataset, subject))
		if data == nil {
			return nil
		}
		record = DecodeSubjectRecord(data)
		return nil
	})

	return record, err
}

// Done reports whether the subject finished in an earlier run.
func (l *Ledger) Done(dataset, subject string) (bool, error) {
	rec, err := l.Get(dataset, subject)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.State == StateDone, nil
}

// Subjects returns the subjects of dataset in the given state, sorted. A zero
// state matches every record.
func (l *Ledger) Subjects(dataset string, state uint8) ([]string, error) {
	var subjects []string

	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSubjects).Cursor()
		prefix := datasetPrefix(dataset)

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			record := DecodeSubjectRecord(v)
			if record == nil {
				continue
			}
			if state == 0 || record.State == state {
				_, subject := SplitKey(k)
				subjects = append(subjects, subject)
			}
		}
		return nil
	})

	return subjects, err
}

// Counts tallies the records of dataset by state.
func (l *Ledger) Counts(dataset string) (map[uint8]int, error) {
	counts := make(map[uint8]int)

	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSubjects).Cursor()
		prefix := datasetPrefix(dataset)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if record := DecodeSubjectRecord(v); record != nil {
				counts[record.State]++
			}
		}
		return nil
	})

	return counts, err
}

// Backup writes a consistent copy of the whole database to w.
func (l *Ledger) Backup(w io.Writer) (int64, error) {
	var n int64
	err := l.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	if err != nil {
		return n, fmt.Errorf("write backup: %w", err)
	}
	return n, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the underlying BoltDB.
func (l *Ledger) Close() error {
	return l.db.Close()
}
