package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/unijord/sleepseq/pkg/epoch"
	"github.com/unijord/sleepseq/pkg/npy"
)

const (
	seqDir   = "seq"
	labelDir = "label"
)

// SeqPath returns out_root/<ID>/seq/<id_lower>-<subject>-<idx>.npy.
func SeqPath(outRoot, datasetID, subject string, idx int) string {
	return filepath.Join(outRoot, datasetID, seqDir, fileName(datasetID, subject, idx))
}

// LabelPath returns out_root/<ID>/label/<id_lower>-<subject>-<idx>.npy.
func LabelPath(outRoot, datasetID, subject string, idx int) string {
	return filepath.Join(outRoot, datasetID, labelDir, fileName(datasetID, subject, idx))
}

func fileName(datasetID, subject string, idx int) string {
	return fmt.Sprintf("%s-%s-%d.npy", strings.ToLower(datasetID), subject, idx)
}

// subjectWriter writes the sequence files of one subject and digests every
// byte it writes.
type subjectWriter struct {
	outRoot string
	dataset string
	subject string

	digest *xxhash.Digest
	bytes  int64
	files  []string
}

func newSubjectWriter(outRoot, datasetID, subject string) (*subjectWriter, error) {
	for _, dir := range []string{seqDir, labelDir} {
		if err := os.MkdirAll(filepath.Join(outRoot, datasetID, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	return &subjectWriter{
		outRoot: outRoot,
		dataset: datasetID,
		subject: subject,
		digest:  xxhash.New(),
	}, nil
}

// Write stores one sequence as a paired signal and label file.
func (w *subjectWriter) Write(seq *epoch.Sequence) error {
	shape := seq.Shape()
	err := w.writeFile(SeqPath(w.outRoot, w.dataset, w.subject, seq.Index), func(dst io.Writer) error {
		return npy.WriteFloat32(dst, shape, seq.Signal())
	})
	if err != nil {
		return err
	}
	return w.writeFile(LabelPath(w.outRoot, w.dataset, w.subject, seq.Index), func(dst io.Writer) error {
		return npy.WriteInt64(dst, []int{shape[0]}, seq.Labels())
	})
}

// writeFile writes through a temp file in the target directory and renames
// it into place, so readers never see a partial file.
func (w *subjectWriter) writeFile(path string, fill func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	cw := &countingWriter{w: io.MultiWriter(tmp, w.digest)}
	if err = fill(cw); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	w.bytes += cw.n
	w.files = append(w.files, path)
	return nil
}

// Abort removes the files written so far.
func (w *subjectWriter) Abort() {
	for _, f := range w.files {
		os.Remove(f)
	}
	w.files = nil
}

func (w *subjectWriter) Bytes() int64 {
	return w.bytes
}

func (w *subjectWriter) Sum64() uint64 {
	return w.digest.Sum64()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
