// Package ledger records per-subject processing state for a dataset run.
//
// The ledger is a BoltDB file. It holds metadata only: which subjects were
// attempted, how they ended, and a digest of what was written. The sequence
// files themselves live under the output root.
//
// # Subject states
//
// Subjects move through these states:
//
//	STARTED  ---> DONE
//	   |
//	   +--------> FAILED
//
// STARTED is written before any output for the subject. DONE means every
// sequence file was renamed into place. FAILED carries the stage that failed
// and the error text. A FAILED or STARTED subject is retried by the next run;
// a DONE subject is skipped when the run resumes.
//
// # Keys
//
// Records live in the "subjects" bucket under "<dataset>/<subject>", so one
// ledger can serve several datasets and a dataset's subjects sort together.
package ledger
