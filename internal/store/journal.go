package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/wal"
)

// Journal is a master's on-disk delta log. Each broadcast batch is
// appended at its sequence number, so a restarted master resumes
// numbering where it left off and can replay recent batches to
// late-joining clones.
type Journal struct {
	log *wal.Log
}

// OpenJournal opens (or creates) the journal at path and reports the
// last recorded sequence number.
func OpenJournal(path string) (*Journal, uint64, error) {
	log, err := wal.Open(path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("open journal: %w", err)
	}
	last, err := log.LastIndex()
	if err != nil {
		log.Close()
		return nil, 0, fmt.Errorf("journal last index: %w", err)
	}
	return &Journal{log: log}, last, nil
}

// Append records the delta batch broadcast at seq. Sequence numbers
// are contiguous; the wal enforces that.
func (j *Journal) Append(seq uint64, deltas []Delta) error {
	raw, err := cbor.Marshal(deltas)
	if err != nil {
		return fmt.Errorf("encode journal batch: %w", err)
	}
	if err := j.log.Write(seq, raw); err != nil {
		return fmt.Errorf("journal write seq %d: %w", seq, err)
	}
	return nil
}

// Batch reads back the delta batch recorded at seq.
func (j *Journal) Batch(seq uint64) ([]Delta, error) {
	raw, err := j.log.Read(seq)
	if err != nil {
		return nil, fmt.Errorf("journal read seq %d: %w", seq, err)
	}
	var deltas []Delta
	if err := cbor.Unmarshal(raw, &deltas); err != nil {
		return nil, fmt.Errorf("decode journal batch: %w", err)
	}
	return deltas, nil
}

// FirstSeq returns the oldest retained sequence number.
func (j *Journal) FirstSeq() (uint64, error) {
	return j.log.FirstIndex()
}

// TruncateBefore drops batches older than seq, typically after a
// snapshot made them redundant.
func (j *Journal) TruncateBefore(seq uint64) error {
	return j.log.TruncateFront(seq)
}

func (j *Journal) Close() error {
	return j.log.Close()
}
