package user

import "time"

// ImportBatch holds every record parsed from one uploaded source.
type ImportBatch struct {
	ID         string
	SourceName string
	Group      string
	CreatedAt  time.Time
	Records    []CandidateRecord
	// Locked is set once an import job has consumed the batch.
	Locked bool
}

// Record returns a pointer into Records for the given 1-based row index.
func (b *ImportBatch) Record(rowIndex int) (*CandidateRecord, error) {
	for i := range b.Records {
		if b.Records[i].RowIndex == rowIndex {
			return &b.Records[i], nil
		}
	}
	return nil, ErrRowNotFound
}

func (b *ImportBatch) Selected() []CandidateRecord {
	out := make([]CandidateRecord, 0, len(b.Records))
	for _, rec := range b.Records {
		if rec.Selected {
			out = append(out, rec.Clone())
		}
	}
	return out
}

type BatchSummary struct {
	Total    int                      `json:"total"`
	Selected int                      `json:"selected"`
	ByStatus map[ValidationStatus]int `json:"by_status"`
}

func (b *ImportBatch) Summary() BatchSummary {
	s := BatchSummary{Total: len(b.Records), ByStatus: make(map[ValidationStatus]int)}
	for _, rec := range b.Records {
		s.ByStatus[rec.Status]++
		if rec.Selected {
			s.Selected++
		}
	}
	return s
}
