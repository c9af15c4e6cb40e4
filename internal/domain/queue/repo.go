package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// SnapshotRepository persists the whole queue snapshot as one document.
// Load returns (nil, nil) when nothing has been stored yet. Errors wrap
// ErrStorage.
type SnapshotRepository interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s *Snapshot) error
}

// DefaultSnapshotKey names the stored document.
const DefaultSnapshotKey = "smartslot_queue"

func encodeSnapshot(s *Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: encode snapshot: %v", ErrStorage, err)
	}
	return data, nil
}

// decodeSnapshot parses a stored document. Timestamps are RFC 3339 strings
// and come back as time.Time values.
func decodeSnapshot(data []byte) (*Snapshot, error) {
	s := &Snapshot{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot: %v", ErrStorage, err)
	}
	if s.Patients == nil {
		s.Patients = []Patient{}
	}
	return s, nil
}
