package bonsai

import (
	"github.com/cespare/xxhash/v2"
	"github.com/oarkflow/json"

	"github.com/oarkflow/bonsai/cht"
)

// LabelStats describes the label store's shape.
type LabelStats struct {
	Size      uint64  `json:"size"`
	CapaSize  uint64  `json:"capa_size"`
	ChunkSize uint32  `json:"chunk_size"`
	MaxLength uint64  `json:"max_length"`
	AveLength float64 `json:"ave_length"`
}

// Stats is a point-in-time snapshot of a map's shape.
type Stats struct {
	ID     string     `json:"id"`
	Keys   uint64     `json:"keys"`
	Nodes  uint64     `json:"nodes"`
	Lambda uint64     `json:"lambda"`
	Trie   cht.Stats  `json:"trie"`
	Labels LabelStats `json:"labels"`
}

// Stats returns the map's current statistics.
func (m *Map[V]) Stats() Stats {
	return Stats{
		ID:     m.ID,
		Keys:   m.labels.Size(),
		Nodes:  m.trie.Size(),
		Lambda: m.lambda,
		Trie:   m.trie.Stats(),
		Labels: LabelStats{
			Size:      m.labels.Size(),
			CapaSize:  m.labels.CapaSize(),
			ChunkSize: m.labels.ChunkSize(),
			MaxLength: m.labels.MaxLength(),
			AveLength: m.labels.AveLength(),
		},
	}
}

// JSON marshals the snapshot.
func (s Stats) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// Checksum fingerprints the snapshot for change detection.
func (s Stats) Checksum() (uint64, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(payload), nil
}
