// CLAUDE:SUMMARY JSONL history export: one entry per line, oldest first, callers pseudonymised per export
// Package export writes the audit history as JSONL for offline analysis.
package export

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hazyhaar/horosrand/internal/history"
)

const Version = "1.0"

// ErrNoSalt is returned when the pseudonym salt cannot be drawn. Nothing has
// been written when it is returned.
var ErrNoSalt = errors.New("export: reading pseudonym salt")

// Record is one exported history entry.
type Record struct {
	SequenceID     uint64  `json:"sequence_id"`
	Value          uint64  `json:"value,string"`
	Timestamp      int64   `json:"timestamp"`
	Caller         *string `json:"caller,omitempty"` // pseudonymised
	ExecutionRound uint64  `json:"execution_round"`
	Version        uint64  `json:"version"`
	ResourceCost   uint64  `json:"resource_cost"`
}

// Header is the first JSONL line of an export.
type Header struct {
	ExportedAt    string                  `json:"exported_at"`
	ExportVersion string                  `json:"export_version"`
	Entries       int                     `json:"entries"`
	Integrity     history.IntegrityStatus `json:"integrity"`
}

// Source is the read side of the random service used by the exporter.
type Source interface {
	History() []history.Entry
}

// Exporter produces JSONL exports of the history.
type Exporter struct {
	src  Source
	now  func() time.Time
	rand io.Reader
}

func NewExporter(src Source) *Exporter {
	return &Exporter{src: src, now: time.Now, rand: rand.Reader}
}

// WriteJSONL writes a header line followed by one line per entry, oldest
// first. When raw is false, callers are replaced with stable per-export
// pseudonyms.
func (e *Exporter) WriteJSONL(w io.Writer, raw bool) (int, error) {
	var anon *anonMap
	if !raw {
		var err error
		if anon, err = newAnonMap(e.rand); err != nil {
			return 0, err
		}
	}

	entries := e.src.History()

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	hdr := Header{
		ExportedAt:    e.now().UTC().Format(time.RFC3339),
		ExportVersion: Version,
		Entries:       len(entries),
		Integrity:     history.Verify(entries),
	}
	if err := enc.Encode(hdr); err != nil {
		return 0, fmt.Errorf("writing export header: %w", err)
	}

	n := 0
	for i := len(entries) - 1; i >= 0; i-- {
		ent := entries[i]
		rec := Record{
			SequenceID:     ent.SequenceID,
			Value:          ent.Value,
			Timestamp:      ent.Timestamp,
			ExecutionRound: ent.CallContext.ExecutionRound,
			Version:        ent.CallContext.Version,
			ResourceCost:   ent.CallContext.ResourceCost,
		}
		if c := ent.CallContext.Caller; c != nil {
			id := *c
			if !raw {
				id = anon.get(id)
			}
			rec.Caller = &id
		}
		if err := enc.Encode(rec); err != nil {
			return n, fmt.Errorf("writing entry %d: %w", ent.SequenceID, err)
		}
		n++
	}
	return n, nil
}

// anonMap maps real callers to salted stable pseudonyms within one export.
type anonMap struct {
	mapping map[string]string
	salt    string
}

func newAnonMap(r io.Reader) (*anonMap, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSalt, err)
	}
	return &anonMap{
		mapping: make(map[string]string),
		salt:    hex.EncodeToString(salt),
	}, nil
}

func (m *anonMap) get(realID string) string {
	if anon, ok := m.mapping[realID]; ok {
		return anon
	}
	hash := sha256.Sum256([]byte(m.salt + realID))
	anon := "anon_" + hex.EncodeToString(hash[:6])
	m.mapping[realID] = anon
	return anon
}
