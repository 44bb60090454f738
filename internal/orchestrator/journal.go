package orchestrator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/archivore/mirror/pkg/types"
)

// Journal is the append-only manifest.partial.jsonl writer: one line per
// (url, profile) capture record. Torn writes are tolerated — the reducer
// that builds the final manifest skips invalid lines.
type Journal struct {
	mu   sync.Mutex
	file *os.File
}

// OpenJournal creates or truncates path and returns a Journal appending to
// it.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Journal{file: f}, nil
}

// Append writes one capture record as a single JSON line, flushing
// immediately so a mid-run crash loses at most the in-flight write.
func (j *Journal) Append(rec types.CaptureRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending journal line: %w", err)
	}
	return j.file.Sync()
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	return j.file.Close()
}

// ReduceJournal reads path line by line, skips lines that fail to parse,
// and returns the deduped (last writer wins per "url:profile" key), sorted
// set of capture records — the authoritative source when a run is stopped
// mid-flight.
func ReduceJournal(path string) ([]types.CaptureRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	byKey := make(map[string]types.CaptureRecord)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.CaptureRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		byKey[rec.Key()] = rec
	}

	records := make([]types.CaptureRecord, 0, len(byKey))
	for _, rec := range byKey {
		records = append(records, rec)
	}
	sortRecords(records)
	return records, nil
}

func sortRecords(records []types.CaptureRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].URL != records[j].URL {
			return records[i].URL < records[j].URL
		}
		return records[i].Profile < records[j].Profile
	})
}
