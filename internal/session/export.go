package session

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/stratabuild/strata/internal/scheduler"
)

// MultiReporter fans out every workunit event to each of its members, so a
// console renderer and an NDJSON exporter can observe the same stream
// independently (§3 "workunit metadata export").
type MultiReporter struct {
	reporters []scheduler.Reporter
}

// NewMultiReporter returns a Reporter that forwards every event to each of rs.
func NewMultiReporter(rs ...scheduler.Reporter) *MultiReporter {
	return &MultiReporter{reporters: rs}
}

// Started implements scheduler.Reporter.
func (m *MultiReporter) Started(wu scheduler.WorkUnit) {
	for _, r := range m.reporters {
		r.Started(wu)
	}
}

// Completed implements scheduler.Reporter.
func (m *MultiReporter) Completed(wu scheduler.WorkUnit) {
	for _, r := range m.reporters {
		r.Completed(wu)
	}
}

// Failed implements scheduler.Reporter.
func (m *MultiReporter) Failed(wu scheduler.WorkUnit) {
	for _, r := range m.reporters {
		r.Failed(wu)
	}
}

// ndjsonRecord is one line of a --workunit-log file.
type ndjsonRecord struct {
	Event     string `json:"event"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
	Err       string `json:"err,omitempty"`
}

// NDJSONExporter writes every workunit event as one newline-delimited JSON
// record to a file, independent of whatever console renderer is active.
type NDJSONExporter struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewNDJSONExporter opens path for writing, creating it if necessary and
// truncating any existing content.
func NewNDJSONExporter(path string) (*NDJSONExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &NDJSONExporter{f: f, enc: json.NewEncoder(f)}, nil
}

func (e *NDJSONExporter) write(rec ndjsonRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(rec)
}

// Started implements scheduler.Reporter.
func (e *NDJSONExporter) Started(wu scheduler.WorkUnit) {
	e.write(ndjsonRecord{Event: "started", ID: wu.ID, Name: wu.Name, StartedAt: wu.StartedAt.Format(rfc3339)})
}

// Completed implements scheduler.Reporter.
func (e *NDJSONExporter) Completed(wu scheduler.WorkUnit) {
	e.write(ndjsonRecord{
		Event: "completed", ID: wu.ID, Name: wu.Name,
		StartedAt: wu.StartedAt.Format(rfc3339), EndedAt: wu.EndedAt.Format(rfc3339),
	})
}

// Failed implements scheduler.Reporter.
func (e *NDJSONExporter) Failed(wu scheduler.WorkUnit) {
	rec := ndjsonRecord{
		Event: "failed", ID: wu.ID, Name: wu.Name,
		StartedAt: wu.StartedAt.Format(rfc3339), EndedAt: wu.EndedAt.Format(rfc3339),
	}
	if wu.Err != nil {
		rec.Err = wu.Err.Error()
	}
	e.write(rec)
}

// Close closes the underlying file.
func (e *NDJSONExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.f.Close()
}

const rfc3339 = "2006-01-02T15:04:05.000Z07:00"
