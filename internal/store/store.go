// Package store is the durable keyed store of report records. It owns all
// persistence: an in-memory map backed by a JSON snapshot file, plus a
// derived reporter-to-report-ids index rebuilt from the primary map on load.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"reportline/internal/domain"
)

const snapshotName = "reports.json"

// Store holds every report in memory and writes the full snapshot through
// on each Put. Reads are safe from any goroutine; writes are expected to be
// serialized by the orchestrator's host loop.
type Store struct {
	path string

	mu         sync.RWMutex
	reports    map[string]domain.Report
	byReporter map[string][]string
}

// Path returns the snapshot path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".reportline", snapshotName)
}

// Open loads the snapshot at path into a new Store. A missing snapshot file
// is not an error; the store starts empty.
func Open(path string) (*Store, error) {
	s := &Store{
		path:       path,
		reports:    make(map[string]domain.Report),
		byReporter: make(map[string][]string),
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the snapshot, merges it into memory and rebuilds the reporter
// index by scanning every loaded report.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	var records map[string]record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range records {
		rec.ID = id
		s.reports[id] = rec.toReport()
	}
	s.rebuildIndexLocked()
	return nil
}

// rebuildIndexLocked derives the reporter index from the primary map alone.
// The index never holds an id twice and never references a missing report.
func (s *Store) rebuildIndexLocked() {
	s.byReporter = make(map[string][]string)
	for id, r := range s.reports {
		s.byReporter[r.Reporter.ID] = append(s.byReporter[r.Reporter.ID], id)
	}
}

// Put upserts a report and appends it to the reporter index if it is not
// indexed yet, then persists the full snapshot. The in-memory mutation is
// kept even when persisting fails; the error is returned for logging and
// the write is retried on the next mutation.
func (s *Store) Put(r domain.Report) error {
	s.mu.Lock()
	s.reports[r.ID] = r
	ids := s.byReporter[r.Reporter.ID]
	indexed := false
	for _, id := range ids {
		if id == r.ID {
			indexed = true
			break
		}
	}
	if !indexed {
		s.byReporter[r.Reporter.ID] = append(ids, r.ID)
	}
	s.mu.Unlock()

	return s.Persist()
}

// Get returns the report with the given id.
func (s *Store) Get(id string) (domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return domain.Report{}, domain.ErrNotFound
	}
	return r, nil
}

// ListByReporter returns the reporter's reports ordered by creation time,
// newest first.
func (s *Store) ListByReporter(reporterID string) []domain.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byReporter[reporterID]
	res := make([]domain.Report, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.reports[id]; ok {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res
}

// All returns every report, ordered by creation time, newest first.
func (s *Store) All() []domain.Report {
	s.mu.RLock()
	res := make([]domain.Report, 0, len(s.reports))
	for _, r := range s.reports {
		res = append(res, r)
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res
}

// CountByStatus maps every status to its report count, scoped to one
// reporter when reporterID is non-empty, global otherwise.
func (s *Store) CountByStatus(reporterID string) map[domain.Status]int {
	counts := make(map[domain.Status]int, 3)
	for _, st := range domain.Statuses() {
		counts[st] = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if reporterID == "" {
		for _, r := range s.reports {
			counts[r.Status]++
		}
		return counts
	}
	for _, id := range s.byReporter[reporterID] {
		if r, ok := s.reports[id]; ok {
			counts[r.Status]++
		}
	}
	return counts
}

// Len returns the number of stored reports.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

// Persist writes the full snapshot to disk. The write goes to a temp file
// first and is renamed into place so a crash never truncates the snapshot.
func (s *Store) Persist() error {
	s.mu.RLock()
	records := make(map[string]record, len(s.reports))
	for id, r := range s.reports {
		records[id] = toRecord(r)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// record is the persisted form of a report. Optional fields are omitted
// when absent so a round trip never invents values.
type record struct {
	ID                 string `json:"id"`
	ReporterID         string `json:"reporterId"`
	ReporterName       string `json:"reporterName"`
	ViolatorName       string `json:"violatorName"`
	ViolatorID         string `json:"violatorId,omitempty"`
	Reason             string `json:"reason"`
	Comment            string `json:"comment"`
	CreatedAt          int64  `json:"createdAt"`
	Status             string `json:"status"`
	AdminComment       string `json:"adminComment,omitempty"`
	ReviewedBy         string `json:"reviewedBy,omitempty"`
	ReviewedByRemoteID string `json:"reviewedByRemoteId,omitempty"`
	ReviewedAt         int64  `json:"reviewedAt,omitempty"`
}

func toRecord(r domain.Report) record {
	rec := record{
		ID:                 r.ID,
		ReporterID:         r.Reporter.ID,
		ReporterName:       r.Reporter.Name,
		ViolatorName:       r.ViolatorName,
		ViolatorID:         r.ViolatorID,
		Reason:             r.Reason,
		Comment:            r.Comment,
		CreatedAt:          r.CreatedAt.UnixMilli(),
		Status:             string(r.Status),
		AdminComment:       r.AdminComment,
		ReviewedBy:         r.ReviewedBy,
		ReviewedByRemoteID: r.ReviewedByRemoteID,
	}
	if !r.ReviewedAt.IsZero() {
		rec.ReviewedAt = r.ReviewedAt.UnixMilli()
	}
	return rec
}

// toReport reconstructs a report from its persisted form, setting creation
// timestamp and status explicitly. An unrecognized status string is a
// recoverable data error: it is logged and defaults to pending.
func (rec record) toReport() domain.Report {
	status, ok := domain.ParseStatus(rec.Status)
	if !ok {
		log.Printf("store: report %s has unknown status %q, defaulting to pending", rec.ID, rec.Status)
	}
	r := domain.Report{
		ID:                 rec.ID,
		Reporter:           domain.Identity{ID: rec.ReporterID, Name: rec.ReporterName},
		ViolatorName:       rec.ViolatorName,
		ViolatorID:         rec.ViolatorID,
		Reason:             rec.Reason,
		Comment:            rec.Comment,
		CreatedAt:          unixMilli(rec.CreatedAt),
		Status:             status,
		AdminComment:       rec.AdminComment,
		ReviewedBy:         rec.ReviewedBy,
		ReviewedByRemoteID: rec.ReviewedByRemoteID,
	}
	if rec.ReviewedAt != 0 {
		r.ReviewedAt = unixMilli(rec.ReviewedAt)
	}
	return r
}

func unixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
