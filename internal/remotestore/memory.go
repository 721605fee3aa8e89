package remotestore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/phillip-england/nutrisurvey/internal/report"
	"github.com/phillip-england/nutrisurvey/internal/survey"
)

// Op names a store call for failure injection and call recording.
type Op string

const (
	OpFetch    Op = "fetch"
	OpInsert   Op = "insert"
	OpUpdate   Op = "update"
	OpProgress Op = "progress"
	OpUpload   Op = "upload"
	OpDelete   Op = "delete"
)

// Memory is an in-process store with the same semantics as the HTTP API.
// Records are kept in their serialized form.
type Memory struct {
	mu       sync.Mutex
	baseURL  string
	surveys  map[string]survey.Row
	subjects map[string]survey.Subject
	blobs    map[string][]byte
	failures map[Op]error
	calls    []Op
	nextID   int64
}

func NewMemory() *Memory {
	return &Memory{
		baseURL:  "memory://" + survey.Bucket,
		surveys:  map[string]survey.Row{},
		subjects: map[string]survey.Subject{},
		blobs:    map[string][]byte{},
		failures: map[Op]error{},
	}
}

// SetBaseURL changes the prefix of photo URLs handed out by UploadPhoto.
// Pair it with ServeHTTP so a browser can load them.
func (m *Memory) SetBaseURL(base string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseURL = strings.TrimRight(base, "/")
}

// ServeHTTP serves the blob named by the last path segment.
func (m *Memory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, ok := m.Blob(survey.ObjectNameFromURL(r.URL.EscapedPath()))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if r.Method == http.MethodGet {
		_, _ = w.Write(data)
	}
}

// FailOn makes every later call of op return err until cleared with a nil err.
func (m *Memory) FailOn(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *Memory) Calls() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Op(nil), m.calls...)
}

func (m *Memory) AddSubject(subject survey.Subject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[subject.ID] = subject
}

func (m *Memory) Subject(id string) (survey.Subject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	return s, ok
}

// PutRow stores a raw row, bypassing encoding.
func (m *Memory) PutRow(row survey.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.surveys[row.ElderlyID] = row
}

func (m *Memory) Row(subjectID string) (survey.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.surveys[subjectID]
	return row, ok
}

func (m *Memory) SurveyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.surveys)
}

func (m *Memory) Blob(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[name]
	return data, ok
}

func (m *Memory) BlobNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Memory) begin(op Op) error {
	m.calls = append(m.calls, op)
	return m.failures[op]
}

func (m *Memory) FetchSurvey(_ context.Context, subjectID string) (survey.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpFetch); err != nil {
		return survey.Record{}, false, err
	}
	row, ok := m.surveys[subjectID]
	if !ok {
		return survey.Record{}, false, nil
	}
	record, _ := survey.DecodeRecord(row)
	return record, true, nil
}

func (m *Memory) ListSurveys(context.Context) ([]survey.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]survey.Row, 0, len(m.surveys))
	for _, row := range m.surveys {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ElderlyID < rows[j].ElderlyID })
	return rows, nil
}

func (m *Memory) InsertSurvey(_ context.Context, record survey.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpInsert); err != nil {
		return err
	}
	if _, ok := m.surveys[record.SubjectID]; ok {
		return fmt.Errorf("%w: survey for %s", ErrConflict, record.SubjectID)
	}
	m.nextID++
	row := survey.EncodeRecord(record)
	row.ID = m.nextID
	m.surveys[record.SubjectID] = row
	return nil
}

func (m *Memory) UpdateSurvey(_ context.Context, record survey.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpUpdate); err != nil {
		return err
	}
	existing, ok := m.surveys[record.SubjectID]
	if !ok {
		return fmt.Errorf("%w: survey for %s", ErrNotFound, record.SubjectID)
	}
	row := survey.EncodeRecord(record)
	row.ID = existing.ID
	m.surveys[record.SubjectID] = row
	return nil
}

func (m *Memory) MarkSurveyCompleted(_ context.Context, subjectID, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpProgress); err != nil {
		return err
	}
	subject, ok := m.subjects[subjectID]
	if !ok {
		return nil
	}
	subject.Completed = true
	subject.LastUpdated = updatedAt
	m.subjects[subjectID] = subject
	return nil
}

func (m *Memory) UploadPhoto(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpUpload); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("uploaded file is empty")
	}
	m.blobs[name] = append([]byte(nil), data...)
	return m.baseURL + "/" + url.PathEscape(name), nil
}

func (m *Memory) DeletePhoto(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpDelete); err != nil {
		return err
	}
	if _, ok := m.blobs[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.blobs, name)
	return nil
}

func (m *Memory) ListSubjects(context.Context) ([]survey.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]survey.Subject, 0, len(m.subjects))
	for _, s := range m.subjects {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

func (m *Memory) Report(_ context.Context, subjectID string) ([]byte, error) {
	m.mu.Lock()
	row, ok := m.surveys[subjectID]
	subject := m.subjects[subjectID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: survey for %s", ErrNotFound, subjectID)
	}
	record, _ := survey.DecodeRecord(row)
	return report.Build(subject, record)
}
