// Package task runs the document-ingest workflow as resumable background
// tasks. Each task is one JSON file on disk, rewritten atomically at every
// progress checkpoint, so a crashed or restarted server can pick the work
// back up from the last checkpoint instead of starting over.
package task

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joffreyzhang/kurangame/internal/imagegen"
)

// State is the persisted lifecycle state of a task.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"

	// StateInterrupted is a derived view, never persisted: a processing task
	// whose record has not been touched within the staleness threshold.
	StateInterrupted State = "interrupted"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Progress checkpoints of the ingest workflow. Each is a resume point.
const (
	progressInit              = 10
	progressExtractionStarted = 30
	progressExtractionDone    = 70
	progressSourceUploaded    = 75
	progressImagesUploaded    = 80
	progressWorldUploaded     = 85
	progressMetadataFetched   = 90
	progressRecordCreated     = 95
	progressUserLinked        = 98
	progressDone              = 100
)

// Defaults for staleness and retention.
const (
	// DefaultStaleness is how long a processing task may go without a
	// checkpoint before it is reported as interrupted.
	DefaultStaleness = 30 * time.Minute

	// DefaultFailedRetention is how long failed task records are kept.
	DefaultFailedRetention = 2 * time.Hour

	// DefaultCompletedRetention is how long completed task records are kept.
	DefaultCompletedRetention = 24 * time.Hour
)

// Sentinel errors.
var (
	// ErrTaskNotFound is returned when no record exists for the id.
	ErrTaskNotFound = errors.New("task: not found")

	// ErrNotResumable is returned by Resume for tasks that are neither
	// interrupted nor failed.
	ErrNotResumable = errors.New("task: not resumable")
)

// Options selects optional workflow behavior, persisted with the record.
type Options struct {
	// SkipImages skips the image-pipeline checkpoint entirely.
	SkipImages bool `json:"skipImages,omitempty"`

	// Images selects the asset groups when images are generated. The zero
	// value is replaced by a full run.
	Images imagegen.Options `json:"images"`
}

// Result is the payload of a completed task.
type Result struct {
	FileID      string `json:"fileId"`
	Title       string `json:"title"`
	Description string `json:"description"`

	// SourceURL is where the original upload was stored.
	SourceURL string `json:"sourceUrl,omitempty"`

	// ImageErrors lists per-asset image failures; the world is still
	// playable without them.
	ImageErrors []string `json:"imageErrors,omitempty"`
}

// Record is the whole persisted task. FileDataBase64 carries the source
// document until the task completes, so a resumed task can re-run any step.
type Record struct {
	TaskID    string    `json:"taskId"`
	UserID    string    `json:"userId"`
	State     State     `json:"state"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Options   Options   `json:"options"`

	FileName       string `json:"fileName,omitempty"`
	FileDataBase64 string `json:"fileDataBase64,omitempty"`

	// FileID is set once extraction completes (the 70% checkpoint) and
	// identifies the generated world template.
	FileID string `json:"fileId,omitempty"`

	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// fileData decodes the stored source document.
func (r *Record) fileData() ([]byte, error) {
	if r.FileDataBase64 == "" {
		return nil, fmt.Errorf("task %s: source document no longer stored", r.TaskID)
	}
	data, err := base64.StdEncoding.DecodeString(r.FileDataBase64)
	if err != nil {
		return nil, fmt.Errorf("task %s: decode source document: %w", r.TaskID, err)
	}
	return data, nil
}

// TaskList is the categorized view returned by ListTasksByUser.
type TaskList struct {
	Processing  []*Record `json:"processing"`
	Completed   []*Record `json:"completed"`
	Failed      []*Record `json:"failed"`
	Interrupted []*Record `json:"interrupted"`
}

// Manager owns the task store and runs workflows. Safe for concurrent use.
type Manager struct {
	dir      string
	workflow *Workflow
	log      *slog.Logger

	staleness          time.Duration
	failedRetention    time.Duration
	completedRetention time.Duration
	now                func() time.Time

	mu      sync.Mutex
	tasks   map[string]*Record
	running map[string]struct{}
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithStaleness overrides the interrupted-detection threshold.
func WithStaleness(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.staleness = d
		}
	}
}

// WithRetention overrides the failed and completed retention windows.
func WithRetention(failed, completed time.Duration) ManagerOption {
	return func(m *Manager) {
		if failed > 0 {
			m.failedRetention = failed
		}
		if completed > 0 {
			m.completedRetention = completed
		}
	}
}

// withClock overrides time for tests.
func withClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager storing task records under dir.
func NewManager(dir string, wf *Workflow, log *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("task: create task dir: %w", err)
	}
	m := &Manager{
		dir:                dir,
		workflow:           wf,
		log:                log.With("component", "task"),
		staleness:          DefaultStaleness,
		failedRetention:    DefaultFailedRetention,
		completedRetention: DefaultCompletedRetention,
		now:                time.Now,
		tasks:              make(map[string]*Record),
		running:            make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create registers a new task and starts its workflow in the background.
func (m *Manager) Create(ctx context.Context, userID, fileName string, data []byte, opts Options) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("task: empty source document")
	}
	now := m.now().UTC()
	rec := &Record{
		TaskID:         uuid.NewString(),
		UserID:         userID,
		State:          StatePending,
		Progress:       0,
		Message:        "queued",
		CreatedAt:      now,
		UpdatedAt:      now,
		Options:        opts,
		FileName:       fileName,
		FileDataBase64: base64.StdEncoding.EncodeToString(data),
	}

	m.mu.Lock()
	m.tasks[rec.TaskID] = rec
	err := m.save(rec)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	go m.run(ctx, rec.TaskID)
	return rec.TaskID, nil
}

// Get returns the current record, applying the interrupted view.
func (m *Manager) Get(taskID string) (*Record, error) {
	m.mu.Lock()
	rec := m.tasks[taskID]
	m.mu.Unlock()
	if rec == nil {
		loaded, err := m.load(taskID)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if existing := m.tasks[taskID]; existing != nil {
			rec = existing
		} else {
			m.tasks[taskID] = loaded
			rec = loaded
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view(rec), nil
}

// Resume restarts an interrupted or failed task from its last checkpoint.
func (m *Manager) Resume(ctx context.Context, taskID string) error {
	rec, err := m.Get(taskID)
	if err != nil {
		return err
	}
	if rec.State != StateInterrupted && rec.State != StateFailed {
		return fmt.Errorf("task %s in state %s: %w", taskID, rec.State, ErrNotResumable)
	}

	m.mu.Lock()
	if _, busy := m.running[taskID]; busy {
		m.mu.Unlock()
		return fmt.Errorf("task %s still has a live worker: %w", taskID, ErrNotResumable)
	}
	live := m.tasks[taskID]
	live.State = StateProcessing
	live.Error = ""
	live.UpdatedAt = m.now().UTC()
	err = m.save(live)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	go m.run(ctx, taskID)
	return nil
}

// ListByUser returns the user's tasks grouped by effective state.
func (m *Manager) ListByUser(userID string) (*TaskList, error) {
	if err := m.loadAll(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	list := &TaskList{
		Processing:  []*Record{},
		Completed:   []*Record{},
		Failed:      []*Record{},
		Interrupted: []*Record{},
	}
	for _, rec := range m.tasks {
		if rec.UserID != userID {
			continue
		}
		v := m.view(rec)
		switch v.State {
		case StatePending, StateProcessing:
			list.Processing = append(list.Processing, v)
		case StateCompleted:
			list.Completed = append(list.Completed, v)
		case StateFailed:
			list.Failed = append(list.Failed, v)
		case StateInterrupted:
			list.Interrupted = append(list.Interrupted, v)
		}
	}
	return list, nil
}

// view returns a defensive copy with the interrupted state applied. A task
// with a live worker in this process is never interrupted, no matter how old
// its last checkpoint is. Must be called with m.mu held.
func (m *Manager) view(rec *Record) *Record {
	out := *rec
	_, busy := m.running[rec.TaskID]
	if out.State == StateProcessing && !busy && m.now().UTC().Sub(out.UpdatedAt) > m.staleness {
		out.State = StateInterrupted
	}
	if rec.Result != nil {
		res := *rec.Result
		out.Result = &res
	}
	return &out
}

// ── persistence ──

func (m *Manager) path(taskID string) string {
	return filepath.Join(m.dir, taskID+".json")
}

// save rewrites the record file atomically. Must be called with m.mu held.
func (m *Manager) save(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("task: encode %s: %w", rec.TaskID, err)
	}
	path := m.path(rec.TaskID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("task: write %s: %w", rec.TaskID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("task: finalize %s: %w", rec.TaskID, err)
	}
	return nil
}

func (m *Manager) load(taskID string) (*Record, error) {
	data, err := os.ReadFile(m.path(taskID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("task: read %s: %w", taskID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("task: decode %s: %w", taskID, err)
	}
	return &rec, nil
}

// loadAll brings every record on disk into memory. In-memory records win;
// they are at least as fresh.
func (m *Manager) loadAll() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("task: scan task dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		taskID := strings.TrimSuffix(name, ".json")
		m.mu.Lock()
		_, known := m.tasks[taskID]
		m.mu.Unlock()
		if known {
			continue
		}
		rec, err := m.load(taskID)
		if err != nil {
			m.log.Warn("skipping unreadable task record", "task", taskID, "error", err)
			continue
		}
		m.mu.Lock()
		if _, raced := m.tasks[taskID]; !raced {
			m.tasks[taskID] = rec
		}
		m.mu.Unlock()
	}
	return nil
}

// delete removes a record from memory and disk.
func (m *Manager) delete(taskID string) {
	m.mu.Lock()
	delete(m.tasks, taskID)
	m.mu.Unlock()
	if err := os.Remove(m.path(taskID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warn("task record not removed", "task", taskID, "error", err)
	}
}

// CleanupExpired deletes terminal records past their retention window.
// Returns the number removed.
func (m *Manager) CleanupExpired() int {
	if err := m.loadAll(); err != nil {
		m.log.Warn("cleanup scan failed", "error", err)
		return 0
	}

	m.mu.Lock()
	now := m.now().UTC()
	var expired []string
	for id, rec := range m.tasks {
		var retention time.Duration
		switch rec.State {
		case StateFailed:
			retention = m.failedRetention
		case StateCompleted:
			retention = m.completedRetention
		default:
			continue
		}
		if now.Sub(rec.UpdatedAt) > retention {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.delete(id)
	}
	if len(expired) > 0 {
		m.log.Info("expired task records removed", "count", len(expired))
	}
	return len(expired)
}
