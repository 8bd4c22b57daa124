package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/adsamcik/riposte-index/internal/dedupe"
)

// eventChannelBuffer is the per-listener event buffer. Slow SSE clients drop
// events instead of blocking the job.
const eventChannelBuffer = 100

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ScanJob tracks one async duplicate scan.
type ScanJob struct {
	EventBroadcaster

	ID          string             `json:"id"`
	Sensitivity int                `json:"sensitivity"`
	Status      JobStatus          `json:"status"`
	Hashed      int                `json:"hashed"`
	Total       int                `json:"total"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Result      *dedupe.ScanResult `json:"result,omitempty"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *ScanJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Cancel cancels the scan job.
func (j *ScanJob) Cancel() {
	j.EventBroadcaster.Cancel()
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
}

// setProgress records hash-phase progress under the job lock.
func (j *ScanJob) setProgress(p dedupe.Progress) {
	j.mu.Lock()
	j.Hashed = p.Hashed
	j.Total = p.Total
	j.mu.Unlock()
}

// finish transitions the job to a terminal state.
func (j *ScanJob) finish(status JobStatus, result *dedupe.ScanResult, errMsg string) {
	now := time.Now()
	j.mu.Lock()
	if j.Status != JobStatusCancelled {
		j.Status = status
	}
	j.Result = result
	j.Error = errMsg
	j.CompletedAt = &now
	j.mu.Unlock()
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, eventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// setCancel stores the job's cancel func. Must be called before the job
// goroutine is spawned so Cancel never races the assignment.
func (b *EventBroadcaster) setCancel(cancel context.CancelFunc) {
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	b.mu.RLock()
	cancel := b.cancel
	b.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async scan jobs. Only one non-terminal job may exist at
// a time; completed jobs stay retrievable until replaced.
type JobManager struct {
	jobs   map[string]*ScanJob
	active string
	mu     sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*ScanJob),
	}
}

// CreateJob registers a new scan job. Returns nil when another job is still
// running.
func (m *JobManager) CreateJob(id string, sensitivity int) *ScanJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current := m.jobs[m.active]; current != nil && !isJobTerminal(current.GetStatus()) {
		return nil
	}

	job := &ScanJob{
		ID:          id,
		Sensitivity: sensitivity,
		Status:      JobStatusPending,
		StartedAt:   time.Now(),
	}
	m.jobs[id] = job
	m.active = id
	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *ScanJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ActiveJob returns the most recently started job, terminal or not.
func (m *JobManager) ActiveJob() *ScanJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[m.active]
}
