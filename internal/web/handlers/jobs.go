package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/faceid"
	"github.com/kozaktomas/rollcall/internal/pipeline"
)

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
	ch := make(chan JobEvent, constants.EventChannelBuffer)
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

// EmbedJobInfo is the JSON view of an EmbedJob.
type EmbedJobInfo struct {
	ID          string                `json:"id"`
	Scope       string                `json:"scope"`
	Variant     faceid.Variant        `json:"model_variant"`
	Regenerate  bool                  `json:"regenerate"`
	Status      JobStatus             `json:"status"`
	Processed   int                   `json:"processed"`
	Total       int                   `json:"total"`
	Error       string                `json:"error,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Result      *pipeline.EmbedReport `json:"result,omitempty"`
}

// EmbedJob is an asynchronous EmbedScope run.
type EmbedJob struct {
	EventBroadcaster
	info EmbedJobInfo
}

// GetStatus returns the current job status.
func (j *EmbedJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.info.Status
}

// Info returns a copy safe to encode while the job runs.
func (j *EmbedJob) Info() EmbedJobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.info
}

// Cancel cancels the job via context and sends a cancelled event.
func (j *EmbedJob) Cancel() {
	j.mu.Lock()
	if j.cancel != nil {
		j.cancel()
	}
	terminal := isJobTerminal(j.info.Status)
	if !terminal {
		j.info.Status = JobStatusCancelled
	}
	j.mu.Unlock()
	if !terminal {
		j.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
	}
}

func (j *EmbedJob) start(cancel context.CancelFunc) {
	j.mu.Lock()
	j.cancel = cancel
	if j.info.Status == JobStatusPending {
		j.info.Status = JobStatusRunning
	}
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "started", Message: "Embedding job started"})
}

func (j *EmbedJob) setProgress(done, total int) {
	j.mu.Lock()
	j.info.Processed, j.info.Total = done, total
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "progress", Data: map[string]int{"processed": done, "total": total}})
}

// finish records the outcome. A cancelled job keeps its status.
func (j *EmbedJob) finish(report *pipeline.EmbedReport, err error) {
	now := time.Now()
	j.mu.Lock()
	j.info.CompletedAt = &now
	event := JobEvent{Type: "completed", Data: report}
	switch {
	case j.info.Status == JobStatusCancelled:
		event = JobEvent{Type: "cancelled", Message: "Job cancelled by user", Data: report}
		j.info.Result = report
	case err != nil:
		j.info.Status = JobStatusFailed
		j.info.Error = err.Error()
		event = JobEvent{Type: "job_error", Message: j.info.Error}
	default:
		j.info.Status = JobStatusCompleted
		j.info.Result = report
	}
	j.mu.Unlock()
	j.SendEvent(event)
}

// JobManager manages async jobs.
type JobManager struct {
	jobs map[string]*EmbedJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*EmbedJob),
	}
}

// CreateJob registers a new pending embed job and drops finished jobs older than
// constants.JobRetention.
func (m *JobManager) CreateJob(id, scope string, variant faceid.Variant, regenerate bool) *EmbedJob {
	job := &EmbedJob{info: EmbedJobInfo{
		ID:         id,
		Scope:      scope,
		Variant:    variant,
		Regenerate: regenerate,
		Status:     JobStatusPending,
		StartedAt:  time.Now(),
	}}

	m.mu.Lock()
	defer m.mu.Unlock()
	for jobID, j := range m.jobs {
		info := j.Info()
		if info.CompletedAt != nil && time.Since(*info.CompletedAt) > constants.JobRetention {
			delete(m.jobs, jobID)
		}
	}
	m.jobs[id] = job
	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *EmbedJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs, newest first.
func (m *JobManager) ListJobs() []EmbedJobInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]EmbedJobInfo, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.Info())
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].StartedAt.After(jobs[b].StartedAt)
	})
	return jobs
}
