package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingURL
	PhaseAwaitingResolution
	PhaseAwaitingBatchFile
	PhaseAwaitingBatchResolution
	PhaseDownloading
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingURL:
		return "awaiting_url"
	case PhaseAwaitingResolution:
		return "awaiting_resolution"
	case PhaseAwaitingBatchFile:
		return "awaiting_batch_file"
	case PhaseAwaitingBatchResolution:
		return "awaiting_batch_resolution"
	case PhaseDownloading:
		return "downloading"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

var (
	ErrSessionActive = errors.New("a download session is already active")
	ErrNoSession     = errors.New("no active session")
	ErrPhaseMismatch = errors.New("session is not waiting for this input")
)

// Session is a copy of a user's conversation state. Mutate it through
// Registry.Advance.
type Session struct {
	ID           string
	UserID       string
	ChannelID    string
	Phase        Phase
	URL          string
	Resolution   string
	BatchURLs    []string
	StartedAt    time.Time
	LastActivity time.Time
}

func (s *Session) clone() Session {
	c := *s
	if s.BatchURLs != nil {
		c.BatchURLs = append([]string(nil), s.BatchURLs...)
	}
	return c
}

type AdminFlowKind int

const (
	AdminAwaitingCookieFile AdminFlowKind = iota + 1
	AdminAwaitingBackupChoice
)

func (k AdminFlowKind) String() string {
	switch k {
	case AdminAwaitingCookieFile:
		return "awaiting_cookie_file"
	case AdminAwaitingBackupChoice:
		return "awaiting_backup_choice"
	}
	return "none"
}

// AdminFlow is a pending credential operation. Backups holds the names
// shown to the admin when a restore choice is pending.
type AdminFlow struct {
	Kind      AdminFlowKind
	ChannelID string
	Backups   []string
	StartedAt time.Time
}

// DownloadTask is an in-flight run. Cancellation is cooperative: Cancel only
// raises the flag and the downloader's poll loop does the teardown.
type DownloadTask struct {
	ID        string
	UserID    string
	StartedAt time.Time

	cancelled atomic.Bool
	mu        sync.Mutex
	kill      context.CancelFunc
}

func (t *DownloadTask) Cancel() {
	t.cancelled.Store(true)
}

func (t *DownloadTask) Cancelled() bool {
	return t.cancelled.Load()
}

func (t *DownloadTask) bindKill(fn context.CancelFunc) {
	t.mu.Lock()
	t.kill = fn
	t.mu.Unlock()
}

// Kill stops whatever process the task is currently bound to. Safe to call
// any number of times.
func (t *DownloadTask) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kill != nil {
		t.kill()
	}
}

type CancelResult struct {
	Session   bool
	Tasks     int
	AdminFlow bool
}

func (c CancelResult) Any() bool {
	return c.Session || c.Tasks > 0 || c.AdminFlow
}

type Stats struct {
	Sessions        int `json:"sessions"`
	ActiveDownloads int `json:"activeDownloads"`
	AdminFlows      int `json:"adminFlows"`
}

// Registry owns every user's Session, AdminFlow and DownloadTasks.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	tasks    map[string]*DownloadTask
	admin    map[string]*AdminFlow

	maxPerUser  int
	idleTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

func NewRegistry(maxPerUser int, idleTimeout time.Duration, log zerolog.Logger) *Registry {
	if maxPerUser < 1 {
		maxPerUser = 1
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		tasks:       make(map[string]*DownloadTask),
		admin:       make(map[string]*AdminFlow),
		maxPerUser:  maxPerUser,
		idleTimeout: idleTimeout,
		now:         time.Now,
		log:         log.With().Str("component", "session").Logger(),
	}
}

// Begin opens a session in phase. An existing session is left untouched and
// ErrSessionActive returned.
func (r *Registry) Begin(userID, channelID string, phase Phase) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[userID]; ok {
		return existing.clone(), ErrSessionActive
	}

	now := r.now()
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		ChannelID:    channelID,
		Phase:        phase,
		StartedAt:    now,
		LastActivity: now,
	}
	r.sessions[userID] = s
	r.log.Debug().Str("user", userID).Str("phase", phase.String()).Msg("Session started")
	return s.clone(), nil
}

func (r *Registry) Session(userID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Advance applies fn to the user's session when it is in phase from.
func (r *Registry) Advance(userID string, from Phase, fn func(*Session)) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		return Session{}, ErrNoSession
	}
	if s.Phase != from {
		return s.clone(), ErrPhaseMismatch
	}
	prev := s.Phase
	fn(s)
	s.LastActivity = r.now()
	if s.Phase != prev {
		r.log.Debug().Str("user", userID).Str("from", prev.String()).Str("to", s.Phase.String()).Msg("Session advanced")
	}
	return s.clone(), nil
}

// End removes the session if it is still the one identified by sessionID.
// A run that outlives a cancel therefore cannot remove a newer session.
func (r *Registry) End(userID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok || (sessionID != "" && s.ID != sessionID) {
		return false
	}
	delete(r.sessions, userID)
	r.log.Debug().Str("user", userID).Msg("Session ended")
	return true
}

func (r *Registry) StartTask(userID string) (*DownloadTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startTask(userID)
}

// StartSessionTask registers a task for the run owned by sessionID. A cancel
// that removed the session before this point makes it fail with
// KindCancelled, so the run never starts unflagged.
func (r *Registry) StartSessionTask(userID, sessionID string) (*DownloadTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[userID]; !ok || s.ID != sessionID {
		return nil, newError(KindCancelled, opRun, errors.New("session ended before the download started"))
	}
	return r.startTask(userID)
}

func (r *Registry) startTask(userID string) (*DownloadTask, error) {
	if r.countTasks(userID) >= r.maxPerUser {
		return nil, newError(KindBusy, opRun, fmt.Errorf("limit of %d concurrent downloads reached", r.maxPerUser))
	}

	now := r.now()
	id := fmt.Sprintf("%s_%d", userID, now.UnixNano())
	for n := 1; r.tasks[id] != nil; n++ {
		id = fmt.Sprintf("%s_%d_%d", userID, now.UnixNano(), n)
	}
	t := &DownloadTask{ID: id, UserID: userID, StartedAt: now}
	r.tasks[id] = t
	r.log.Info().Str("task", id).Str("user", userID).Msg("Download task registered")
	return t, nil
}

func (r *Registry) FinishTask(t *DownloadTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; ok {
		delete(r.tasks, t.ID)
		r.log.Info().Str("task", t.ID).Dur("elapsed", r.now().Sub(t.StartedAt)).Msg("Download task finished")
	}
}

func (r *Registry) ActiveTasks(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countTasks(userID)
}

func (r *Registry) countTasks(userID string) int {
	n := 0
	for _, t := range r.tasks {
		if t.UserID == userID {
			n++
		}
	}
	return n
}

// Cancel clears the user's session and admin flow and flags their running
// tasks.
func (r *Registry) Cancel(userID string) CancelResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res CancelResult
	if _, ok := r.sessions[userID]; ok {
		delete(r.sessions, userID)
		res.Session = true
	}
	if _, ok := r.admin[userID]; ok {
		delete(r.admin, userID)
		res.AdminFlow = true
	}
	res.Tasks = r.flagTasks(userID)

	if res.Any() {
		r.log.Info().Str("user", userID).Bool("session", res.Session).Int("tasks", res.Tasks).Bool("adminFlow", res.AdminFlow).Msg("Cancelled")
	}
	return res
}

// Stop flags the user's running tasks and leaves the session for the run to
// clean up.
func (r *Registry) Stop(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.flagTasks(userID)
	if n > 0 {
		r.log.Info().Str("user", userID).Int("tasks", n).Msg("Stop requested")
	}
	return n
}

func (r *Registry) flagTasks(userID string) int {
	n := 0
	for _, t := range r.tasks {
		if t.UserID == userID && !t.Cancelled() {
			t.Cancel()
			n++
		}
	}
	return n
}

func (r *Registry) SetAdminFlow(userID string, flow AdminFlow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if flow.StartedAt.IsZero() {
		flow.StartedAt = r.now()
	}
	flow.Backups = append([]string(nil), flow.Backups...)
	r.admin[userID] = &flow
}

func (r *Registry) AdminFlow(userID string) (AdminFlow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.admin[userID]
	if !ok {
		return AdminFlow{}, false
	}
	c := *f
	c.Backups = append([]string(nil), f.Backups...)
	return c, true
}

func (r *Registry) ClearAdminFlow(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.admin[userID]
	delete(r.admin, userID)
	return ok
}

// Sweep drops sessions and admin flows idle for longer than the idle
// timeout. Downloading sessions are never swept.
func (r *Registry) Sweep() int {
	if r.idleTimeout <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for userID, s := range r.sessions {
		if s.Phase == PhaseDownloading || now.Sub(s.LastActivity) <= r.idleTimeout {
			continue
		}
		delete(r.sessions, userID)
		removed++
		r.log.Info().Str("user", userID).Str("phase", s.Phase.String()).Msg("Session idle timeout")
	}
	for userID, f := range r.admin {
		if now.Sub(f.StartedAt) > r.idleTimeout {
			delete(r.admin, userID)
			removed++
			r.log.Info().Str("user", userID).Str("flow", f.Kind.String()).Msg("Admin flow idle timeout")
		}
	}
	return removed
}

func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Sessions:        len(r.sessions),
		ActiveDownloads: len(r.tasks),
		AdminFlows:      len(r.admin),
	}
}
