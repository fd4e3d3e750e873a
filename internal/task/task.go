// Package task runs analysis requests asynchronously: a bounded worker
// pool drains a submission queue while a single goroutine owns the
// in-process ledger. Durable task history and analysis rows live in the
// store; the ledger answers status queries without touching the database.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seenimoa/stockwatch/internal/analysis"
	"github.com/seenimoa/stockwatch/internal/store"
)

// Task states. A task moves running -> completed | failed, never back.
const (
	StatusRunning   = store.TaskRunning
	StatusCompleted = store.TaskCompleted
	StatusFailed    = store.TaskFailed
)

// Errors returned by Submit and the query methods.
var (
	ErrQueueFull = errors.New("task: submission queue full")
	ErrStopped   = errors.New("task: service stopped")
	ErrNotFound  = errors.New("task: not found")
)

const queueDepth = 64

// Info is one ledger entry as seen by callers.
type Info struct {
	ID            string    `json:"task_id"`
	Code          string    `json:"code"`
	ReportType    string    `json:"report_type,omitempty"`
	Source        string    `json:"source,omitempty"`
	SourceMessage string    `json:"source_message,omitempty"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Runner is the slice of the analysis pipeline the workers need. The task
// id is passed through as the query id so history rows stay joinable to
// their task.
type Runner interface {
	ProcessQuery(ctx context.Context, queryID, code string, singleNotify bool) *analysis.AnalysisResult
}

// Ledger is the durable side of the task service.
type Ledger interface {
	InsertTask(ctx context.Context, t *store.TaskRecord) error
	UpdateTaskStatus(ctx context.Context, id, status, errMsg string) error
	GetAnalysisHistory(ctx context.Context, f store.HistoryFilter) ([]store.AnalysisRecord, error)
}

type ledgerUpdate struct {
	info Info
}

// Service is the singleton task front. Submit is non-blocking; workers
// pick jobs up in order.
type Service struct {
	runner  Runner
	durable Ledger

	jobs    chan Info
	updates chan ledgerUpdate

	mu    sync.RWMutex
	tasks map[string]Info
	order []string // insertion order, oldest first

	subMu sync.Mutex
	subs  map[chan Info]struct{}

	// stopMu makes the stopped-check plus queue send in Submit atomic
	// against Stop closing the jobs channel; without it a Submit racing
	// Stop can send on a closed channel.
	stopMu    sync.RWMutex
	stopOnce  sync.Once
	stopped   chan struct{}
	workersWg sync.WaitGroup
	ledgerWg  sync.WaitGroup
}

// New starts a service with the given worker count. durable may be nil.
func New(runner Runner, durable Ledger, workers int) *Service {
	if workers <= 0 {
		workers = 3
	}
	s := &Service{
		runner:  runner,
		durable: durable,
		jobs:    make(chan Info, queueDepth),
		updates: make(chan ledgerUpdate, queueDepth),
		tasks:   make(map[string]Info),
		subs:    make(map[chan Info]struct{}),
		stopped: make(chan struct{}),
	}
	s.ledgerWg.Add(1)
	go s.ledgerLoop()
	for i := 0; i < workers; i++ {
		s.workersWg.Add(1)
		go s.worker()
	}
	return s
}

// newID builds the conventional task id: code plus a microsecond timestamp.
func newID(code string) string {
	return fmt.Sprintf("%s_%s", code, time.Now().Format("20060102150405.000000"))
}

// Submit queues one analysis and returns its ledger entry immediately.
func (s *Service) Submit(code, reportType, sourceMessage, source string) (Info, error) {
	now := time.Now()
	info := Info{
		ID:            newID(code),
		Code:          code,
		ReportType:    reportType,
		Source:        source,
		SourceMessage: sourceMessage,
		Status:        StatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.stopMu.RLock()
	select {
	case <-s.stopped:
		s.stopMu.RUnlock()
		return Info{}, ErrStopped
	default:
	}
	select {
	case s.jobs <- info:
		s.stopMu.RUnlock()
	default:
		s.stopMu.RUnlock()
		return Info{}, ErrQueueFull
	}
	// Applied synchronously so the entry is queryable the moment Submit
	// returns; state transitions flow through the ledger goroutine.
	s.apply(info)

	if s.durable != nil {
		err := s.durable.InsertTask(context.Background(), &store.TaskRecord{
			ID: info.ID, Code: info.Code, ReportType: info.ReportType,
			Source: info.Source, SourceMessage: info.SourceMessage,
			Status: info.Status, CreatedAt: info.CreatedAt, UpdatedAt: info.UpdatedAt,
		})
		if err != nil {
			log.Error().Err(err).Str("task", info.ID).Msg("durable task insert failed")
		}
	}
	return info, nil
}

// GetTaskStatus returns the current ledger entry for id.
func (s *Service) GetTaskStatus(id string) (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.tasks[id]
	if !ok {
		return Info{}, ErrNotFound
	}
	return info, nil
}

// ListTasks returns the newest entries, capped at limit.
func (s *Service) ListTasks(limit int) []Info {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.tasks[s.order[i]])
	}
	return out
}

// GetAnalysisHistory proxies the durable history query.
func (s *Service) GetAnalysisHistory(ctx context.Context, f store.HistoryFilter) ([]store.AnalysisRecord, error) {
	if s.durable == nil {
		return nil, nil
	}
	return s.durable.GetAnalysisHistory(ctx, f)
}

// Subscribe returns a channel of ledger updates and a cancel function.
// Slow subscribers drop updates rather than blocking the ledger.
func (s *Service) Subscribe() (<-chan Info, func()) {
	ch := make(chan Info, 16)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	cancel := func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}
	return ch, cancel
}

// Stop drains the service: no new submissions, running tasks finish, and
// the ledger applies every last update before returning.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.stopMu.Lock()
		close(s.stopped)
		close(s.jobs)
		s.stopMu.Unlock()
		s.workersWg.Wait()
		close(s.updates)
	})
	s.ledgerWg.Wait()
}

func (s *Service) worker() {
	defer s.workersWg.Done()
	for info := range s.jobs {
		res := s.runner.ProcessQuery(context.Background(), info.ID, info.Code, true)
		status := StatusCompleted
		errMsg := ""
		if res == nil || !res.Success {
			status = StatusFailed
			if res != nil {
				errMsg = res.ErrorMessage
			}
		}
		info.Status = status
		info.ErrorMessage = errMsg
		info.UpdatedAt = time.Now()
		s.updates <- ledgerUpdate{info: info}

		if s.durable != nil {
			if err := s.durable.UpdateTaskStatus(context.Background(), info.ID, status, errMsg); err != nil {
				log.Error().Err(err).Str("task", info.ID).Msg("durable task update failed")
			}
		}
	}
}

// ledgerLoop is the only writer of the task map. It runs until Stop closes
// the update channel after the workers have drained.
func (s *Service) ledgerLoop() {
	defer s.ledgerWg.Done()
	for u := range s.updates {
		s.apply(u.info)
	}
}

func (s *Service) apply(info Info) {
	s.mu.Lock()
	if _, seen := s.tasks[info.ID]; !seen {
		s.order = append(s.order, info.ID)
	}
	s.tasks[info.ID] = info
	s.mu.Unlock()

	s.subMu.Lock()
	for ch := range s.subs {
		select {
		case ch <- info:
		default:
		}
	}
	s.subMu.Unlock()
}
