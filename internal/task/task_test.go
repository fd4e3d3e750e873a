package task

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seenimoa/stockwatch/internal/analysis"
	"github.com/seenimoa/stockwatch/internal/store"
)

// fakeRunner scripts the pipeline.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	queryIDs []string
	fn       func(code string) *analysis.AnalysisResult
	block    chan struct{} // when set, workers wait here
}

func (f *fakeRunner) ProcessQuery(_ context.Context, queryID, code string, singleNotify bool) *analysis.AnalysisResult {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, code)
	f.queryIDs = append(f.queryIDs, queryID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(code)
	}
	return &analysis.AnalysisResult{Code: code, QueryID: queryID, Success: true}
}

// fakeLedger records durable writes.
type fakeLedger struct {
	mu       sync.Mutex
	inserted []store.TaskRecord
	updates  []string // "id:status"
}

func (f *fakeLedger) InsertTask(_ context.Context, t *store.TaskRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, *t)
	return nil
}

func (f *fakeLedger) UpdateTaskStatus(_ context.Context, id, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, id+":"+status)
	return nil
}

func (f *fakeLedger) GetAnalysisHistory(context.Context, store.HistoryFilter) ([]store.AnalysisRecord, error) {
	return nil, nil
}

func TestSubmitAndComplete(t *testing.T) {
	runner := &fakeRunner{}
	ledger := &fakeLedger{}
	svc := New(runner, ledger, 2)

	info, err := svc.Submit("600519", "full", "", "api")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if info.Status != StatusRunning {
		t.Errorf("initial status = %s", info.Status)
	}
	if !strings.HasPrefix(info.ID, "600519_") {
		t.Errorf("id = %s", info.ID)
	}

	// The entry is queryable immediately.
	got, err := svc.GetTaskStatus(info.ID)
	if err != nil || got.Code != "600519" {
		t.Fatalf("GetTaskStatus = %+v, %v", got, err)
	}

	svc.Stop()

	got, err = svc.GetTaskStatus(info.ID)
	if err != nil || got.Status != StatusCompleted {
		t.Fatalf("final status = %+v, %v", got, err)
	}
	if len(ledger.inserted) != 1 || ledger.inserted[0].Status != StatusRunning {
		t.Errorf("durable insert = %+v", ledger.inserted)
	}
	if len(ledger.updates) != 1 || ledger.updates[0] != info.ID+":completed" {
		t.Errorf("durable updates = %v", ledger.updates)
	}
	// The task id doubles as the analysis query id.
	if len(runner.queryIDs) != 1 || runner.queryIDs[0] != info.ID {
		t.Errorf("query ids = %v, want [%s]", runner.queryIDs, info.ID)
	}
}

func TestFailedRunMarksFailed(t *testing.T) {
	runner := &fakeRunner{fn: func(code string) *analysis.AnalysisResult {
		return analysis.Failed(code, "", "history unavailable")
	}}
	svc := New(runner, nil, 1)

	info, err := svc.Submit("600519", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	svc.Stop()

	got, _ := svc.GetTaskStatus(info.ID)
	if got.Status != StatusFailed || got.ErrorMessage != "history unavailable" {
		t.Errorf("task = %+v", got)
	}
}

func TestListTasksNewestFirst(t *testing.T) {
	runner := &fakeRunner{}
	svc := New(runner, nil, 1)

	var ids []string
	for _, code := range []string{"600519", "000001", "300750"} {
		info, err := svc.Submit(code, "", "", "")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, info.ID)
		time.Sleep(time.Millisecond) // distinct timestamps in the ids
	}
	svc.Stop()

	tasks := svc.ListTasks(2)
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d", len(tasks))
	}
	if tasks[0].ID != ids[2] || tasks[1].ID != ids[1] {
		t.Errorf("order = %s, %s", tasks[0].ID, tasks[1].ID)
	}
}

func TestQueueFull(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	svc := New(runner, nil, 1)

	var err error
	for i := 0; i <= queueDepth+1; i++ {
		_, err = svc.Submit("600519", "", "", "")
		if err != nil {
			break
		}
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v", err)
	}
	close(runner.block)
	svc.Stop()
}

func TestSubmitAfterStop(t *testing.T) {
	svc := New(&fakeRunner{}, nil, 1)
	svc.Stop()
	if _, err := svc.Submit("600519", "", "", ""); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v", err)
	}
}

// A Submit racing Stop must either queue the job or return ErrStopped;
// it must never send on the closed jobs channel.
func TestConcurrentSubmitDuringStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		svc := New(&fakeRunner{}, nil, 2)

		start := make(chan struct{})
		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for k := 0; k < 20; k++ {
					if _, err := svc.Submit("600519", "", "", ""); errors.Is(err, ErrStopped) {
						return
					}
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			svc.Stop()
		}()
		close(start)
		wg.Wait()

		if _, err := svc.Submit("600519", "", "", ""); !errors.Is(err, ErrStopped) {
			t.Fatalf("submit after stop: err = %v", err)
		}
	}
}

func TestSubscribeSeesTerminalState(t *testing.T) {
	svc := New(&fakeRunner{}, nil, 1)
	updates, cancel := svc.Subscribe()
	defer cancel()

	info, err := svc.Submit("600519", "", "", "")
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.ID == info.ID && u.Status == StatusCompleted {
				svc.Stop()
				return
			}
		case <-deadline:
			t.Fatal("no completion update observed")
		}
	}
}

func TestGetTaskStatusUnknown(t *testing.T) {
	svc := New(&fakeRunner{}, nil, 1)
	defer svc.Stop()
	if _, err := svc.GetTaskStatus("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
