package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vendornet/stockcore/pkg/logger"
)

type fakeLock struct {
	acquired bool
	denied   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		f.denied++
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.acquired = false; return nil }

type testTask struct {
	name    string
	err     error
	mu      sync.Mutex
	runs    int
	started chan struct{}
	block   chan struct{}
}

func (t *testTask) Name() string { return t.name }

func (t *testTask) Run(context.Context) error {
	t.mu.Lock()
	t.runs++
	t.mu.Unlock()
	if t.started != nil {
		close(t.started)
		t.started = nil
	}
	if t.block != nil {
		<-t.block
	}
	return t.err
}

func (t *testTask) runCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func mustService(t *testing.T, registry *Registry, lock *fakeLock) *Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "scheduler-test"})
	service, err := NewService(ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Interval: time.Minute,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunCycleRunsAllTasksEvenOnFailure(t *testing.T) {
	registry := NewRegistry(&testTask{name: "success"}, &testTask{name: "fail", err: errors.New("boom")})
	service := mustService(t, registry, &fakeLock{})

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	tasks := registry.Tasks()
	for _, task := range tasks {
		if task.(*testTask).runs != 1 {
			t.Fatalf("expected task %s to run once, ran %d", task.Name(), task.(*testTask).runs)
		}
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	task := &testTask{name: "noop"}
	lock := &fakeLock{acquired: true}
	service := mustService(t, NewRegistry(task), lock)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if task.runs != 0 {
		t.Fatalf("expected task to be skipped, ran %d", task.runs)
	}
	if lock.denied != 1 {
		t.Fatalf("expected one denied acquire, got %d", lock.denied)
	}
}

func TestServiceReleasesLockAfterCycle(t *testing.T) {
	lock := &fakeLock{}
	service := mustService(t, NewRegistry(&testTask{name: "noop"}), lock)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if lock.acquired {
		t.Fatal("expected lock to be released after the cycle")
	}
}

func TestServiceDoesNotOverlapCycles(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	task := &testTask{name: "slow", block: block, started: started}
	service := mustService(t, NewRegistry(task), &fakeLock{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = service.runCycle(context.Background())
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		close(block)
		t.Fatal("slow task never started")
	}

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	close(block)
	wg.Wait()

	if got := task.runCount(); got != 1 {
		t.Fatalf("expected overlapping cycle to be skipped, task ran %d times", got)
	}
}

func TestRegistryIgnoresNilTasks(t *testing.T) {
	registry := NewRegistry(nil, &testTask{name: "only"})
	registry.Register(nil)
	if got := len(registry.Tasks()); got != 1 {
		t.Fatalf("expected 1 task, got %d", got)
	}
}
