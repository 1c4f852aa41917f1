package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	m := NewManager(func(ctx context.Context, category string) ([]string, error) {
		return []string{category + "-1", category + "-2"}, nil
	})
	items, ok := m.Load(context.Background(), "Draft")
	if !ok {
		t.Fatal("Load should deliver")
	}
	if len(items) != 2 || items[0] != "Draft-1" {
		t.Errorf("items = %v, want [Draft-1 Draft-2]", items)
	}
}

func TestFailureFallsBackToEmpty(t *testing.T) {
	m := NewManager(func(ctx context.Context, category string) ([]int, error) {
		return []int{1}, errors.New("503 from service")
	})
	items, ok := m.Load(context.Background(), "Draft")
	if !ok {
		t.Fatal("a failed fetch still settles the view")
	}
	if items == nil || len(items) != 0 {
		t.Errorf("items = %#v, want empty non-nil slice", items)
	}
}

func TestUnmountBeforeSettle(t *testing.T) {
	release := make(chan struct{})
	m := NewManager(func(ctx context.Context, category string) ([]int, error) {
		<-release
		return []int{1, 2, 3}, nil
	})

	var calls atomic.Int32
	mt := m.Mount(context.Background(), "Draft", Callbacks[int]{
		OnData: func([]int) { calls.Add(1) },
	})
	mt.Refetch()
	mt.Unmount()
	close(release)
	mt.Wait()

	if n := calls.Load(); n != 0 {
		t.Errorf("OnData called %d times after unmount, want 0", n)
	}
}

func TestUnmountSilencesErrors(t *testing.T) {
	release := make(chan struct{})
	m := NewManager(func(ctx context.Context, category string) ([]int, error) {
		<-release
		return nil, errors.New("network down")
	})
	var calls atomic.Int32
	mt := m.Mount(context.Background(), "Archive", Callbacks[int]{
		OnData:    func([]int) { calls.Add(1) },
		OnLoading: func(loading bool) { calls.Add(1) },
	})
	mt.Refetch() // OnLoading(true) runs here
	mt.Unmount()
	close(release)
	mt.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("callbacks = %d, want only the initial loading flag", n)
	}
}

func TestParentCancelUnmounts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(func(ctx context.Context, category string) ([]int, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	var calls atomic.Int32
	mt := m.Mount(ctx, "Draft", Callbacks[int]{OnData: func([]int) { calls.Add(1) }})
	mt.Refetch()
	cancel()
	mt.Wait()
	if n := calls.Load(); n != 0 {
		t.Errorf("OnData called %d times, want 0", n)
	}
	_, ok := m.Load(ctx, "Draft")
	if ok {
		t.Error("Load on a cancelled context should not deliver")
	}
}

func TestRefetchSupersedesPrevious(t *testing.T) {
	var n atomic.Int32
	first := make(chan struct{})
	m := NewManager(func(ctx context.Context, category string) ([]int, error) {
		if n.Add(1) == 1 {
			select {
			case <-first:
			case <-ctx.Done():
			}
			return []int{1}, nil
		}
		return []int{2}, nil
	})

	var mu sync.Mutex
	var got [][]int
	mt := m.Mount(context.Background(), "Draft", Callbacks[int]{OnData: func(items []int) {
		mu.Lock()
		got = append(got, items)
		mu.Unlock()
	}})
	mt.Refetch()
	// Let the first fetch start before superseding it.
	for n.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	mt.Refetch()
	close(first)
	mt.Wait()
	mt.Unmount()

	if len(got) != 1 || got[0][0] != 2 {
		t.Errorf("delivered = %v, want only [[2]]", got)
	}
}

func TestFetchAllIndependent(t *testing.T) {
	m := NewManager(func(ctx context.Context, category string) ([]string, error) {
		if category == "Published" {
			return nil, errors.New("boom")
		}
		return []string{category}, nil
	})
	out := m.FetchAll(context.Background(), "Draft", "Published", "Archive")
	if len(out) != 3 {
		t.Fatalf("categories = %d, want 3", len(out))
	}
	if len(out["Draft"]) != 1 || len(out["Archive"]) != 1 {
		t.Errorf("siblings affected by failure: %v", out)
	}
	if len(out["Published"]) != 0 {
		t.Errorf("Published = %v, want empty", out["Published"])
	}
}

func TestRefetchAfterUnmountIsNoop(t *testing.T) {
	var n atomic.Int32
	m := NewManager(func(ctx context.Context, category string) ([]int, error) {
		n.Add(1)
		return nil, nil
	})
	mt := m.Mount(context.Background(), "Draft", Callbacks[int]{})
	mt.Unmount()
	mt.Refetch()
	mt.Wait()
	if n.Load() != 0 {
		t.Errorf("fetches = %d, want 0", n.Load())
	}
}
