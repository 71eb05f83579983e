package filestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSerializerRunsInSubmissionOrder(t *testing.T) {
	s := NewSerializer()
	defer s.Close()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	release := make(chan struct{})
	started := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()
	<-started

	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// The lane is busy with job 0, so submitter i is queued once
		// the buffer holds i jobs.
		deadline := time.Now().Add(5 * time.Second)
		for len(s.jobs) < i {
			if time.Now().After(deadline) {
				close(release)
				t.Fatalf("submitter %d never queued", i)
			}
			time.Sleep(time.Millisecond)
		}
	}
	close(release)
	wg.Wait()

	if diff := cmp.Diff([]int{0, 1, 2, 3}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSerializerIsolatesFailures(t *testing.T) {
	s := NewSerializer()
	defer s.Close()

	boom := errors.New("boom")
	if err := s.Do(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	err := s.Do(context.Background(), func(context.Context) error { panic("kaboom") })
	if err == nil {
		t.Fatal("panic should surface as an error")
	}
	ran := false
	if err := s.Do(context.Background(), func(context.Context) error { ran = true; return nil }); err != nil {
		t.Fatalf("follow-up op failed: %v", err)
	}
	if !ran {
		t.Error("follow-up op did not run")
	}
}

func TestSerializerSkipsCancelledWork(t *testing.T) {
	s := NewSerializer()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := s.Do(ctx, func(context.Context) error { ran = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("cancelled op must not run")
	}
}

func TestSerializerClosed(t *testing.T) {
	s := NewSerializer()
	s.Close()
	s.Close() // idempotent
	err := s.Do(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrSerializerClosed) {
		t.Errorf("err = %v, want ErrSerializerClosed", err)
	}
}

// Two mutating operations issued concurrently never overlap at the store.
func TestSerializedMutationsNeverInterleave(t *testing.T) {
	mem := NewMemory()
	lane := NewSerializer()
	defer lane.Close()
	c := Serialized(mem, lane)

	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
		events   []string
	)
	mem.SetHook(func(_ context.Context, op, path string) error {
		if op == OpRead {
			return nil
		}
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		events = append(events, "start "+path)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		events = append(events, "end "+path)
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for _, p := range []string{"a.json", "b.json", "c.json", "d.json"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			if err := c.Write(context.Background(), WriteRequest{Path: p, Content: []byte("{}")}); err != nil {
				t.Errorf("write %s: %v", p, err)
			}
		}(p)
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent mutations = %d, want 1 (events %v)", maxSeen, events)
	}
	for i := 0; i < len(events); i += 2 {
		if events[i][:5] != "start" || events[i+1][:3] != "end" {
			t.Fatalf("interleaved events: %v", events)
		}
	}
}
