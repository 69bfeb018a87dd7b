package agent

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGetOrCreateRunsFactoryOnce(t *testing.T) {
	registry := NewRegistry()
	var created atomic.Int32

	factory := func() (*Runtime, error) {
		created.Add(1)
		return &Runtime{hash: "h1"}, nil
	}

	const callers = 32
	var wg sync.WaitGroup
	results := make([]*Runtime, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rt, err := registry.GetOrCreate("h1", factory)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			results[i] = rt
		}(i)
	}
	wg.Wait()

	if got := created.Load(); got != 1 {
		t.Errorf("factory ran %d times, want 1", got)
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different runtime instance", i)
		}
	}
	if registry.Len() != 1 {
		t.Errorf("registry holds %d runtimes, want 1", registry.Len())
	}
}

func TestGetOrCreateSeparateHashes(t *testing.T) {
	registry := NewRegistry()
	a, err := registry.GetOrCreate("h1", func() (*Runtime, error) { return &Runtime{hash: "h1"}, nil })
	if err != nil {
		t.Fatalf("GetOrCreate h1: %v", err)
	}
	b, err := registry.GetOrCreate("h2", func() (*Runtime, error) { return &Runtime{hash: "h2"}, nil })
	if err != nil {
		t.Fatalf("GetOrCreate h2: %v", err)
	}
	if a == b {
		t.Error("distinct hashes shared one runtime")
	}
}

func TestGetOrCreateRetriesAfterFailure(t *testing.T) {
	registry := NewRegistry()
	boom := errors.New("bootstrap failed")

	if _, err := registry.GetOrCreate("h1", func() (*Runtime, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("first GetOrCreate error = %v, want %v", err, boom)
	}
	rt, err := registry.GetOrCreate("h1", func() (*Runtime, error) { return &Runtime{hash: "h1"}, nil })
	if err != nil || rt == nil {
		t.Errorf("retry after failed factory = (%v, %v)", rt, err)
	}
}
