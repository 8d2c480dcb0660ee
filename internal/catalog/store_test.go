package catalog

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
	tu "github.com/desertthunder/cowatch/internal/testing"
)

const waitTimeout = 5 * time.Second

type fakeBackend struct {
	mu          sync.Mutex
	entries     []models.VideoEntry
	listErr     error
	deleteErr   error
	listCalls   int
	deleteCalls int

	listGate      chan struct{}
	listStarted   chan struct{}
	deleteGate    chan struct{}
	deleteStarted chan struct{}
}

func newFakeBackend(ids ...int64) *fakeBackend {
	b := &fakeBackend{
		listStarted:   make(chan struct{}, 16),
		deleteStarted: make(chan struct{}, 16),
	}
	for _, id := range ids {
		b.entries = append(b.entries, models.VideoEntry{ID: id, Title: "video", URL: "/api/v1/videos/stream/1"})
	}
	return b
}

func (b *fakeBackend) List(ctx context.Context) ([]models.VideoEntry, error) {
	// the answer reflects the server when the request arrived
	b.mu.Lock()
	b.listCalls++
	gate := b.listGate
	entries := slices.Clone(b.entries)
	b.mu.Unlock()

	signal(b.listStarted)
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	return entries, nil
}

func (b *fakeBackend) Delete(ctx context.Context, id int64) error {
	b.mu.Lock()
	b.deleteCalls++
	gate := b.deleteGate
	b.mu.Unlock()

	signal(b.deleteStarted)
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	b.entries = slices.DeleteFunc(b.entries, func(v models.VideoEntry) bool { return v.ID == id })
	return nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) calls() (list, del int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls, b.deleteCalls
}

type fakeSnapshots struct {
	mu        sync.Mutex
	entries   []models.VideoEntry
	fetchedAt time.Time
	saves     int
	saveErr   error
}

func (f *fakeSnapshots) Save(ctx context.Context, entries []models.VideoEntry, fetchedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.entries, f.fetchedAt = slices.Clone(entries), fetchedAt
	return nil
}

func (f *fakeSnapshots) Load(ctx context.Context) ([]models.VideoEntry, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.entries), f.fetchedAt, nil
}

func newTestStore(b Backend, snaps Snapshots) *Store {
	opts := Options{Logger: shared.NewLogger(io.Discard)}
	if snaps != nil {
		opts.Snapshots = snaps
	}
	return New(b, opts)
}

func ids(state models.CatalogState) []int64 {
	out := make([]int64, 0, len(state.Entries))
	for _, e := range state.Entries {
		out = append(out, e.ID)
	}
	return out
}

func TestFetch(t *testing.T) {
	t.Run("Replaces Entries In Server Order", func(t *testing.T) {
		backend := newFakeBackend(3, 1, 2)
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		store := New(backend, Options{Logger: shared.NewLogger(io.Discard), Now: func() time.Time { return now }})

		if err := store.Fetch(context.Background()); err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}

		state := store.Snapshot()
		if !slices.Equal(ids(state), []int64{3, 1, 2}) {
			t.Errorf("expected server order [3 1 2], got %v", ids(state))
		}
		if state.Loading {
			t.Error("expected loading to be cleared")
		}
		if !state.FetchedAt.Equal(now) {
			t.Errorf("expected fetchedAt %v, got %v", now, state.FetchedAt)
		}
	})

	t.Run("Failure Keeps Entries And Records Error", func(t *testing.T) {
		backend := newFakeBackend(1, 2)
		store := newTestStore(backend, nil)
		store.Fetch(context.Background())

		backend.set(func(b *fakeBackend) { b.listErr = shared.ErrNetwork })
		err := store.Fetch(context.Background())
		if !errors.Is(err, shared.ErrNetwork) {
			t.Fatalf("expected ErrNetwork, got %v", err)
		}

		state := store.Snapshot()
		if !slices.Equal(ids(state), []int64{1, 2}) {
			t.Errorf("expected entries untouched, got %v", ids(state))
		}
		if !errors.Is(state.LastError, shared.ErrNetwork) {
			t.Errorf("expected LastError ErrNetwork, got %v", state.LastError)
		}
		if state.Loading {
			t.Error("expected loading to be cleared")
		}

		backend.set(func(b *fakeBackend) { b.listErr = nil })
		if err := store.Fetch(context.Background()); err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if store.Snapshot().LastError != nil {
			t.Error("expected successful fetch to clear LastError")
		}
	})

	t.Run("Coalesces Concurrent Calls", func(t *testing.T) {
		backend := newFakeBackend(1)
		gate := make(chan struct{})
		backend.set(func(b *fakeBackend) { b.listGate = gate })
		store := newTestStore(backend, nil)

		errs := make(chan error, 1)
		go func() { errs <- store.Fetch(context.Background()) }()
		tu.Receive(t, backend.listStarted, waitTimeout)

		if !store.Snapshot().Loading {
			t.Error("expected loading while fetch is pending")
		}

		// joins the pending fetch; the cancelled context returns before it completes
		joined, cancel := context.WithCancel(context.Background())
		cancel()
		if err := store.Fetch(joined); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		close(gate)

		if err, _ := tu.Receive(t, errs, waitTimeout); err != nil {
			t.Errorf("expected success, got %v", err)
		}
		if list, _ := backend.calls(); list != 1 {
			t.Errorf("expected exactly one list request, got %d", list)
		}
		if store.Snapshot().Loading {
			t.Error("expected loading to be cleared")
		}
	})

	t.Run("Starts A New Request Once The Shared One Failed", func(t *testing.T) {
		backend := newFakeBackend(1)
		gate := make(chan struct{})
		backend.set(func(b *fakeBackend) { b.listGate = gate; b.listErr = shared.ErrRejected })
		store := newTestStore(backend, nil)

		errs := make(chan error, 1)
		go func() { errs <- store.Fetch(context.Background()) }()
		tu.Receive(t, backend.listStarted, waitTimeout)
		close(gate)

		if err, _ := tu.Receive(t, errs, waitTimeout); !errors.Is(err, shared.ErrRejected) {
			t.Errorf("expected ErrRejected, got %v", err)
		}
		if err := store.Fetch(context.Background()); !errors.Is(err, shared.ErrRejected) {
			t.Errorf("expected ErrRejected again, got %v", err)
		}
		if list, _ := backend.calls(); list != 2 {
			t.Errorf("expected a second list request, got %d", list)
		}
	})

	t.Run("Waiter Cancel Does Not Abort Shared Fetch", func(t *testing.T) {
		backend := newFakeBackend(4)
		gate := make(chan struct{})
		backend.set(func(b *fakeBackend) { b.listGate = gate })
		store := newTestStore(backend, nil)

		ctx, cancel := context.WithCancel(context.Background())
		errs := make(chan error, 1)
		go func() { errs <- store.Fetch(ctx) }()
		tu.Receive(t, backend.listStarted, waitTimeout)

		cancel()
		if err, _ := tu.Receive(t, errs, waitTimeout); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled for the waiter, got %v", err)
		}

		close(gate)
		tu.WaitFor(t, waitTimeout, func() bool { return len(store.Snapshot().Entries) == 1 })
	})

	t.Run("Clears Selection Missing From New List", func(t *testing.T) {
		backend := newFakeBackend(1, 2)
		store := newTestStore(backend, nil)
		store.Fetch(context.Background())
		store.Select(2)

		backend.set(func(b *fakeBackend) { b.entries = b.entries[:1] })
		store.Fetch(context.Background())

		if store.Snapshot().SelectedID.IsPresent() {
			t.Error("expected selection to be cleared")
		}
	})

	t.Run("Keeps Selection Still Present", func(t *testing.T) {
		backend := newFakeBackend(1, 2)
		store := newTestStore(backend, nil)
		store.Fetch(context.Background())
		store.Select(1)
		store.Fetch(context.Background())

		if id, ok := store.Snapshot().SelectedID.Get(); !ok || id != 1 {
			t.Errorf("expected selection 1 to survive, got %v %v", id, ok)
		}
	})

	t.Run("Saves Snapshot", func(t *testing.T) {
		snaps := &fakeSnapshots{}
		store := newTestStore(newFakeBackend(5, 6), snaps)

		if err := store.Fetch(context.Background()); err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if snaps.saves != 1 || len(snaps.entries) != 2 {
			t.Errorf("expected one save of 2 entries, got %d saves of %d", snaps.saves, len(snaps.entries))
		}
	})

	t.Run("Snapshot Save Failure Is Not A Fetch Failure", func(t *testing.T) {
		snaps := &fakeSnapshots{saveErr: errors.New("disk full")}
		store := newTestStore(newFakeBackend(5), snaps)

		if err := store.Fetch(context.Background()); err != nil {
			t.Fatalf("expected fetch to succeed, got %v", err)
		}
		if store.Snapshot().LastError != nil {
			t.Error("expected no LastError")
		}
	})
}

func TestSelect(t *testing.T) {
	store := newTestStore(newFakeBackend(1, 2), nil)
	store.Fetch(context.Background())

	t.Run("Present Id", func(t *testing.T) {
		if !store.Select(2) {
			t.Fatal("expected select to apply")
		}
		v, ok := store.Snapshot().Selected()
		if !ok || v.ID != 2 {
			t.Errorf("expected selected entry 2, got %+v", v)
		}
	})

	t.Run("Absent Id Is A No-op", func(t *testing.T) {
		if store.Select(99) {
			t.Error("expected select of absent id to report false")
		}
		if id, _ := store.Snapshot().SelectedID.Get(); id != 2 {
			t.Errorf("expected selection to stay 2, got %d", id)
		}
	})

	t.Run("ClearSelection", func(t *testing.T) {
		store.ClearSelection()
		if store.Snapshot().SelectedID.IsPresent() {
			t.Error("expected no selection")
		}
	})

	t.Run("Notifies Subscribers", func(t *testing.T) {
		ch, unsubscribe := store.Subscribe()
		defer unsubscribe()

		store.Select(1)
		tu.Receive(t, ch, waitTimeout)
	})
}

func TestDelete(t *testing.T) {
	t.Run("Clears Selection Before Refresh Completes", func(t *testing.T) {
		backend := newFakeBackend(1, 2)
		store := newTestStore(backend, nil)
		store.Fetch(context.Background())
		store.Select(1)
		<-backend.listStarted

		gate := make(chan struct{})
		backend.set(func(b *fakeBackend) { b.listGate = gate })

		errs := make(chan error, 1)
		go func() { errs <- store.Delete(context.Background(), 1) }()

		tu.Receive(t, backend.listStarted, waitTimeout)
		if store.Snapshot().SelectedID.IsPresent() {
			t.Error("expected selection cleared while refresh is pending")
		}

		close(gate)
		if err, _ := tu.Receive(t, errs, waitTimeout); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		state := store.Snapshot()
		if !slices.Equal(ids(state), []int64{2}) {
			t.Errorf("expected refreshed entries [2], got %v", ids(state))
		}
	})

	t.Run("Refresh Does Not Reuse A Fetch Started Before The Delete", func(t *testing.T) {
		backend := newFakeBackend(1, 2)
		snaps := &fakeSnapshots{}
		store := newTestStore(backend, snaps)

		gate := make(chan struct{})
		backend.set(func(b *fakeBackend) { b.listGate = gate })

		fetched := make(chan error, 1)
		go func() { fetched <- store.Fetch(context.Background()) }()
		tu.Receive(t, backend.listStarted, waitTimeout)

		deleted := make(chan error, 1)
		go func() { deleted <- store.Delete(context.Background(), 1) }()
		tu.Receive(t, backend.listStarted, waitTimeout)
		close(gate)

		if err, _ := tu.Receive(t, deleted, waitTimeout); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		tu.Receive(t, fetched, waitTimeout)

		state := store.Snapshot()
		if !slices.Equal(ids(state), []int64{2}) {
			t.Errorf("expected entries [2] after delete, got %v", ids(state))
		}
		if state.Loading {
			t.Error("expected loading to be cleared")
		}
		if list, _ := backend.calls(); list != 2 {
			t.Errorf("expected two list requests, got %d", list)
		}

		snaps.mu.Lock()
		defer snaps.mu.Unlock()
		if len(snaps.entries) != 1 || snaps.entries[0].ID != 2 {
			t.Errorf("expected snapshot [2], got %v", snaps.entries)
		}
	})

	t.Run("Other Selection Survives", func(t *testing.T) {
		backend := newFakeBackend(1, 2)
		store := newTestStore(backend, nil)
		store.Fetch(context.Background())
		store.Select(2)

		if err := store.Delete(context.Background(), 1); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if id, ok := store.Snapshot().SelectedID.Get(); !ok || id != 2 {
			t.Errorf("expected selection 2 to survive, got %v %v", id, ok)
		}
	})

	t.Run("Duplicate Pending Delete Conflicts", func(t *testing.T) {
		backend := newFakeBackend(1, 2)
		store := newTestStore(backend, nil)
		store.Fetch(context.Background())

		gate := make(chan struct{})
		backend.set(func(b *fakeBackend) { b.deleteGate = gate })

		errs := make(chan error, 1)
		go func() { errs <- store.Delete(context.Background(), 1) }()
		tu.Receive(t, backend.deleteStarted, waitTimeout)

		if !store.Pending(1) {
			t.Error("expected delete of 1 to be pending")
		}

		err := store.Delete(context.Background(), 1)
		if !errors.Is(err, shared.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}

		close(gate)
		if err, _ := tu.Receive(t, errs, waitTimeout); err != nil {
			t.Errorf("expected first delete to succeed, got %v", err)
		}

		if _, del := backend.calls(); del != 1 {
			t.Errorf("expected exactly one delete request, got %d", del)
		}
		if store.Pending(1) {
			t.Error("expected pending marker to be released")
		}
	})

	t.Run("Different Ids Run Concurrently", func(t *testing.T) {
		backend := newFakeBackend(1, 2)
		store := newTestStore(backend, nil)
		store.Fetch(context.Background())

		gate := make(chan struct{})
		backend.set(func(b *fakeBackend) { b.deleteGate = gate })

		errs := make(chan error, 2)
		go func() { errs <- store.Delete(context.Background(), 1) }()
		go func() { errs <- store.Delete(context.Background(), 2) }()
		tu.Receive(t, backend.deleteStarted, waitTimeout)
		tu.Receive(t, backend.deleteStarted, waitTimeout)
		close(gate)

		for range 2 {
			if err, _ := tu.Receive(t, errs, waitTimeout); err != nil {
				t.Errorf("expected success, got %v", err)
			}
		}
	})

	t.Run("Failure Leaves State And Is Not Persisted", func(t *testing.T) {
		backend := newFakeBackend(1, 2)
		store := newTestStore(backend, nil)
		store.Fetch(context.Background())
		store.Select(1)
		listBefore, _ := backend.calls()

		backend.set(func(b *fakeBackend) { b.deleteErr = shared.ErrNotFound })
		err := store.Delete(context.Background(), 1)
		if !errors.Is(err, shared.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		state := store.Snapshot()
		if state.LastError != nil {
			t.Errorf("delete failure must not be stored in LastError, got %v", state.LastError)
		}
		if id, _ := state.SelectedID.Get(); id != 1 {
			t.Error("expected selection to be unchanged")
		}
		if !slices.Equal(ids(state), []int64{1, 2}) {
			t.Errorf("expected entries unchanged, got %v", ids(state))
		}
		if listAfter, _ := backend.calls(); listAfter != listBefore {
			t.Error("expected no refresh after failed delete")
		}

		backend.set(func(b *fakeBackend) { b.deleteErr = nil })
		if err := store.Delete(context.Background(), 1); err != nil {
			t.Errorf("expected retry to succeed, got %v", err)
		}
	})

	t.Run("Refresh Failure Goes To LastError", func(t *testing.T) {
		backend := newFakeBackend(1, 2)
		store := newTestStore(backend, nil)
		store.Fetch(context.Background())
		store.Select(1)

		backend.set(func(b *fakeBackend) { b.listErr = shared.ErrNetwork })
		if err := store.Delete(context.Background(), 1); err != nil {
			t.Fatalf("expected delete to succeed, got %v", err)
		}

		state := store.Snapshot()
		if !errors.Is(state.LastError, shared.ErrNetwork) {
			t.Errorf("expected refresh failure in LastError, got %v", state.LastError)
		}
		if state.SelectedID.IsPresent() {
			t.Error("expected selection of deleted id to be cleared")
		}
	})
}

func TestSelectionInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 42))
	backend := newFakeBackend(1, 2, 3, 4, 5, 6)
	store := newTestStore(backend, nil)
	nextID := int64(7)

	for step := range 300 {
		id := int64(rng.IntN(int(nextID))) + 1
		switch rng.IntN(5) {
		case 0:
			store.Fetch(context.Background())
		case 1:
			store.Select(id)
		case 2:
			store.Delete(context.Background(), id)
		case 3:
			// another client removes an entry
			backend.set(func(b *fakeBackend) {
				b.entries = slices.DeleteFunc(b.entries, func(v models.VideoEntry) bool { return v.ID == id })
			})
		case 4:
			backend.set(func(b *fakeBackend) {
				b.entries = append(b.entries, models.VideoEntry{ID: nextID, Title: "new"})
			})
			nextID++
		}

		state := store.Snapshot()
		if selected, ok := state.SelectedID.Get(); ok && !state.Contains(selected) {
			t.Fatalf("step %d: selection %d dangles over %v", step, selected, ids(state))
		}
	}
}

func TestRestore(t *testing.T) {
	t.Run("Fills Unfetched Store", func(t *testing.T) {
		fetchedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		snaps := &fakeSnapshots{entries: []models.VideoEntry{{ID: 8, Title: "cached"}}, fetchedAt: fetchedAt}
		store := newTestStore(newFakeBackend(1), snaps)

		if err := store.Restore(context.Background()); err != nil {
			t.Fatalf("Restore failed: %v", err)
		}

		state := store.Snapshot()
		if !state.FromCache || !slices.Equal(ids(state), []int64{8}) {
			t.Errorf("expected cached entries, got %+v", state)
		}
		if !state.FetchedAt.Equal(fetchedAt) {
			t.Errorf("expected fetchedAt %v, got %v", fetchedAt, state.FetchedAt)
		}

		store.Fetch(context.Background())
		if store.Snapshot().FromCache {
			t.Error("expected fetch to replace cached entries")
		}
	})

	t.Run("No-op After Fetch", func(t *testing.T) {
		snaps := &fakeSnapshots{entries: []models.VideoEntry{{ID: 8}}}
		store := newTestStore(newFakeBackend(1), snaps)
		store.Fetch(context.Background())
		snaps.entries = []models.VideoEntry{{ID: 8}}

		store.Restore(context.Background())
		if !slices.Equal(ids(store.Snapshot()), []int64{1}) {
			t.Errorf("expected fetched entries to win, got %v", ids(store.Snapshot()))
		}
	})

	t.Run("Without Snapshots", func(t *testing.T) {
		store := newTestStore(newFakeBackend(1), nil)
		if err := store.Restore(context.Background()); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})
}
