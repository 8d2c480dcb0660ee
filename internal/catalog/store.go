package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/mo"
	"golang.org/x/sync/singleflight"

	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
)

const fetchKey = "videos"

// Backend is the video service as the store needs it.
type Backend interface {
	List(ctx context.Context) ([]models.VideoEntry, error)
	Delete(ctx context.Context, id int64) error
}

// Snapshots persists the last successfully fetched entries.
type Snapshots interface {
	Save(ctx context.Context, entries []models.VideoEntry, fetchedAt time.Time) error
	Load(ctx context.Context) ([]models.VideoEntry, time.Time, error)
}

// Options configures a [Store].
type Options struct {
	Snapshots Snapshots // optional
	Logger    *log.Logger
	Now       func() time.Time
}

// Store is the catalog cache. All methods are safe for concurrent use.
type Store struct {
	backend   Backend
	snapshots Snapshots
	logger    *log.Logger
	now       func() time.Time

	// fetches run detached from any single caller and stop when the store is closed
	ctx    context.Context
	cancel context.CancelFunc

	group  singleflight.Group
	notify shared.Notifier

	mu       sync.Mutex
	state    models.CatalogState
	fetched  bool
	deleting map[int64]struct{}

	// fetches are numbered as they start; a result older than the one already
	// applied is dropped
	issued   uint64
	applied  uint64
	inflight int

	saveMu sync.Mutex
	saved  uint64
}

// New creates a Store over backend.
func New(backend Backend, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		backend:   backend,
		snapshots: opts.Snapshots,
		logger:    shared.WithLogger(opts.Logger, "component", "catalog"),
		now:       opts.Now,
		ctx:       ctx,
		cancel:    cancel,
		state:     models.CatalogState{Entries: []models.VideoEntry{}, SelectedID: mo.None[int64]()},
		deleting:  make(map[int64]struct{}),
	}
}

// Close aborts any in-flight fetch. The store remains readable.
func (s *Store) Close() {
	s.cancel()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() models.CatalogState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe returns a channel signalled after every state change.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	return s.notify.Subscribe()
}

// Fetch loads the full list from the backend.
//
// Callers arriving while a fetch is in flight wait for that fetch and share its result.
// Cancelling ctx stops the wait but not the shared fetch. On failure the entries are
// kept and the error is recorded in LastError as well as returned.
func (s *Store) Fetch(ctx context.Context) error {
	ch := s.group.DoChan(fetchKey, func() (any, error) {
		return nil, s.fetch()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresh issues a fetch that starts after the call, instead of joining one that
// may have read the list before a change made by the caller.
func (s *Store) refresh(ctx context.Context) error {
	s.group.Forget(fetchKey)
	return s.Fetch(ctx)
}

func (s *Store) fetch() error {
	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.inflight++
	s.state.Loading = true
	s.mu.Unlock()
	s.notify.Notify()

	entries, err := s.backend.List(s.ctx)

	s.mu.Lock()
	s.inflight--
	s.state.Loading = s.inflight > 0
	stale := seq < s.applied
	if err != nil {
		err = fmt.Errorf("failed to fetch videos: %w", err)
		if !stale {
			s.state.LastError = err
		}
		s.mu.Unlock()
		s.notify.Notify()

		s.logger.Warn("fetch failed", "error", err)
		return err
	}
	if stale {
		s.mu.Unlock()
		s.notify.Notify()
		s.logger.Debug("dropping stale fetch result", "count", len(entries))
		return nil
	}

	fetchedAt := s.now()
	s.applied = seq
	s.state.Entries = entries
	s.state.LastError = nil
	s.state.FetchedAt = fetchedAt
	s.state.FromCache = false
	s.fetched = true
	if id, ok := s.state.SelectedID.Get(); ok && !s.state.Contains(id) {
		s.logger.Debug("selection no longer in catalog", "id", id)
		s.state.SelectedID = mo.None[int64]()
	}
	saved := s.state.Clone().Entries
	s.mu.Unlock()
	s.notify.Notify()

	s.logger.Debug("fetched catalog", "count", len(entries))
	s.persist(seq, saved, fetchedAt)
	return nil
}

func (s *Store) persist(seq uint64, entries []models.VideoEntry, fetchedAt time.Time) {
	if s.snapshots == nil {
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if seq < s.saved {
		return
	}
	if err := s.snapshots.Save(s.ctx, entries, fetchedAt); err != nil {
		s.logger.Warn("failed to save catalog snapshot", "error", err)
		return
	}
	s.saved = seq
}

// Restore fills an unfetched store from the persisted snapshot.
//
// It is a no-op once a fetch has succeeded or when no snapshot store is configured.
func (s *Store) Restore(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}

	entries, fetchedAt, err := s.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog snapshot: %w", err)
	}

	s.mu.Lock()
	if s.fetched {
		s.mu.Unlock()
		return nil
	}
	s.state.Entries = entries
	s.state.FetchedAt = fetchedAt
	s.state.FromCache = true
	if id, ok := s.state.SelectedID.Get(); ok && !s.state.Contains(id) {
		s.state.SelectedID = mo.None[int64]()
	}
	s.mu.Unlock()
	s.notify.Notify()

	s.logger.Debug("restored catalog snapshot", "count", len(entries), "fetched_at", fetchedAt)
	return nil
}

// Select makes id the current selection if it is in the list.
//
// An absent id leaves the selection unchanged and returns false.
func (s *Store) Select(id int64) bool {
	s.mu.Lock()
	if !s.state.Contains(id) {
		s.mu.Unlock()
		s.logger.Debug("ignoring selection of unknown id", "id", id)
		return false
	}
	s.state.SelectedID = mo.Some(id)
	s.mu.Unlock()

	s.notify.Notify()
	return true
}

// ClearSelection removes the current selection.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.state.SelectedID = mo.None[int64]()
	s.mu.Unlock()
	s.notify.Notify()
}

// Delete removes id on the server and then refreshes the list.
//
// A second Delete for an id that is still pending fails with [shared.ErrConflict]
// without a request. A backend failure is returned and leaves the state untouched.
// After a successful delete the selection is cleared if it was id, and only then is
// a new fetch issued. A fetch already in flight is not reused for the refresh. Its
// outcome is recorded in LastError rather than returned.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	if _, pending := s.deleting[id]; pending {
		s.mu.Unlock()
		return fmt.Errorf("%w: delete of video %d", shared.ErrConflict, id)
	}
	s.deleting[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.deleting, id)
		s.mu.Unlock()
	}()

	if err := s.backend.Delete(ctx, id); err != nil {
		s.logger.Warn("delete failed", "id", id, "error", err)
		return fmt.Errorf("failed to delete video %d: %w", id, err)
	}

	s.mu.Lock()
	if selected, ok := s.state.SelectedID.Get(); ok && selected == id {
		s.state.SelectedID = mo.None[int64]()
	}
	s.mu.Unlock()
	s.notify.Notify()

	s.logger.Info("deleted video", "id", id)

	if err := s.refresh(ctx); err != nil {
		s.logger.Debug("refresh after delete failed", "id", id, "error", err)
	}
	return nil
}

// Pending reports whether a delete for id is in flight.
func (s *Store) Pending(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deleting[id]
	return ok
}
