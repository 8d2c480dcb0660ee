package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
	tu "github.com/desertthunder/cowatch/internal/testing"
	"github.com/desertthunder/cowatch/internal/transfer"
)

const waitTimeout = 5 * time.Second

type fakeTransfer struct {
	events    chan transfer.Event
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	cancelled bool
}

func newFakeTransfer() *fakeTransfer {
	return &fakeTransfer{events: make(chan transfer.Event), done: make(chan struct{})}
}

func (f *fakeTransfer) ID() string                    { return "fake" }
func (f *fakeTransfer) Events() <-chan transfer.Event { return f.events }
func (f *fakeTransfer) Done() <-chan struct{}         { return f.done }

func (f *fakeTransfer) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
	f.close()
}

func (f *fakeTransfer) close() {
	f.closeOnce.Do(func() {
		close(f.events)
		close(f.done)
	})
}

func (f *fakeTransfer) wasCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// emit plays events and closes the stream after a terminal one.
func (f *fakeTransfer) emit(events ...transfer.Event) {
	for _, ev := range events {
		f.events <- ev
		if ev.Terminal() {
			f.close()
			return
		}
	}
}

type fakeEngine struct {
	mu     sync.Mutex
	starts int
	fields [][]transfer.Field
	err    error
	script []transfer.Event
	last   *fakeTransfer
}

func (e *fakeEngine) Start(ctx context.Context, fields []transfer.Field) (transfer.Transfer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.starts++
	e.fields = append(e.fields, fields)
	if e.err != nil {
		return nil, e.err
	}

	tr := newFakeTransfer()
	e.last = tr
	if len(e.script) > 0 {
		go tr.emit(e.script...)
	}
	return tr, nil
}

func (e *fakeEngine) setScript(events ...transfer.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = events
}

func (e *fakeEngine) lastTransfer() *fakeTransfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRefresher) Fetch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRecorder captures records and the job status visible while recording.
// A non-nil hold blocks the succeeded record until it is closed.
type fakeRecorder struct {
	mu       sync.Mutex
	coord    *Coordinator
	records  []models.UploadRecord
	observed []models.JobStatus

	hold    chan struct{}
	holding chan struct{}
}

func (f *fakeRecorder) Record(ctx context.Context, rec models.UploadRecord) error {
	status := f.coord.Snapshot().Status
	if f.hold != nil && rec.Status == models.JobSucceeded {
		select {
		case f.holding <- struct{}{}:
		default:
		}
		<-f.hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	f.observed = append(f.observed, status)
	return nil
}

func (f *fakeRecorder) snapshot() ([]models.UploadRecord, []models.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.UploadRecord(nil), f.records...), append([]models.JobStatus(nil), f.observed...)
}

type fixture struct {
	coord    *Coordinator
	engine   *fakeEngine
	catalog  *fakeRefresher
	recorder *fakeRecorder
}

func newFixture() *fixture {
	f := &fixture{engine: &fakeEngine{}, catalog: &fakeRefresher{}, recorder: &fakeRecorder{}}
	f.coord = NewCoordinator(f.engine, f.catalog, Options{Recorder: f.recorder, Logger: shared.NewLogger(io.Discard)})
	f.recorder.coord = f.coord
	return f
}

func videoFile() *tu.MemFile {
	return tu.NewMemFile("holiday.mp4", "video/mp4", []byte("not really a video"))
}

func progress(r float64) transfer.Event { return transfer.Event{Kind: transfer.KindProgress, Ratio: r} }

func failed(reason transfer.Reason) transfer.Event {
	return transfer.Event{Kind: transfer.KindFailure, Reason: reason, Err: reason.Err()}
}

var succeeded = transfer.Event{Kind: transfer.KindSuccess, Entry: &models.VideoEntry{ID: 31}}

func TestChooseFile(t *testing.T) {
	t.Run("Video Selects And Defaults Title", func(t *testing.T) {
		f := newFixture()
		if err := f.coord.ChooseFile(videoFile()); err != nil {
			t.Fatalf("ChooseFile failed: %v", err)
		}

		job := f.coord.Snapshot()
		if job.Status != models.JobSelected {
			t.Errorf("expected selected, got %s", job.Status)
		}
		if job.Title != "holiday" {
			t.Errorf("expected default title holiday, got %q", job.Title)
		}
		if job.FileName() != "holiday.mp4" {
			t.Errorf("expected file holiday.mp4, got %q", job.FileName())
		}
	})

	t.Run("Text File Is Invalid Type", func(t *testing.T) {
		f := newFixture()
		err := f.coord.ChooseFile(tu.NewMemFile("notes.txt", "text/plain", []byte("hi")))

		if !errors.Is(err, shared.ErrInvalidType) {
			t.Errorf("expected ErrInvalidType, got %v", err)
		}

		job := f.coord.Snapshot()
		if job.Status != models.JobIdle {
			t.Errorf("expected status idle, got %s", job.Status)
		}
		if job.File != nil {
			t.Error("expected no file to be kept")
		}
	})

	t.Run("Keeps Existing Title", func(t *testing.T) {
		f := newFixture()
		f.coord.SetTitle("Chosen first")
		f.coord.ChooseFile(videoFile())

		if got := f.coord.Snapshot().Title; got != "Chosen first" {
			t.Errorf("expected title to be kept, got %q", got)
		}
	})

	t.Run("Nil File", func(t *testing.T) {
		if err := newFixture().coord.ChooseFile(nil); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Unknown Size Is Indeterminate", func(t *testing.T) {
		f := newFixture()
		f.coord.ChooseFile(videoFile().WithUnknownSize())
		if !f.coord.Snapshot().Indeterminate {
			t.Error("expected indeterminate job")
		}
	})
}

func TestSubmit(t *testing.T) {
	t.Run("Preconditions", func(t *testing.T) {
		f := newFixture()

		if err := f.coord.Submit(context.Background()); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput without a file, got %v", err)
		}

		f.coord.ChooseFile(videoFile())
		f.coord.SetTitle("   ")
		if err := f.coord.Submit(context.Background()); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for blank title, got %v", err)
		}

		if status := f.coord.Snapshot().Status; status != models.JobSelected {
			t.Errorf("expected status to stay selected, got %s", status)
		}
		if f.engine.starts != 0 {
			t.Errorf("expected no transfer to start, got %d", f.engine.starts)
		}
	})

	t.Run("Round Trip", func(t *testing.T) {
		f := newFixture()
		f.engine.setScript(progress(0.5), succeeded)

		file := videoFile()
		f.coord.ChooseFile(file)
		f.coord.SetTitle("  My Clip ")
		if err := f.coord.Submit(context.Background()); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		if err := f.coord.Wait(context.Background()); err != nil {
			t.Fatalf("expected success, got %v", err)
		}

		job := f.coord.Snapshot()
		if job.Status != models.JobIdle || job.File != nil || job.Title != "" || job.Progress != 0 {
			t.Errorf("expected job reset to idle, got %+v", job)
		}
		if f.catalog.count() != 1 {
			t.Errorf("expected one catalog fetch, got %d", f.catalog.count())
		}

		fields := f.engine.fields[0]
		if fields[0].Name != transfer.TitleField || fields[0].Value != "My Clip" {
			t.Errorf("expected trimmed title field, got %+v", fields[0])
		}
		if fields[1].Name != transfer.FileField || fields[1].File != file {
			t.Errorf("expected video file field, got %+v", fields[1])
		}

		records, observed := f.recorder.snapshot()
		if len(records) != 1 || records[0].Status != models.JobSucceeded {
			t.Fatalf("expected one succeeded record, got %+v", records)
		}
		if observed[0] != models.JobSucceeded {
			t.Errorf("expected succeeded to be visible before reset, got %s", observed[0])
		}
		if id, ok := records[0].VideoID.Get(); !ok || id != 31 {
			t.Errorf("expected created video id 31, got %v", records[0].VideoID)
		}
	})

	t.Run("File Chosen While Recording Success Is Kept", func(t *testing.T) {
		f := newFixture()
		f.recorder.hold = make(chan struct{})
		f.recorder.holding = make(chan struct{}, 1)
		f.engine.setScript(succeeded)

		f.coord.ChooseFile(videoFile())
		if err := f.coord.Submit(context.Background()); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		tu.Receive(t, f.recorder.holding, waitTimeout)

		next := tu.NewMemFile("second.mp4", "video/mp4", []byte("another"))
		if err := f.coord.Clear(); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if err := f.coord.ChooseFile(next); err != nil {
			t.Fatalf("ChooseFile failed: %v", err)
		}
		if err := f.coord.SetTitle("Second"); err != nil {
			t.Fatalf("SetTitle failed: %v", err)
		}
		close(f.recorder.hold)

		if err := f.coord.Wait(context.Background()); err != nil {
			t.Fatalf("expected success, got %v", err)
		}

		job := f.coord.Snapshot()
		if job.Status != models.JobSelected || job.File != next || job.Title != "Second" {
			t.Errorf("expected the new selection to survive, got status=%s file=%q title=%q",
				job.Status, job.FileName(), job.Title)
		}
		if f.catalog.count() != 1 {
			t.Errorf("expected one catalog fetch, got %d", f.catalog.count())
		}

		if err := f.coord.Submit(context.Background()); err != nil {
			t.Errorf("expected the new file to be submittable, got %v", err)
		}
	})

	t.Run("Rejection Preserves Retry State", func(t *testing.T) {
		f := newFixture()
		f.engine.setScript(progress(0.2), failed(transfer.ReasonRejected))

		file := videoFile()
		f.coord.ChooseFile(file)
		f.coord.SetTitle("Keep me")
		f.coord.Submit(context.Background())

		if err := f.coord.Wait(context.Background()); !errors.Is(err, shared.ErrRejected) {
			t.Fatalf("expected ErrRejected, got %v", err)
		}

		job := f.coord.Snapshot()
		if job.Status != models.JobFailed {
			t.Errorf("expected failed, got %s", job.Status)
		}
		if job.File != file || job.Title != "Keep me" {
			t.Errorf("expected file and title preserved, got %+v", job)
		}
		if !errors.Is(job.Err, shared.ErrRejected) {
			t.Errorf("expected job error ErrRejected, got %v", job.Err)
		}
		if f.catalog.count() != 0 {
			t.Error("expected no catalog fetch after failure")
		}

		f.engine.setScript(succeeded)
		if err := f.coord.Submit(context.Background()); err != nil {
			t.Fatalf("expected retry to be accepted, got %v", err)
		}
		if err := f.coord.Wait(context.Background()); err != nil {
			t.Errorf("expected retry to succeed, got %v", err)
		}
	})

	t.Run("Aborted Is Cancelled With File Kept", func(t *testing.T) {
		f := newFixture()
		f.engine.setScript(failed(transfer.ReasonAborted))

		file := videoFile()
		f.coord.ChooseFile(file)
		f.coord.Submit(context.Background())

		if err := f.coord.Wait(context.Background()); !errors.Is(err, shared.ErrAborted) {
			t.Fatalf("expected ErrAborted, got %v", err)
		}

		job := f.coord.Snapshot()
		if job.Status != models.JobCancelled || job.File != file {
			t.Errorf("expected cancelled with file kept, got %+v", job)
		}
	})

	t.Run("Start Error Fails Job", func(t *testing.T) {
		f := newFixture()
		f.engine.err = errors.New("open: permission denied")

		f.coord.ChooseFile(videoFile())
		if err := f.coord.Submit(context.Background()); err == nil {
			t.Fatal("expected start error")
		}

		if status := f.coord.Snapshot().Status; status != models.JobFailed {
			t.Errorf("expected failed, got %s", status)
		}
		if err := f.coord.Wait(context.Background()); err == nil {
			t.Error("expected Wait to report the start error")
		}
	})

	t.Run("Mutations Rejected While Uploading", func(t *testing.T) {
		f := newFixture()
		f.coord.ChooseFile(videoFile())
		f.coord.Submit(context.Background())
		defer f.coord.Cancel()

		if err := f.coord.ChooseFile(videoFile()); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("ChooseFile: expected ErrInvalidInput, got %v", err)
		}
		if err := f.coord.SetTitle("x"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("SetTitle: expected ErrInvalidInput, got %v", err)
		}
		if err := f.coord.Submit(context.Background()); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("Submit: expected ErrInvalidInput, got %v", err)
		}
		if err := f.coord.Clear(); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("Clear: expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestProgress(t *testing.T) {
	f := newFixture()
	f.coord.ChooseFile(videoFile())
	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	defer f.coord.Cancel()

	tr := f.engine.lastTransfer()

	var observed []float64
	for _, r := range []float64{0.3, 0.1, 0.6} {
		f.coord.apply(tr, progress(r))
		observed = append(observed, f.coord.Snapshot().Progress)
	}

	want := []float64{0.3, 0.3, 0.6}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, observed)
		}
	}
}

func TestCancel(t *testing.T) {
	t.Run("While Uploading", func(t *testing.T) {
		f := newFixture()
		f.coord.ChooseFile(videoFile())
		f.coord.Submit(context.Background())
		tr := f.engine.lastTransfer()

		if err := f.coord.Cancel(); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}

		job := f.coord.Snapshot()
		if job.Status != models.JobIdle || job.File != nil {
			t.Errorf("expected idle job, got %+v", job)
		}
		if !tr.wasCancelled() {
			t.Error("expected transfer to be cancelled")
		}
		if err := f.coord.Wait(context.Background()); !errors.Is(err, shared.ErrAborted) {
			t.Errorf("expected ErrAborted from Wait, got %v", err)
		}

		records, _ := f.recorder.snapshot()
		if len(records) != 1 || records[0].Status != models.JobCancelled {
			t.Errorf("expected a cancelled record, got %+v", records)
		}
	})

	t.Run("Late Events Are Ignored", func(t *testing.T) {
		f := newFixture()
		f.coord.ChooseFile(videoFile())
		f.coord.Submit(context.Background())
		tr := f.engine.lastTransfer()
		f.coord.Cancel()

		f.coord.apply(tr, succeeded)

		if status := f.coord.Snapshot().Status; status != models.JobIdle {
			t.Errorf("expected idle, got %s", status)
		}
		if f.catalog.count() != 0 {
			t.Error("expected no fetch for a cancelled transfer")
		}
	})

	t.Run("Only Valid While Uploading", func(t *testing.T) {
		f := newFixture()
		if err := f.coord.Cancel(); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput when idle, got %v", err)
		}

		f.coord.ChooseFile(videoFile())
		if err := f.coord.Cancel(); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput when selected, got %v", err)
		}
		if status := f.coord.Snapshot().Status; status != models.JobSelected {
			t.Errorf("expected selection to be untouched, got %s", status)
		}
	})
}

func TestClear(t *testing.T) {
	f := newFixture()
	f.coord.ChooseFile(videoFile())

	if err := f.coord.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if job := f.coord.Snapshot(); job.Status != models.JobIdle || job.File != nil || job.Title != "" {
		t.Errorf("expected cleared job, got %+v", job)
	}
}

func TestWaitWithoutUpload(t *testing.T) {
	if err := newFixture().coord.Wait(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture()
	ch, unsubscribe := f.coord.Subscribe()
	defer unsubscribe()

	f.coord.ChooseFile(videoFile())
	tu.Receive(t, ch, waitTimeout)
}

func TestCoordinatorWithEngine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("title") != "beach" {
			http.Error(w, "bad title", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/videos/beach.mp4", []byte("fake mp4 payload"), 0644)

	file, err := OpenFile(fs, "/videos/beach.mp4")
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}

	engine := transfer.NewEngine(transfer.EngineOpts{Endpoint: server.URL, Logger: shared.NewLogger(io.Discard)})
	catalog := &fakeRefresher{}
	coord := NewCoordinator(engine, catalog, Options{Logger: shared.NewLogger(io.Discard)})

	if err := coord.ChooseFile(file); err != nil {
		t.Fatalf("ChooseFile failed: %v", err)
	}
	if err := coord.Submit(context.Background()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := coord.Wait(ctx); err != nil {
		t.Fatalf("expected upload to succeed, got %v", err)
	}

	if coord.Snapshot().Status != models.JobIdle || catalog.count() != 1 {
		t.Errorf("expected idle job and one refresh, got %s and %d", coord.Snapshot().Status, catalog.count())
	}
}
