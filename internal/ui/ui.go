package ui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/desertthunder/cowatch/internal/formatter"
	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	CatalogView ViewState = iota
	ConfirmView
	UploadView
)

// Catalog is the slice of the catalog store the TUI drives.
type Catalog interface {
	Snapshot() models.CatalogState
	Subscribe() (<-chan struct{}, func())
	Fetch(ctx context.Context) error
	Select(id int64) bool
	Delete(ctx context.Context, id int64) error
}

// Uploader is the slice of the upload coordinator the TUI drives.
type Uploader interface {
	Snapshot() models.TransferJob
	Subscribe() (<-chan struct{}, func())
	ChooseFile(file models.File) error
	SetTitle(text string) error
	Submit(ctx context.Context) error
	Wait(ctx context.Context) error
	Cancel() error
	Clear() error
}

// Options carries the Model's collaborators.
type Options struct {
	Catalog  Catalog
	Uploader Uploader
	Resolve  func(ref string) (string, error)        // turns an entry URL into a playable address
	Play     func(url string) error                  // opens a playable address
	OpenFile func(path string) (models.File, error) // reads a local file for upload
	Logger   *log.Logger
}

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	view     ViewState
	catalog  Catalog
	uploader Uploader
	resolve  func(string) (string, error)
	play     func(string) error
	openFile func(string) (models.File, error)
	logger   *log.Logger

	state   models.CatalogState
	job     models.TransferJob
	videos  list.Model
	path    textinput.Model
	title   textinput.Model
	bar     progress.Model
	spinner spinner.Model
	pending models.VideoEntry
	status  string
	err     error
	width   int
	height  int
	help    help.Model
	keys    keyMap

	catalogCh   <-chan struct{}
	jobCh       <-chan struct{}
	unsubscribe []func()
}

// NewModel creates a TUI model subscribed to the catalog and uploader. Call [Model.Close]
// once the program exits.
func NewModel(ctx context.Context, opts Options) *Model {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	path := textinput.New()
	path.Placeholder = "/path/to/video.mp4"
	path.Prompt = ""
	path.CharLimit = 4096

	title := textinput.New()
	title.Placeholder = "defaults to the file name"
	title.Prompt = ""
	title.CharLimit = 256

	videos := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	videos.Title = "Videos"
	videos.SetShowHelp(false)

	m := &Model{
		ctx:      ctx,
		view:     CatalogView,
		catalog:  opts.Catalog,
		uploader: opts.Uploader,
		resolve:  opts.Resolve,
		play:     opts.Play,
		openFile: opts.OpenFile,
		logger:   opts.Logger,
		videos:   videos,
		path:     path,
		title:    title,
		bar:      progress.New(progress.WithDefaultGradient()),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:     help.New(),
		keys:     newKeyMap(),
	}

	var unsub func()
	m.catalogCh, unsub = opts.Catalog.Subscribe()
	m.unsubscribe = append(m.unsubscribe, unsub)
	m.jobCh, unsub = opts.Uploader.Subscribe()
	m.unsubscribe = append(m.unsubscribe, unsub)

	m.refreshState()
	m.job = opts.Uploader.Snapshot()
	return m
}

// Close releases the model's subscriptions.
func (m *Model) Close() {
	for _, unsub := range m.unsubscribe {
		unsub()
	}
	m.unsubscribe = nil
}

// Init starts the first fetch and the change listeners.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetch(),
		m.spinner.Tick,
		waitForChange(m.catalogCh, MsgCatalogChanged),
		waitForChange(m.jobCh, MsgJobChanged),
	)
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.videos.SetSize(msg.Width-4, msg.Height-8)
		m.bar.Width = min(max(msg.Width-10, 10), 80)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch m.view {
		case CatalogView:
			return m.handleCatalogKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case UploadView:
			return m.handleUploadKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgCatalogChanged:
		m.refreshState()
		return m, waitForChange(m.catalogCh, MsgCatalogChanged)

	case MsgJobChanged:
		m.job = m.uploader.Snapshot()
		return m, waitForChange(m.jobCh, MsgJobChanged)

	case MsgFetchDone:
		if err := msg.Err(); err != nil {
			m.logger.Warn("fetch failed", "error", err)
		}

	case MsgDeleteDone:
		if err := msg.Err(); err != nil {
			m.setError(fmt.Errorf("delete failed: %w", err))
		} else {
			m.setStatus("Deleted " + m.pending.Title)
		}
		m.pending = models.VideoEntry{}

	case MsgPlayDone:
		if err := msg.Err(); err != nil {
			m.setError(fmt.Errorf("could not play video: %w", err))
		}

	case MsgUploadDone:
		switch err := msg.Err(); {
		case err == nil:
			m.setStatus("Upload complete")
			m.path.SetValue("")
			m.title.SetValue("")
		case errors.Is(err, shared.ErrAborted):
			m.setStatus("Upload cancelled")
		default:
			m.setError(fmt.Errorf("upload failed: %w", err))
		}
	}
	return m, nil
}

func (m *Model) refreshState() {
	state := m.catalog.Snapshot()
	changed := !slices.Equal(state.Entries, m.state.Entries) || state.SelectedID != m.state.SelectedID
	m.state = state
	if changed {
		m.videos.SetItems(videoItems(state))
	}
}

func (m *Model) handleCatalogKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.videos.FilterState() == list.Filtering {
		return m.updateList(msg)
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.refresh):
		m.setStatus("Refreshing…")
		return m, m.fetch()
	case key.Matches(msg, m.keys.upload):
		m.view = UploadView
		m.clearMessages()
		m.title.Blur()
		return m, m.path.Focus()
	case key.Matches(msg, m.keys.remove):
		if entry, ok := m.current(); ok {
			m.catalog.Select(entry.ID)
			m.pending = entry
			m.view = ConfirmView
		}
		return m, nil
	case key.Matches(msg, m.keys.play):
		if entry, ok := m.current(); ok {
			m.catalog.Select(entry.ID)
			return m, m.playEntry(entry)
		}
		return m, nil
	}

	return m.updateList(msg)
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.abort):
		return m, tea.Quit
	case key.Matches(msg, m.keys.yes):
		m.view = CatalogView
		return m, m.deleteEntry(m.pending.ID)
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.quit):
		m.view = CatalogView
		m.pending = models.VideoEntry{}
	}
	return m, nil
}

func (m *Model) handleUploadKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	uploading := m.job.Status.IsActive()

	switch {
	case key.Matches(msg, m.keys.abort):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		if uploading {
			if err := m.uploader.Cancel(); err != nil {
				m.setError(err)
			}
			return m, nil
		}
		m.view = CatalogView
		m.path.Blur()
		m.title.Blur()
		return m, nil
	}

	if uploading {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.next):
		if m.path.Focused() {
			m.path.Blur()
			return m, m.title.Focus()
		}
		m.title.Blur()
		return m, m.path.Focus()
	case key.Matches(msg, m.keys.clear):
		if err := m.uploader.Clear(); err != nil {
			m.setError(err)
		}
		m.path.SetValue("")
		m.title.SetValue("")
		return m, nil
	case key.Matches(msg, m.keys.submit):
		return m, m.startUpload()
	}

	var cmd tea.Cmd
	if m.path.Focused() {
		m.path, cmd = m.path.Update(msg)
	} else {
		m.title, cmd = m.title.Update(msg)
	}
	return m, cmd
}

// startUpload pushes the form into the coordinator and submits it.
func (m *Model) startUpload() tea.Cmd {
	m.clearMessages()

	path := strings.TrimSpace(m.path.Value())
	if path != "" {
		file, err := m.openFile(path)
		if err != nil {
			m.setError(err)
			return nil
		}
		if err := m.uploader.ChooseFile(file); err != nil {
			m.setError(err)
			return nil
		}
	}

	if title := m.title.Value(); strings.TrimSpace(title) != "" {
		if err := m.uploader.SetTitle(title); err != nil {
			m.setError(err)
			return nil
		}
	}

	m.job = m.uploader.Snapshot()
	m.title.SetValue(m.job.Title)

	return func() tea.Msg {
		if err := m.uploader.Submit(m.ctx); err != nil {
			return doneMsg(MsgUploadDone, err)
		}
		return doneMsg(MsgUploadDone, m.uploader.Wait(m.ctx))
	}
}

func (m *Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.videos, cmd = m.videos.Update(msg)
	return m, cmd
}

func (m *Model) current() (models.VideoEntry, bool) {
	item, ok := m.videos.SelectedItem().(videoItem)
	if !ok {
		return models.VideoEntry{}, false
	}
	return item.entry, true
}

func (m *Model) fetch() tea.Cmd {
	return func() tea.Msg {
		return doneMsg(MsgFetchDone, m.catalog.Fetch(m.ctx))
	}
}

func (m *Model) deleteEntry(id int64) tea.Cmd {
	return func() tea.Msg {
		return doneMsg(MsgDeleteDone, m.catalog.Delete(m.ctx, id))
	}
}

func (m *Model) playEntry(entry models.VideoEntry) tea.Cmd {
	return func() tea.Msg {
		url, err := m.resolve(entry.URL)
		if err != nil {
			return doneMsg(MsgPlayDone, err)
		}
		return doneMsg(MsgPlayDone, m.play(url))
	}
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.err = nil
}

func (m *Model) setError(err error) {
	m.err = err
	m.status = ""
}

func (m *Model) clearMessages() {
	m.status = ""
	m.err = nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case CatalogView:
		return m.renderCatalog()
	case ConfirmView:
		return m.renderConfirm()
	case UploadView:
		return m.renderUpload()
	default:
		return ""
	}
}

func (m *Model) renderCatalog() string {
	var header strings.Builder
	header.WriteString(formatter.Summary(m.state.Entries))
	if m.state.FromCache {
		header.WriteString(styles.warn.Render("  (offline copy)"))
	}
	if m.state.Loading {
		header.WriteString("  " + m.spinner.View() + " loading")
	}

	var footer string
	switch {
	case m.err != nil:
		footer = styles.err.Render(m.err.Error())
	case m.state.LastError != nil:
		footer = styles.err.Render("Could not refresh: " + m.state.LastError.Error())
	case m.status != "":
		footer = styles.ok.Render(m.status)
	}

	helpKeys := []key.Binding{m.keys.play, m.keys.remove, m.keys.upload, m.keys.refresh, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s\n%s\n\n%s", header.String(), m.videos.View(), footer, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("Delete '%s'?", m.pending.Title))
	info := fmt.Sprintf("Size: %s\nUploaded: %s\n", formatter.FormatSize(m.pending.Size), formatter.FormatDate(m.pending.UploadedAt))

	helpKeys := []key.Binding{m.keys.yes, m.keys.no}
	return fmt.Sprintf("%s\n%s\n%s", title, info, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderUpload() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Upload a video"))
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s %s\n", styles.label.Render("File"), m.path.View())
	fmt.Fprintf(&b, "%s %s\n\n", styles.label.Render("Title"), m.title.View())

	switch m.job.Status {
	case models.JobUploading:
		if m.job.Indeterminate {
			fmt.Fprintf(&b, "%s uploading %s\n", m.spinner.View(), m.job.FileName())
		} else {
			fmt.Fprintf(&b, "%s\n", m.bar.ViewAs(m.job.Progress))
		}
	case models.JobSelected:
		fmt.Fprintf(&b, "Ready: %s (%s)\n", m.job.FileName(), formatter.FormatSize(m.job.File.Size()))
	case models.JobFailed:
		fmt.Fprintf(&b, "%s\n", styles.err.Render("Failed: "+errString(m.job.Err)+" (enter to retry)"))
	case models.JobCancelled:
		fmt.Fprintf(&b, "%s\n", styles.warn.Render("Cancelled (enter to retry)"))
	}

	switch {
	case m.err != nil:
		b.WriteString(styles.err.Render(m.err.Error()) + "\n")
	case m.status != "":
		b.WriteString(styles.ok.Render(m.status) + "\n")
	}

	helpKeys := []key.Binding{m.keys.submit, m.keys.next, m.keys.clear, m.keys.back}
	if m.job.Status.IsActive() {
		helpKeys = []key.Binding{key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel upload"))}
	}
	b.WriteString("\n" + m.help.ShortHelpView(helpKeys))
	return b.String()
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
