package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/cowatch/internal/formatter"
	"github.com/desertthunder/cowatch/internal/models"
)

var _ list.Item = videoItem{}

// videoItem wraps [models.VideoEntry] to implement [list.Item].
type videoItem struct {
	entry    models.VideoEntry
	selected bool
}

func (i videoItem) FilterValue() string { return i.entry.Title }

func (i videoItem) Title() string {
	if i.selected {
		return "▶ " + i.entry.Title
	}
	return i.entry.Title
}

func (i videoItem) Description() string {
	desc := formatter.FormatSize(i.entry.Size)
	if i.entry.UploadedAt != "" {
		desc = fmt.Sprintf("%s • %s", desc, formatter.FormatRelative(i.entry.UploadedAt, time.Now()))
	}
	return desc
}

func videoItems(state models.CatalogState) []list.Item {
	selected, hasSelection := state.SelectedID.Get()

	items := make([]list.Item, len(state.Entries))
	for i, e := range state.Entries {
		items[i] = videoItem{entry: e, selected: hasSelection && e.ID == selected}
	}
	return items
}
