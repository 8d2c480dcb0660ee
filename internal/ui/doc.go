// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI is a thin presentation adapter over the catalog store and the upload coordinator:
//  1. [CatalogView] : Browse videos, play the selected one, refresh
//  2. [ConfirmView] : Confirm deleting the selected video
//  3. [UploadView] : Choose a file, edit its title, watch progress, cancel
//
// The [Model] never mutates state itself. It renders snapshots and calls the store and coordinator
// operations; their change notifications arrive as messages through the Msg union type.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
