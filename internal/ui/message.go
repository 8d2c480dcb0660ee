package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgCatalogChanged MsgKind = iota
	MsgJobChanged
	MsgFetchDone
	MsgDeleteDone
	MsgPlayDone
	MsgUploadDone
)

// Err returns the error carried by a *Done message, if any.
func (m Msg) Err() error {
	err, _ := m.data.(error)
	return err
}

// changedMsg is the constructor for [MsgCatalogChanged] and [MsgJobChanged]
func changedMsg(kind MsgKind) Msg {
	return Msg{kind: kind}
}

// doneMsg is the constructor for the operation results ([MsgFetchDone], [MsgDeleteDone], ...)
func doneMsg(kind MsgKind, err error) Msg {
	return Msg{kind: kind, data: err}
}

// waitForChange blocks on a subscription channel and reports one change.
//
// A closed channel yields no message, which ends the loop.
func waitForChange(ch <-chan struct{}, kind MsgKind) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg(kind)
	}
}
