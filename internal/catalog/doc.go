// Package catalog holds the client's view of the video catalog.
//
// The [Store] owns the entry list (in server order), the current selection, a loading
// flag and the last fetch error. Fetches are coalesced so at most one list request is
// in flight. Deletes are serialized per id and followed by a refresh. The selection
// never names an entry that is absent from the list once an operation has returned.
package catalog
