// Package models defines the client-side data model for the cowatch video catalog.
//
// The package contains two categories of types:
//
// 1. Wire types: values exchanged with the video service
//   - [VideoEntry] : one catalog item as returned by GET /api/v1/videos
//   - [HealthStatus] : response of GET /health
//
// 2. Snapshots: read-only copies of state owned by the catalog store and upload coordinator
//   - [CatalogState] : entries in server order, the selection, loading flag and last fetch error
//   - [TransferJob] : the single upload job and its [JobStatus]
//   - [UploadRecord] : persisted terminal outcome of a submitted job
//
// Snapshots are values. Mutating one never changes the owner's state.
package models
