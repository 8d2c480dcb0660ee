// Package repositories implements SQLite persistence for the client's local state.
//
// Key Implementations:
//   - [CatalogRepository] : the last successfully fetched catalog, used to start offline
//   - [UploadHistoryRepository] : terminal outcomes of submitted uploads
//
// Both expect a database migrated with [shared.RunMigrations].
package repositories
