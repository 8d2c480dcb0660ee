// Package tasks runs catalog operations that span many videos, with progress reporting.
//
// # Bulk Delete
//
// [BulkDelete] removes a list of videos through a [Deleter] (normally the catalog store)
// using a small worker pool. Requests are paced by a token-bucket limiter so a long list
// does not flood the service, and each outcome is reported as it lands.
//
// # Progress Reporting
//
// Progress goes out on an optional channel of [ProgressUpdate]. Sends never block: when
// the channel is full the update is dropped, so a slow consumer cannot stall deletes.
//
// Failures for individual ids are collected in [BulkDeleteResult] rather than aborting
// the run. Cancelling the context stops dispatching; ids that were never attempted are
// reported with the context error.
package tasks
