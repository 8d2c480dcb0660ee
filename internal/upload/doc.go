// Package upload binds a chosen file and title to a transfer and folds its events into a job.
//
// The [Coordinator] owns the single [models.TransferJob]. It validates preconditions,
// starts the transfer, clamps progress so it never regresses, and refreshes the catalog
// after a successful upload. Failed and cancelled jobs keep their file and title so the
// user can retry without choosing the file again.
package upload
