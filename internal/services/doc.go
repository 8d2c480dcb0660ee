// package services implements the HTTP client for the video service.
//
// [VideoService] is constructed with an explicit base URL and derives every endpoint
// from it: list, delete and health requests, the upload endpoint handed to the
// transfer engine, and resolution of relative playback URLs.
//
// Non-2xx responses surface as [*StatusError], which matches [shared.ErrRejected]
// (and [shared.ErrNotFound] for 404). Transport failures match [shared.ErrNetwork].
package services
