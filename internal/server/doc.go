// Package server provides HTTP routing, middleware, and an in-memory video service.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns, so path values such as {id}
// are available through [http.Request.PathValue].
//
// # Video Service
//
// [VideoServer] implements the REST contract the client speaks:
//
//	GET    /api/v1/videos              list, newest first
//	POST   /api/v1/videos/upload       multipart "video" + "title", 201 with the created entry
//	DELETE /api/v1/videos/{id}         200, or 404 when missing
//	GET    /api/v1/videos/stream/{id}  redirect to the stored media
//	GET    /health                     {"status":"ok"}
//
// Entries live in memory and media bytes in an [afero.Fs], so `cowatch serve` can run against
// a scratch directory or nothing at all. It backs local development and the client's tests.
package server
