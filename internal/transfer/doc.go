// Package transfer drives a single multipart upload and reports it as a finite event stream.
//
// A [Transfer] delivers zero or more progress events followed by exactly one terminal
// event (success or failure), after which its channel is closed. Cancelling before the
// terminal event closes the channel without one. Progress is only reported when the
// request length is known up front.
package transfer
