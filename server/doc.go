// Package server exposes document upload, question answering and answer
// rewriting over HTTP.
//
// Routes:
//   - GET / reports that the service is running and which model answers
//   - POST /upload indexes a multipart "file" (pdf or txt) into a session
//   - POST /ask answers a JSON {"session_id", "question"} request
//   - POST /rewrite restyles a JSON {"answer", "style"} request
//   - DELETE /sessions/{id} removes a session and its documents
//
// The session id may also be sent in the X-Session-ID header. Errors are JSON
// objects with an "error" message and a "kind" classification. Invalid input
// is answered with 400; every other failure with 500 and a generic message,
// while the underlying error is only logged.
package server
