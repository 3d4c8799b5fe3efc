// Package api exposes an Engine over HTTP.
//
// Documents are submitted with POST /documents, either as JSON naming a file
// the server can read or as a multipart upload. Progress streams over the
// websocket at /ws. Retrieval and collection management live under /users.
package api
