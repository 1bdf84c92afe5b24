// Package webcore is an embeddable HTTP/1.1 and WebSocket server.
//
// It is meant to be linked into an application that needs to expose
// dynamic pages, static content, and bidirectional real-time channels
// without shelling out to an external web-server process. Consumers
// register Repository providers and WebSocket Endpoints on a Server,
// which owns the accept loop, the HTTP/1.1 parser and keep-alive
// pipeline, TLS termination, session storage, and RFC 6455 framing.
package webcore
