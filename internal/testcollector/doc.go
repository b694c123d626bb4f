// Package testcollector is a minimal net.Listener-based stand-in for a
// production collector: it verifies the SHA3-224 tag on each posted record
// and replies with a well-formed acknowledgment, just enough of the wire
// protocol for integration tests to drive a real poster.Poster over a real
// TCP socket. It is not a production server.
package testcollector
