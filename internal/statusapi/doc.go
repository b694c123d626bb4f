// Package statusapi exposes a node's liveness, Prometheus metrics, and
// flash-ring block queries over HTTP, in the style of the teacher's rest
// package.
package statusapi
