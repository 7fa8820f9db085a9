// Package api exposes the REST surface of the relay: synchronous chat,
// asynchronous task submission and inspection, service statistics and health
// probes. It also wires request metrics and access auditing around handlers.
package api
