// Package api exposes the REST surface for submitting agent turns, querying
// their results and streaming completion events. It wires authentication,
// metrics instrumentation and graceful shutdown around the turn service.
package api
