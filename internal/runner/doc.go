// Package runner launches field-simulation runs asynchronously for the demo
// service. It builds a task set per run, drives it through the dispatch
// engine, streams progress through the broker, and records the outcome in the
// run-history store.
package runner
