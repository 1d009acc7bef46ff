// Package dispatch provides the multi-device execution engine. It fans a task
// set out across one worker goroutine per device, detects per-device failure
// through the task set's own failure predicates, and transparently remaps
// failed functors onto devices that finished their work successfully and still
// hold allocated resources. Callers learn about permanently failed functors
// only by querying the task set after Run returns; individual device failures
// never abort a run.
package dispatch
