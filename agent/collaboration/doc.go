// Package collaboration is the coordinator side of multi-agent work.
//
// A Coordinator delegates subtasks over the bus and correlates the results
// that come back to its inbox. Two correlation schemes run side by side:
//
//   - Decomposed collaborations are tracked by an Index keyed by task text
//     and subtask index. Once every index of an original query has reported,
//     the contributions are synthesized and purged.
//   - Ad-hoc collaborations are tracked as Sessions keyed by task text and
//     reply topic. A session completes when every expected agent has
//     answered, or times out; the timeout sweep runs on each inbound
//     response rather than on a timer.
//
// The package also owns the small pieces of per-process state agents rely
// on: the recent-message Dedup cache and the per-peer conversation History.
// All of it is explicit state on the owning value, never package globals.
package collaboration
