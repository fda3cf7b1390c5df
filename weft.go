// Package weft is a workflow execution engine. Clients submit directed
// acyclic graphs of typed computational nodes; weft validates them against a
// registry of node types, schedules them on a priority worker pool honoring
// data dependencies, streams progress events, and rolls back completed work
// when a later node fails.
//
// The runtime packages compose as follows: runtime/graph models workflows,
// runtime/registry catalogs executable node types, runtime/queue schedules
// tasks, runtime/executor binds the three together, runtime/module and
// runtime/plugin manage the lifecycle of extensions that contribute node
// types, and runtime/engine exposes the submission API consumed by gateways.
package weft

// Version is the engine release version.
const Version = "0.1.0"
