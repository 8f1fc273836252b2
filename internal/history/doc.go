// Package history keeps a local record of node values and command outcomes.
//
// The Recorder is attached to the engine as both a Host and an Observer,
// so it sees exactly what the host sees: one row per appliance-confirmed
// change, and one row per command outcome. Rows live in the SQLite tables
// created by the migrations package and are pruned by age.
package history
