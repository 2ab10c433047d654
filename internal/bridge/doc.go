// Package bridge wires the hub and the bus together.
//
// Ownership boundary:
//   - Orchestrator: one run with a fresh registry and fresh connections;
//     four supervised loops plus the bus publisher under one errgroup
//   - Service: the process loop that restarts a failed run after a cooldown
//
// Loop contract:
// - a loop returns nil when its context ends
// - a non-nil return is fatal for the run and cancels the siblings
// - per-device and per-message failures are logged and skipped
//
// Keying: stream notifications resolve devices by hub id, bus commands by
// address.
package bridge
