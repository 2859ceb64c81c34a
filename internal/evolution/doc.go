// Package evolution schedules the replacement of shared key material.
//
// A Scheduler owns the current keys.Material and evolves it to its successor
// when a Trigger reports that the material has been used long enough, or on
// demand after a numeric failure. Callers hold a Lease while they use a
// material; a retired material is wiped once its last lease is released.
package evolution
