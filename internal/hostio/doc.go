// Package hostio owns the host capability consumed by exec handlers.
//
// Ownership boundary:
// - file existence checks
//
// - process spawning with a wall-clock deadline and forced termination
//
// - environment overlay onto the inherited process environment
//
// Implementations: Local (this machine) and SSH (one remote host).
package hostio
