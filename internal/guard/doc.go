// Package guard decides whether an exec::Run command should execute.
//
// Ownership boundary:
// - creates: path existence
// - unless: vetoes on exit 0
// - onlyif: vetoes on non-zero exit
//
// Guards short-circuit in that order. A guard that cannot be resolved or
// that times out counts as not satisfied.
package guard
