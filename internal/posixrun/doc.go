// Package posixrun owns the exec::Run handler for POSIX hosts.
//
// Ownership boundary:
// - reconciliation modes (direct_apply, reload) and reload_only gating
// - composition of guard evaluation, command execution and reporting
//
// Handlers never return errors: every outcome, including invalid input,
// is a report.Status.
package posixrun
