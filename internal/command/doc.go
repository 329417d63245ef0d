// Package command splits command lines into argv, resolves executables
// and runs them through a hostio.IO with timeout, accepted exit codes and
// retries. Outcomes are Result values tagged with a FailureKind.
package command
