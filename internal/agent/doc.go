// Package agent drives reconciliation passes over a manifest and serves
// the admin HTTP surface.
package agent
