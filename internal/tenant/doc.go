// Package tenant holds the per-user forwarding configuration and the pure
// rules evaluated against it: the admission gate, the daily window, and the
// pacing delay policy.
package tenant
