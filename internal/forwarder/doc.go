// Package forwarder runs the per-tenant forwarding loops.
//
// A Loop repeatedly enumerates an account's destinations, forwards the
// tenant's source message to each of them with pacing, and reacts to
// delivery outcomes through Decide. The Registry owns the running loops
// and serializes start/stop per tenant.
package forwarder
