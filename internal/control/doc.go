// Package control implements the operations the bot front end exposes:
// switching forwarding on and off, delay and schedule settings, account,
// source and group management, and the admin surface.
//
// Every write goes through the record store first; the loop registry is
// then brought in line with the stored record.
package control
