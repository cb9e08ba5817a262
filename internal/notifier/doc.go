// Package notifier delivers short status messages to tenants.
//
// Notify only enqueues. Workers send through the bot transport with a shared
// rate limiter, retry with jittered backoff and suppress duplicate texts
// within a window. A job whose caller context is already done when a worker
// picks it up is dropped, so a stopped forwarding loop leaves nothing behind.
package notifier
