// Package pool keeps a live pool of device sessions consistent with the
// device registry.
//
// # Reconciliation
//
// [Engine.Reconcile] reads every desired device from the registry and runs a
// bounded number of workers in parallel. For each device a worker either
// validates the pooled handle with a health probe or opens a new session
// through the [session.Factory]. Failures are isolated per device: a failed
// device is marked unconnected in the registry and left out of the pool, and
// the pass continues. Once every worker has finished, handles whose hostname
// is no longer in the registry are evicted and closed.
//
// Passes never overlap. A pass requested while another is running is dropped
// and reported with [Summary.Skipped] set.
//
// A device whose open keeps failing authentication is deferred: after
// [Config.AuthFailureThreshold] consecutive failures, passes skip it for an
// escalating cooldown so repeated logins do not lock the device account.
// AddOrUpdate always attempts the open and clears the deferral.
//
// # Direct operations
//
// [Engine.AddOrUpdate] and [Engine.Remove] change one device immediately and
// may run concurrently with a pass. All pool mutations for one hostname are
// serialized by a per-hostname lock, so a device added during a pass is never
// evicted by that pass and a device removed during a pass is not left behind.
//
// # Events
//
// Connection lifecycle events are kept in a per-hostname ring buffer of the
// last 100 entries ([Engine.Events]) and delivered to listeners registered
// with [Engine.OnEvent] or channels returned by [Engine.Subscribe].
package pool
