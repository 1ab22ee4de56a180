// Package connpool provides the single-connection pool behind a security
// context.
//
// The pool is not for throughput. It caps each context at one live
// connection so two callers can never interleave statements on one
// session identity.
//
// # Acquisition
//
// Take runs an explicit state machine while holding the pool slot:
//
//	Idle ──► Probing ──► Reusable ─────┐
//	  │          │                      ├──► Acquired
//	  │          └────► Reconnecting ───┘
//	  └───────────────► Reconnecting (no connection yet)
//
// A connection idle for more than IdleProbeAfter (15s by default) is
// pinged. A failed ping is never reported to the caller: the connection
// is closed and a new one is dialed before Take returns. Only a failed
// dial surfaces, as *ConnectionError.
//
// Options.OnTransition observes each step, which makes the ordering
// testable without a database.
//
// # Release
//
// Every lease must be released. Passing the statement error to Release
// lets the pool discard a connection that died or whose caller cancelled
// mid-statement:
//
//	lease, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	err = use(lease.Conn)
//	lease.Release(err)
package connpool
