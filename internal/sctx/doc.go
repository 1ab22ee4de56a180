// Package sctx binds a verified identity to a live MySQL session.
//
// A SecurityContext owns exactly one backend connection, held in a
// single-slot connpool.Pool. Every statement issued through the context
// is serialized on that connection, so the session identity the server
// sees never changes underneath a caller.
//
// # Identity
//
// RenewID asks the server who the session belongs to by reading the
// v_user view. The answer is cached and returned by UserID. Contexts
// whose principal starts with "pxy." are proxy accounts; renewing them
// also extends the proxy claim for the calling application, named by
// MIRANDA_APPLICATION.
//
// Admin contexts skip identity resolution entirely and report -1.
//
// # Change notification
//
// WaitForEvent blocks on a dedicated connection running a tagged SLEEP.
// Another process signals the event by killing that query; the kill is
// what WaitForEvent reports as true.
//
// # Errors
//
//   - ErrNoIdentity: the identity view returned no row
//   - ErrAdminRequired: an admin-only operation on a normal context
//   - *connpool.ConnectionError: the backend could not be reached
package sctx
