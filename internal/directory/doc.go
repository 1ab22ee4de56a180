// Package directory resolves users to the key material their cookies
// were issued with.
//
// The SQL implementation joins the account tables of two schemas:
// miranda.users and miranda.users_details for identity, and
// miranda_web.web_users for the per-user secret and salt. It must run
// on an admin security context; other contexts get
// sctx.ErrAdminRequired before any query is sent.
package directory
