// Package httpserver exposes group management and file transfers over HTTP.
//
// Routes:
//
//	POST   /api/v1/groups                              provision a group
//	POST   /api/v1/groups/{group}/members              add a member
//	DELETE /api/v1/groups/{group}/members/{user}       revoke a member and rotate the key
//	POST   /api/v1/groups/{group}/keys                 rotate the group key
//	POST   /api/v1/groups/{group}/files                upload (raw body)
//	GET    /api/v1/groups/{group}/files                list transfer records
//	GET    /api/v1/groups/{group}/files/{cid}          retrieve and decrypt
//	GET    /api/v1/groups/{group}/files/{cid}/records  reconcile a CID against the ledger
//
// The first four routes are management routes. They require
// "Authorization: Bearer <admin token>" and are disabled without one. Group
// management calls are signed with the service's ledger key.
//
// File routes need an authenticated user: either a bearer token signed with
// the user token secret (HS256, issuer "groupshare", subject = user id, see
// IssueUserToken), or X-User-Id set by a trusted proxy that also sends
// X-Proxy-Token. X-User-Id without the proxy token is ignored.
//
// Failed requests return an ErrorResponse whose class tells the caller
// whether to retry, reconcile or give up; a partial saga is reported as 502
// with the orphaned CID, an ambiguous record as 202.
//
// The server also serves /livez, /readyz, /drain and /undrain, and /debug
// when pprof is enabled. Metrics are served on a separate listener.
package httpserver
