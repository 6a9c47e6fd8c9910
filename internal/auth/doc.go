// Package auth verifies API bearer tokens for nsmd.
//
// Tokens are HS256 JWTs carrying a subject and one of three roles
// (viewer, operator, admin). Role permissions are a static table with no
// database lookup. Read endpoints are open; configuration writes need
// device:configure and passthrough needs device:passthrough.
package auth
