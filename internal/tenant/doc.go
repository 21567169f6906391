// Package tenant establishes the effective tenant identity for one logical
// operation.
//
// A Scope is an explicit value threaded through every data-access call; there
// is no ambient or global tenant state. Scopes are only produced by Bind from a
// Principal that the authentication layer resolved from a validated token, so
// request payload fields can never influence which tenant a session is bound to.
//
// The zero Scope is invalid. Storage entry points fail closed when handed one.
package tenant
