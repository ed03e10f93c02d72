// Package auth admits callers to the campaign-gateway API.
//
// # Credentials
//
// Callers present an opaque API key as "Authorization: Bearer <key>". A key
// is valid while it appears in the allow-list, a JSON array stored under the
// api_keys entry of the key-value store. The list is read on every request,
// so edits made with campaign-admin take effect immediately. Until the entry
// exists, auth.default_keys from the config is used instead.
//
// HashKey produces entries of the form "fp:<fingerprint>:<bcrypt hash>". The
// fingerprint is a sha256 prefix of the key, so a lookup only runs bcrypt for
// the entry whose fingerprint matches and an unknown key costs no bcrypt work.
// Bare hashes starting with $2a$, $2b$ or $2y$ are still accepted and are
// always verified. Everything else is compared literally.
//
// # Admission
//
// Gate.Admit authenticates first and only then counts a rate limit attempt
// for the client identity (see ClientIdentity). Rejections are
// *AdmissionError values matching ErrAuthFailed or ErrRateLimited.
//
// HTTPAdmissionMiddleware wraps Admit for chi routes and stores the result
// with WithAuth; handlers read it back with FromContext.
package auth
