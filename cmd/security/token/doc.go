// Package token provides opaque session-token generation and hashing.
//
// Session tokens are never stored in clear text:
// - Dev mode: SHA-256(token) when no HMAC key is configured.
// - Keyed mode: HMAC-SHA256(token, key).
// - Stable 64-char hex output for storage and constant-time comparison.
//
// Environment:
// - DEVMATCH_TOKEN_HMAC_KEY: when set, enables keyed mode.
package token
