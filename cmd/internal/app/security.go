package app

import (
	"errors"
	"fmt"

	"devmatch/cmd/security/token"
)

// NewTokenHasher enforces the session-token security policy at startup and
// returns the hasher the relay stores session tokens with.
//
// Fail-fast: under DEVMATCH_REQUIRE_TOKEN_HMAC a missing or short key is an
// error, never a silent fallback to plain SHA-256.
func NewTokenHasher(cfg Config) (token.Hasher, error) {
	key := []byte(cfg.TokenHMACKey)

	if cfg.RequireTokenHMAC && len(key) == 0 {
		return token.Hasher{}, errors.New("security policy: DEVMATCH_REQUIRE_TOKEN_HMAC=true but " + token.HMACEnvKey + " is missing")
	}

	h, err := token.NewHasher(key)
	if err != nil {
		if errors.Is(err, token.ErrHMACKeyTooShort) {
			return token.Hasher{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
		}
		return token.Hasher{}, err
	}

	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: DEVMATCH_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}
