package auth

import "golang.org/x/oauth2"

// VerifyCodeChallenge checks a PKCE verifier against the stored challenge.
// A code minted without a challenge always passes.
func VerifyCodeChallenge(method, verifier, challenge string) bool {
	if challenge == "" {
		return true
	}

	if verifier == "" {
		return false
	}

	switch method {
	case "", "plain":
		return secureEquals(verifier, challenge)
	case "S256":
		return secureEquals(oauth2.S256ChallengeFromVerifier(verifier), challenge)
	default:
		return false
	}
}
