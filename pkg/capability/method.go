package capability

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/avs/pkg/crypto"
)

// algorithm is the JWS alg header carried by capability tokens.
const algorithm = "HS256"

// signerMethod adapts a crypto.Signer to jwt.SigningMethod so tokens are
// produced by the injected key instead of a raw []byte secret.
type signerMethod struct{}

var method jwt.SigningMethod = signerMethod{}

func (signerMethod) Alg() string { return algorithm }

func (signerMethod) Sign(signingString string, key any) ([]byte, error) {
	s, ok := key.(crypto.Signer)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	return s.Sign([]byte(signingString)), nil
}

func (signerMethod) Verify(signingString string, sig []byte, key any) error {
	s, ok := key.(crypto.Signer)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	if !s.Verify([]byte(signingString), sig) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}
