package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// DevSecret is used when no secret is configured and the caller explicitly
// allows it. Never valid outside local development.
const DevSecret = "dev-only-not-for-prod"

// ErrNoSecret is returned when no signing secret is configured.
var ErrNoSecret = errors.New("no signing secret configured")

// SecretSource describes where the operator secret comes from. Value wins
// over File.
type SecretSource struct {
	Value    string
	File     string
	AllowDev bool
}

// LoadSecret resolves the operator secret. Values may be prefixed with
// "hex:" or "base64:"; anything else is used verbatim.
func LoadSecret(src SecretSource) ([]byte, error) {
	if v := strings.TrimSpace(src.Value); v != "" {
		return decodeSecret(v)
	}
	if src.File != "" {
		// #nosec G304 -- path is operator-configured.
		raw, err := os.ReadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("read signing secret: %w", err)
		}
		trim := strings.TrimSpace(string(raw))
		if trim == "" {
			return nil, fmt.Errorf("signing secret file %s is empty", src.File)
		}
		return decodeSecret(trim)
	}
	if src.AllowDev {
		slog.Warn("using development signing secret; tokens are forgeable", "component", "crypto")
		return []byte(DevSecret), nil
	}
	return nil, ErrNoSecret
}

func decodeSecret(v string) ([]byte, error) {
	switch {
	case strings.HasPrefix(v, "base64:"):
		out, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, "base64:"))
		if err != nil {
			return nil, fmt.Errorf("decode base64 signing secret: %w", err)
		}
		return out, nil
	case strings.HasPrefix(v, "hex:"):
		out, err := hex.DecodeString(strings.TrimPrefix(v, "hex:"))
		if err != nil {
			return nil, fmt.Errorf("decode hex signing secret: %w", err)
		}
		return out, nil
	default:
		return []byte(v), nil
	}
}
