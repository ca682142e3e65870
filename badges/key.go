package badges

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"

	vaultapi "github.com/hashicorp/vault/api"
)

// LoadSigningKey loads the process-wide badge-signing Ed25519 private key
// from one of three persistent sources: an inline base64-encoded seed, a
// base64-encoded seed file at privateKeyPath, or a Vault secret at
// vaultPath. Per the badge service's binding requirement, callers MUST
// refuse to start if none is configured -- there is no ephemeral-key
// fallback anywhere in this package.
func LoadSigningKey(inlineBase64, privateKeyPath, vaultPath string) (ed25519.PrivateKey, error) {
	if inlineBase64 == "" && privateKeyPath == "" && vaultPath == "" {
		return nil, fmt.Errorf("badges: no persistent signing key configured (set a key file, inline key, or vaultPath); " +
			"issuing with an ephemeral key produces credentials that become unverifiable at next startup")
	}

	if inlineBase64 != "" {
		return decodeSeed(inlineBase64)
	}

	if privateKeyPath != "" {
		raw, err := os.ReadFile(privateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("badges: reading private key file: %w", err)
		}
		return decodeSeed(string(raw))
	}

	return loadFromVault(vaultPath)
}

func decodeSeed(s string) (ed25519.PrivateKey, error) {
	trimmed := trimNewlines(s)
	seed, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("badges: private key must be base64-encoded: %w", err)
	}
	switch len(seed) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(seed), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(seed), nil
	default:
		return nil, fmt.Errorf("badges: private key has unexpected length %d", len(seed))
	}
}

func trimNewlines(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

func loadFromVault(path string) (ed25519.PrivateKey, error) {
	client, err := vaultapi.NewClient(vaultapi.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("badges: vault client: %w", err)
	}

	secret, err := client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("badges: reading vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("badges: no secret at vault path %s", path)
	}

	raw, ok := secret.Data["private_key"].(string)
	if !ok {
		if data, ok := secret.Data["data"].(map[string]interface{}); ok {
			raw, ok = data["private_key"].(string)
			if !ok {
				return nil, fmt.Errorf("badges: vault secret %s missing private_key field", path)
			}
		} else {
			return nil, fmt.Errorf("badges: vault secret %s missing private_key field", path)
		}
	}

	return decodeSeed(raw)
}
