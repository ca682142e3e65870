package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/mr-tron/base58"
)

// ed25519Multicodec is the two-byte multicodec prefix (0xed 0x01) for an
// Ed25519 public key, as used by did:key and publicKeyMultibase.
var ed25519Multicodec = []byte{0xed, 0x01}

// SynthesizeKeyDocument builds a single-verification-method DID document
// for a did:key identifier without any network access: the document's only
// key material is embedded in the identifier itself.
func SynthesizeKeyDocument(did string) (*Document, error) {
	parsed, err := ParseDID(did)
	if err != nil {
		return nil, err
	}
	if parsed.Method != "key" {
		return nil, fmt.Errorf("identity: not a did:key: %s", did)
	}

	keyID := did + "#" + parsed.Value
	return &Document{
		ID: did,
		VerificationMethod: []VerificationMethod{
			{
				ID:                 keyID,
				Type:               "Ed25519VerificationKey2020",
				Controller:         did,
				PublicKeyMultibase: parsed.Value,
			},
		},
	}, nil
}

// ExtractEd25519PublicKey pulls the raw 32-byte Ed25519 public key out of a
// verification method, trying publicKeyBase64, publicKeyMultibase, then
// publicKeyJwk in that order.
func ExtractEd25519PublicKey(vm *VerificationMethod) (ed25519.PublicKey, error) {
	if vm.PublicKeyBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(vm.PublicKeyBase64)
		if err != nil {
			raw, err = base64.RawStdEncoding.DecodeString(vm.PublicKeyBase64)
			if err != nil {
				return nil, fmt.Errorf("identity: invalid publicKeyBase64: %w", err)
			}
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("identity: publicKeyBase64 has wrong length %d", len(raw))
		}
		return ed25519.PublicKey(raw), nil
	}

	if vm.PublicKeyMultibase != "" {
		return decodeMultibaseEd25519(vm.PublicKeyMultibase)
	}

	if len(vm.PublicKeyJwk) > 0 {
		key, err := jwk.ParseKey(vm.PublicKeyJwk)
		if err != nil {
			return nil, fmt.Errorf("identity: invalid publicKeyJwk: %w", err)
		}
		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("identity: could not extract raw key: %w", err)
		}
		pub, ok := raw.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("identity: publicKeyJwk is not an Ed25519 key")
		}
		return pub, nil
	}

	return nil, fmt.Errorf("identity: verification method %s has no usable key encoding", vm.ID)
}

func decodeMultibaseEd25519(mb string) (ed25519.PublicKey, error) {
	if len(mb) == 0 || mb[0] != 'z' {
		return nil, fmt.Errorf("identity: publicKeyMultibase must use base58btc ('z') prefix, got %q", mb)
	}
	decoded, err := base58.Decode(mb[1:])
	if err != nil {
		return nil, fmt.Errorf("identity: invalid base58btc multibase key: %w", err)
	}
	if len(decoded) < 2 || decoded[0] != ed25519Multicodec[0] || decoded[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("identity: publicKeyMultibase is not an Ed25519 (0xed01) multicodec key")
	}
	raw := decoded[2:]
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: decoded multibase key has wrong length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// EncodeMultibaseEd25519 is the inverse of decodeMultibaseEd25519, used by
// cmd/genkey.
func EncodeMultibaseEd25519(pub ed25519.PublicKey) string {
	buf := append(append([]byte{}, ed25519Multicodec...), pub...)
	return "z" + base58.Encode(buf)
}
