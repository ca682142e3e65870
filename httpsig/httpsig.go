// Package httpsig implements the HTTP message signature scheme Ring Hub
// uses to authenticate write requests: parsing the Signature header,
// constructing the canonical signing string, and verifying it against an
// Ed25519 public key.
package httpsig

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const (
	AlgorithmEd25519 = "ed25519"
	AlgorithmHS2019  = "hs2019"
)

// Params is the parsed content of a Signature header.
type Params struct {
	KeyID     string
	Algorithm string
	Headers   []string
	Signature string
	Created   *int64
	Expires   *int64
}

var defaultHeaders = []string{"(request-target)", "date"}

// Parse parses a Signature header value of the form
// `keyId="...",algorithm="...",headers="...",signature="...",created=...,expires=...`.
func Parse(header string) (*Params, error) {
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("httpsig: empty Signature header")
	}

	fields, err := parseFields(header)
	if err != nil {
		return nil, err
	}

	p := &Params{
		Algorithm: AlgorithmEd25519,
		Headers:   defaultHeaders,
	}

	if v, ok := fields["keyid"]; ok {
		p.KeyID = v
	} else {
		return nil, fmt.Errorf("httpsig: missing keyId")
	}

	if v, ok := fields["algorithm"]; ok {
		algo := strings.ToLower(v)
		if algo != AlgorithmEd25519 && algo != AlgorithmHS2019 {
			return nil, fmt.Errorf("httpsig: unsupported algorithm %q", v)
		}
		p.Algorithm = AlgorithmEd25519
	}

	if v, ok := fields["headers"]; ok && v != "" {
		p.Headers = strings.Fields(v)
	}

	if v, ok := fields["signature"]; ok {
		p.Signature = v
	} else {
		return nil, fmt.Errorf("httpsig: missing signature")
	}

	if v, ok := fields["created"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("httpsig: invalid created: %w", err)
		}
		p.Created = &n
	}

	if v, ok := fields["expires"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("httpsig: invalid expires: %w", err)
		}
		p.Expires = &n
	}

	return p, nil
}

// parseFields splits a comma-separated key="value" (or key=value) list,
// respecting quoted commas.
func parseFields(s string) (map[string]string, error) {
	out := map[string]string{}
	var key strings.Builder
	var val strings.Builder
	inVal := false
	inQuotes := false

	flush := func() error {
		k := strings.ToLower(strings.TrimSpace(key.String()))
		v := strings.TrimSpace(val.String())
		if k == "" {
			key.Reset()
			val.Reset()
			inVal = false
			return nil
		}
		out[k] = v
		key.Reset()
		val.Reset()
		inVal = false
		return nil
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && inVal:
			inQuotes = !inQuotes
		case c == '=' && !inVal && !inQuotes:
			inVal = true
		case c == ',' && !inQuotes:
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			if inVal {
				val.WriteByte(c)
			} else {
				key.WriteByte(c)
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// SigningStringInput supplies the values Build needs to materialize each
// possible signing-string token.
type SigningStringInput struct {
	Method       string
	PathAndQuery string
	HeaderValues map[string]string // lowercased header name -> raw value
	Created      *int64
	Expires      *int64
}

// Build constructs the canonical signing string for the given header order.
// Each line is "name: value"; the three special tokens use the token itself
// as the name ("(request-target): get /path", "(created): <unix seconds>",
// "(expires): <unix seconds>"). Lines are newline-joined with no trailing
// newline.
func Build(order []string, in SigningStringInput) (string, error) {
	lines := make([]string, 0, len(order))
	for _, h := range order {
		name := strings.ToLower(h)
		switch name {
		case "(request-target)":
			lines = append(lines, fmt.Sprintf("(request-target): %s %s", strings.ToLower(in.Method), in.PathAndQuery))
		case "(created)":
			if in.Created == nil {
				return "", fmt.Errorf("httpsig: signing string requires (created) but none supplied")
			}
			lines = append(lines, fmt.Sprintf("(created): %d", *in.Created))
		case "(expires)":
			if in.Expires == nil {
				return "", fmt.Errorf("httpsig: signing string requires (expires) but none supplied")
			}
			lines = append(lines, fmt.Sprintf("(expires): %d", *in.Expires))
		default:
			v, ok := in.HeaderValues[name]
			if !ok {
				return "", fmt.Errorf("httpsig: missing header %q required by signature", name)
			}
			lines = append(lines, fmt.Sprintf("%s: %s", name, v))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// Digest computes the `sha-256=<base64>` digest value for a request body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// Verify checks sig (base64) against signingString using pub.
func Verify(pub ed25519.PublicKey, signingString string, sigBase64 string) error {
	sig, err := base64.StdEncoding.DecodeString(sigBase64)
	if err != nil {
		return fmt.Errorf("httpsig: invalid base64 signature: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("httpsig: invalid public key size %d", len(pub))
	}
	if !ed25519.Verify(pub, []byte(signingString), sig) {
		return fmt.Errorf("httpsig: signature verification failed")
	}
	return nil
}

// Sign produces a base64-encoded signature, used by tests and by any
// future internal service-to-service caller.
func Sign(priv ed25519.PrivateKey, signingString string) string {
	sig := ed25519.Sign(priv, []byte(signingString))
	return base64.StdEncoding.EncodeToString(sig)
}
