// Package identity resolves did:web and did:key identifiers to DID
// documents, extracts verification-method key material, and caches
// documents either in-process (ristretto) or in a shared redis instance.
package identity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// VerificationMethod is one entry of a DID document's verificationMethod
// list, carrying key material in one of three encodings.
type VerificationMethod struct {
	ID                 string          `json:"id"`
	Type               string          `json:"type"`
	Controller         string          `json:"controller,omitempty"`
	PublicKeyBase64    string          `json:"publicKeyBase64,omitempty"`
	PublicKeyMultibase string          `json:"publicKeyMultibase,omitempty"`
	PublicKeyJwk       json.RawMessage `json:"publicKeyJwk,omitempty"`
}

// Service is a DID document service entry; Ring Hub reads the Profile
// service to find an actor's federation-facing profile URL.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Document is the subset of a W3C DID document Ring Hub understands.
type Document struct {
	Context            interface{}          `json:"@context,omitempty"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod,omitempty"`
	Service            []Service            `json:"service,omitempty"`
	Name               string               `json:"name,omitempty"`
	Image              string               `json:"image,omitempty"`
}

func (d *Document) FindVerificationMethod(keyID string) (*VerificationMethod, error) {
	if keyID == "" && len(d.VerificationMethod) > 0 {
		return &d.VerificationMethod[0], nil
	}
	for i := range d.VerificationMethod {
		if d.VerificationMethod[i].ID == keyID {
			return &d.VerificationMethod[i], nil
		}
	}
	if len(d.VerificationMethod) > 0 {
		return &d.VerificationMethod[0], nil
	}
	return nil, fmt.Errorf("identity: no verification method %q in document %s", keyID, d.ID)
}

// ParsedDID splits a did:web or did:key string into its method and the
// remainder, without resolving it.
type ParsedDID struct {
	Method string
	Value  string
	Raw    string
}

func ParseDID(did string) (*ParsedDID, error) {
	if !strings.HasPrefix(did, "did:") {
		return nil, fmt.Errorf("identity: not a DID: %q", did)
	}
	parts := strings.SplitN(did, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("identity: malformed DID: %q", did)
	}
	return &ParsedDID{Method: parts[1], Value: parts[2], Raw: did}, nil
}

// SplitKeyID splits a "did#fragment" keyId into its DID and fragment parts;
// the returned fragment keeps its leading "#".
// If there is no fragment, keyID is returned unchanged as the DID with an
// empty fragment.
func SplitKeyID(keyID string) (did string, fragment string) {
	if idx := strings.Index(keyID, "#"); idx >= 0 {
		return keyID[:idx], keyID[idx:]
	}
	return keyID, ""
}

// WebDocumentURL computes the HTTPS URL to fetch for a did:web identifier:
// the well-known form when there is no path, otherwise one URL path segment
// per colon-separated segment followed by did.json. No segment is rewritten,
// including a "users" or "actors" second segment.
func WebDocumentURL(value string) (string, error) {
	segments := strings.Split(value, ":")
	if len(segments) == 0 || segments[0] == "" {
		return "", fmt.Errorf("identity: empty did:web value")
	}

	host, err := unescapeHostPort(segments[0])
	if err != nil {
		return "", err
	}

	if len(segments) == 1 {
		return fmt.Sprintf("https://%s/.well-known/did.json", host), nil
	}

	path := make([]string, len(segments)-1)
	for i, s := range segments[1:] {
		p, err := unescapeHostPort(s)
		if err != nil {
			return "", err
		}
		path[i] = p
	}

	return fmt.Sprintf("https://%s/%s/did.json", host, strings.Join(path, "/")), nil
}

func unescapeHostPort(s string) (string, error) {
	// did:web percent-encodes ":" in host:port as "%3A"
	return strings.ReplaceAll(s, "%3A", ":"), nil
}
