package identity

import (
	"fmt"
	"strings"
)

// Profile is the set of display fields Ring Hub derives from a DID
// document and caches on the Actor/Membership rows.
type Profile struct {
	ProfileURL     string
	ActorName      string
	AvatarURL      string
	InstanceDomain string
	Handle         string
}

// ErrNoProfileURL is returned when a DID document has no Profile service
// endpoint. Federation cannot proceed without one; callers at the
// membership layer must fail the enclosing operation, while the
// authentication pipeline degrades gracefully and continues without a
// profile.
var ErrNoProfileURL = fmt.Errorf("identity: DID document has no Profile service endpoint")

// ExtractProfile derives display fields from a resolved DID document. did
// is passed separately so instanceDomain can be parsed even if doc.ID
// differs in casing/normalization from the original lookup key.
func ExtractProfile(did string, doc *Document) (*Profile, error) {
	var profileURL string
	for _, svc := range doc.Service {
		if svc.Type == "Profile" {
			profileURL = svc.ServiceEndpoint
			break
		}
	}
	if profileURL == "" {
		return nil, ErrNoProfileURL
	}
	if !strings.HasPrefix(profileURL, "https://") && !strings.HasPrefix(profileURL, "http://localhost") {
		return nil, fmt.Errorf("identity: profile URL must be https (or localhost): %s", profileURL)
	}

	p := &Profile{
		ProfileURL: profileURL,
		ActorName:  doc.Name,
		AvatarURL:  doc.Image,
	}

	parsed, err := ParseDID(did)
	if err == nil && parsed.Method == "web" {
		segments := strings.Split(parsed.Value, ":")
		if len(segments) > 0 {
			p.InstanceDomain = strings.ReplaceAll(segments[0], "%3A", ":")
		}
	}

	trimmed := strings.TrimRight(profileURL, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		p.Handle = strings.TrimPrefix(trimmed[idx+1:], "@")
	}

	return p, nil
}
