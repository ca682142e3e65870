// Package badges issues, verifies, and revokes the verifiable-credential
// membership badges described by the ring-joining flow: a signed
// OpenBadgeCredential-shaped JSON document binding an actor's DID to a
// ring and role, usable as portable proof of membership.
package badges

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ringhub.sh/ringhub/core/db"
)

type Issuer struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

type Criteria struct {
	Narrative string `json:"narrative"`
}

type Achievement struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Criteria    Criteria `json:"criteria"`
}

type CredentialSubject struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Name        *string     `json:"name,omitempty"`
	Achievement Achievement `json:"achievement"`
}

// Proof is a detached Ed25519 signature over the credential with the proof
// field itself blanked out.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue"`
}

// Credential is the badge's fixed-shape OpenBadgeCredential document,
// stored verbatim (as JSON text) in the badges table's badge_data column.
type Credential struct {
	Context           []string          `json:"@context"`
	ID                string            `json:"id"`
	Type              []string          `json:"type"`
	Issuer            Issuer            `json:"issuer"`
	CredentialSubject CredentialSubject `json:"credentialSubject"`
	IssuanceDate      string            `json:"issuanceDate"`
	Proof             *Proof            `json:"proof,omitempty"`
}

type Service struct {
	db      *db.DB
	signer  ed25519.PrivateKey
	hubURL  string // e.g. https://ringhub.example.org, used to build badge/achievement/key ids
	hubName string
	logger  *slog.Logger
}

func New(database *db.DB, signer ed25519.PrivateKey, hubURL, hubName string, logger *slog.Logger) *Service {
	return &Service{db: database, signer: signer, hubURL: hubURL, hubName: hubName, logger: logger}
}

// Issue signs and persists a badge for an ACTIVE membership. It is invoked
// from the ring and membership engines any time a membership transitions
// to ACTIVE, never directly over HTTP.
func (s *Service) Issue(ctx context.Context, x db.Execer, membershipID, actorDid, ringSlug, ringName, roleName string, actorName *string) (*db.Badge, error) {
	badgeID := uuid.NewString()
	now := time.Now().UTC()

	cred := Credential{
		Context: []string{"https://www.w3.org/ns/credentials/v2", "https://purl.imsglobal.org/spec/ob/v3p0/context.json"},
		ID:      fmt.Sprintf("%s/badges/%s", s.hubURL, badgeID),
		Type:    []string{"VerifiableCredential", "OpenBadgeCredential"},
		Issuer: Issuer{
			ID:   s.hubURL,
			Type: "Profile",
			Name: s.hubName,
		},
		CredentialSubject: CredentialSubject{
			ID:   actorDid,
			Type: "Profile",
			Name: actorName,
			Achievement: Achievement{
				ID:          fmt.Sprintf("%s/rings/%s/achievement", s.hubURL, ringSlug),
				Type:        "Achievement",
				Name:        fmt.Sprintf("%s - %s", ringName, roleName),
				Description: fmt.Sprintf("Membership in %s as %s", ringName, roleName),
				Criteria:    Criteria{Narrative: fmt.Sprintf("Holds an active %s membership in the %s ring.", roleName, ringName)},
			},
		},
		IssuanceDate: now.Format(time.RFC3339),
	}

	signable, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("badges: marshal credential: %w", err)
	}
	sig := ed25519.Sign(s.signer, signable)

	cred.Proof = &Proof{
		Type:               "Ed25519Signature2020",
		Created:            now.Format(time.RFC3339),
		VerificationMethod: s.hubURL + "#key-1",
		ProofPurpose:       "assertionMethod",
		ProofValue:         base64.StdEncoding.EncodeToString(sig),
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("badges: marshal signed credential: %w", err)
	}

	badge := &db.Badge{
		ID:           badgeID,
		MembershipID: membershipID,
		BadgeData:    string(data),
		IssuedAt:     now,
	}
	if err := db.InsertBadge(ctx, x, badge); err != nil {
		return nil, err
	}

	m, err := db.GetMembershipByID(ctx, x, membershipID)
	if err == nil {
		m.BadgeID = &badgeID
		_ = db.UpdateMembership(ctx, x, m)
	}

	return badge, nil
}

// Verify re-derives the signable form of a badge's stored credential and
// checks its proof. A revoked badge verifies as invalid regardless of
// signature validity.
func (s *Service) Verify(ctx context.Context, badgeID string) (bool, *Credential, error) {
	badge, err := db.GetBadge(ctx, s.db, badgeID)
	if err != nil {
		return false, nil, err
	}
	if badge.RevokedAt != nil {
		return false, nil, nil
	}

	var cred Credential
	if err := json.Unmarshal([]byte(badge.BadgeData), &cred); err != nil {
		return false, nil, fmt.Errorf("badges: corrupt badge data: %w", err)
	}
	if cred.Proof == nil {
		return false, &cred, nil
	}

	proof := *cred.Proof
	cred.Proof = nil
	signable, err := json.Marshal(cred)
	if err != nil {
		return false, nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(proof.ProofValue)
	if err != nil {
		return false, nil, nil
	}

	pub, ok := s.signer.Public().(ed25519.PublicKey)
	if !ok {
		return false, nil, fmt.Errorf("badges: signing key has no usable public component")
	}
	valid := ed25519.Verify(pub, signable, sig)
	cred.Proof = &proof
	return valid, &cred, nil
}

// Revoke marks a badge revoked; the credential document remains readable
// (Verify always returns false for it) for audit purposes.
func (s *Service) Revoke(ctx context.Context, badgeID string, reason *string) error {
	return db.RevokeBadge(ctx, s.db, badgeID, reason, time.Now().UTC())
}

func (s *Service) ListByActor(ctx context.Context, actorDid string) ([]*db.Badge, error) {
	return db.ListBadgesByActor(ctx, s.db, actorDid)
}

// RegenerateRingBadges re-issues every active membership's badge for a
// ring whose slug, name, or badge image changed, isolating per-badge
// failures so one bad membership row cannot abort the rest.
func (s *Service) RegenerateRingBadges(ctx context.Context, ringID, ringSlug, ringName string) (ok int, failed int) {
	memberships, err := db.ListMemberships(ctx, s.db, db.FilterEq("ring_id", ringID), db.FilterEq("status", db.MembershipActive))
	if err != nil {
		s.logger.Error("regenerate badges: listing memberships", "error", err)
		return 0, 0
	}

	for _, m := range memberships {
		roleName := "member"
		if m.RoleID != nil {
			if role, err := db.GetRingRoleByID(ctx, s.db, *m.RoleID); err == nil {
				roleName = role.Name
			}
		}
		if _, err := s.Issue(ctx, s.db, m.ID, m.ActorDid, ringSlug, ringName, roleName, m.ActorName); err != nil {
			s.logger.Error("regenerate badge failed", "membershipId", m.ID, "error", err)
			failed++
			continue
		}
		ok++
	}

	if failed > 0 {
		s.logger.Warn("badge regeneration had partial failures", "ringId", ringID, "failed", failed, "ok", ok)
	}
	return ok, failed
}
