package domain

import dErrors "privacy/pkg/domain-errors"

// LegalBasis is the justification under which personal data is processed.
// Invariant: the value must be one of the six recognised bases.
//
// Usage: construct via ParseLegalBasis at trust boundaries; direct casting
// bypasses validation.
type LegalBasis string

const (
	LegalBasisConsent             LegalBasis = "consent"
	LegalBasisContract            LegalBasis = "contract"
	LegalBasisLegalObligation     LegalBasis = "legal_obligation"
	LegalBasisVitalInterests      LegalBasis = "vital_interests"
	LegalBasisPublicTask          LegalBasis = "public_task"
	LegalBasisLegitimateInterests LegalBasis = "legitimate_interests"
)

var validLegalBases = map[LegalBasis]bool{
	LegalBasisConsent:             true,
	LegalBasisContract:            true,
	LegalBasisLegalObligation:     true,
	LegalBasisVitalInterests:      true,
	LegalBasisPublicTask:          true,
	LegalBasisLegitimateInterests: true,
}

// ParseLegalBasis constructs a LegalBasis from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseLegalBasis(s string) (LegalBasis, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "legal basis cannot be empty")
	}
	b := LegalBasis(s)
	if !b.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid legal basis")
	}
	return b, nil
}

func (b LegalBasis) IsValid() bool {
	return validLegalBases[b]
}

func (b LegalBasis) String() string {
	return string(b)
}
