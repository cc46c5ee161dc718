// Package anonymize implements the anonymization techniques applied to data
// subjects and the keyed pseudonymization used by retention enforcement.
//
// All randomness comes from a single injected RandomSource so tests can run
// with a fixed seed.
package anonymize

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math"
	mrand "math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"

	"privacy/internal/privacy/models"
	dErrors "privacy/pkg/domain-errors"
)

// RandomSource yields uniform floats in [0, 1). *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

const (
	noiseWindowDays = 182
	pseudonymPrefix = "pseud_"
	pseudonymHexLen = 16
	hkdfInfo        = "privacy-pseudonym-v1"
)

// Params tunes the differential privacy technique.
type Params struct {
	Epsilon     float64
	Sensitivity float64
}

type Pipeline struct {
	mu       sync.Mutex
	rng      RandomSource
	key      []byte
	defaults Params
}

type Option func(*Pipeline)

// WithRandomSource replaces the default ChaCha8 generator.
func WithRandomSource(src RandomSource) Option {
	return func(p *Pipeline) {
		p.rng = src
	}
}

// WithPseudonymSecret derives the pseudonymization key from secret with
// HKDF-SHA256. Without it a random per-process key is used and pseudonyms
// are only stable until restart.
func WithPseudonymSecret(secret []byte) Option {
	return func(p *Pipeline) {
		if len(secret) == 0 {
			return
		}
		key := make([]byte, sha256.Size)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err == nil {
			p.key = key
		}
	}
}

// WithDefaults sets the epsilon and sensitivity used when a request leaves
// them at zero.
func WithDefaults(params Params) Option {
	return func(p *Pipeline) {
		p.defaults = params
	}
}

func New(opts ...Option) *Pipeline {
	p := &Pipeline{defaults: Params{Epsilon: 1, Sensitivity: 1}}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		var seed [32]byte
		_, _ = rand.Read(seed[:])
		p.rng = mrand.New(mrand.NewChaCha8(seed))
	}
	if p.key == nil {
		p.key = make([]byte, sha256.Size)
		_, _ = rand.Read(p.key)
	}
	return p
}

func (p *Pipeline) float64() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}

// Apply runs technique on subject in place.
func (p *Pipeline) Apply(subject *models.DataSubject, technique models.Technique, params Params) error {
	switch technique {
	case models.TechniqueGeneralization:
		Generalize(subject)
	case models.TechniqueSuppression:
		Suppress(subject)
	case models.TechniqueMasking:
		subject.Email = MaskEmail(subject.Email)
	case models.TechniqueNoiseAddition:
		p.addNoise(subject)
	case models.TechniqueDifferentialPrivacy:
		return p.applyDifferentialPrivacy(subject, params)
	default:
		return dErrors.New(dErrors.CodeValidation, "unsupported anonymization technique "+string(technique))
	}
	return nil
}

// Generalize replaces the exact birth date with January 1st of its decade.
func Generalize(subject *models.DataSubject) {
	if subject.DateOfBirth == nil {
		return
	}
	decade := subject.DateOfBirth.Year() / 10 * 10
	dob := time.Date(decade, time.January, 1, 0, 0, 0, 0, time.UTC)
	subject.DateOfBirth = &dob
}

// Suppress clears the directly identifying fields.
func Suppress(subject *models.DataSubject) {
	subject.Name = ""
	subject.Phone = ""
}

// MaskEmail keeps the first two characters of the local part:
// "alice@example.com" becomes "al***@example.com".
func MaskEmail(email string) string {
	local, domain, found := cutLast(email, "@")
	keep := local
	if utf8.RuneCountInString(local) > 2 {
		keep = string([]rune(local)[:2])
	}
	if !found {
		return keep + "***"
	}
	return keep + "***@" + domain
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

// addNoise shifts the birth date by a uniform offset in [-182, 182] days.
func (p *Pipeline) addNoise(subject *models.DataSubject) {
	if subject.DateOfBirth == nil {
		return
	}
	offset := int(p.float64()*(2*noiseWindowDays+1)) - noiseWindowDays
	dob := subject.DateOfBirth.AddDate(0, 0, offset)
	subject.DateOfBirth = &dob
}

// applyDifferentialPrivacy perturbs the birth year with Laplace noise rounded
// to whole years.
func (p *Pipeline) applyDifferentialPrivacy(subject *models.DataSubject, params Params) error {
	if params.Epsilon == 0 {
		params.Epsilon = p.defaults.Epsilon
	}
	if params.Sensitivity == 0 {
		params.Sensitivity = p.defaults.Sensitivity
	}
	p.mu.Lock()
	noise, err := Laplace(p.rng, params.Sensitivity, params.Epsilon)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if subject.DateOfBirth == nil {
		return nil
	}
	dob := subject.DateOfBirth.AddDate(int(math.Round(noise)), 0, 0)
	subject.DateOfBirth = &dob
	return nil
}

// Laplace draws one sample of the Laplace mechanism with location 0 and
// scale sensitivity/epsilon:
//
//	u ~ U(-0.5, 0.5)
//	noise = -scale * sign(u) * ln(1 - 2|u|)
func Laplace(src RandomSource, sensitivity, epsilon float64) (float64, error) {
	if epsilon <= 0 || math.IsNaN(epsilon) {
		return 0, dErrors.New(dErrors.CodeValidation, "epsilon must be positive")
	}
	if sensitivity < 0 || math.IsNaN(sensitivity) {
		return 0, dErrors.New(dErrors.CodeValidation, "sensitivity must not be negative")
	}
	scale := sensitivity / epsilon

	u := src.Float64() - 0.5
	for u == -0.5 {
		u = src.Float64() - 0.5
	}
	sign := 0.0
	switch {
	case u > 0:
		sign = 1
	case u < 0:
		sign = -1
	}
	return -scale * sign * math.Log(1-2*math.Abs(u)), nil
}

// Pseudonym returns a stable keyed token for value.
func (p *Pipeline) Pseudonym(value string) string {
	mac := hmac.New(sha256.New, p.key)
	mac.Write([]byte(value))
	return pseudonymPrefix + hex.EncodeToString(mac.Sum(nil))[:pseudonymHexLen]
}

// Pseudonymize replaces email, name and phone with keyed tokens. The email
// keeps a syntactically valid shape so downstream systems accept it.
func (p *Pipeline) Pseudonymize(subject *models.DataSubject) {
	subject.Email = p.Pseudonym(subject.Email) + "@pseudonymized.invalid"
	if subject.Name != "" {
		subject.Name = p.Pseudonym(subject.Name)
	}
	if subject.Phone != "" {
		subject.Phone = p.Pseudonym(subject.Phone)
	}
}

// IsPseudonym reports whether s was produced by Pseudonym.
func IsPseudonym(s string) bool {
	return strings.HasPrefix(s, pseudonymPrefix)
}

// SeededSource returns a deterministic source for tests and reproducible runs.
func SeededSource(seed uint64) RandomSource {
	var b [32]byte
	binary.LittleEndian.PutUint64(b[:], seed)
	return mrand.New(mrand.NewChaCha8(b))
}
