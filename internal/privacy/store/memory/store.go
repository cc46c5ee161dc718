// Package memory is the in-process Entity Store. Every read returns a clone
// so callers never share mutable state with the store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"privacy/internal/privacy/models"
	id "privacy/pkg/domain"
	"privacy/pkg/platform/sentinel"
)

// orderedMap keeps insertion order so ledger reads are deterministic.
type orderedMap[K comparable, V any] struct {
	keys  []K
	items map[K]V
}

func newOrderedMap[K comparable, V any]() *orderedMap[K, V] {
	return &orderedMap[K, V]{items: make(map[K]V)}
}

func (m *orderedMap[K, V]) get(k K) (V, bool) {
	v, ok := m.items[k]
	return v, ok
}

func (m *orderedMap[K, V]) put(k K, v V) {
	if _, ok := m.items[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.items[k] = v
}

func (m *orderedMap[K, V]) remove(k K) {
	if _, ok := m.items[k]; !ok {
		return
	}
	delete(m.items, k)
	m.keys = slices.DeleteFunc(m.keys, func(x K) bool { return x == k })
}

// removeWhere drops every value matching doomed in a single pass over keys
// and returns how many were removed.
func (m *orderedMap[K, V]) removeWhere(doomed func(V) bool) int {
	removed := 0
	m.keys = slices.DeleteFunc(m.keys, func(k K) bool {
		if !doomed(m.items[k]) {
			return false
		}
		delete(m.items, k)
		removed++
		return true
	})
	return removed
}

func (m *orderedMap[K, V]) values(keep func(V) bool) []V {
	out := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		v := m.items[k]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

type Store struct {
	mu          sync.RWMutex
	subjects    *orderedMap[id.SubjectID, *models.DataSubject]
	consents    *orderedMap[id.ConsentID, *models.ConsentRecord]
	processing  *orderedMap[id.ProcessingRecordID, *models.DataProcessingRecord]
	requests    *orderedMap[id.AccessRequestID, *models.DataAccessRequest]
	breaches    *orderedMap[id.BreachID, *models.DataBreach]
	policies    *orderedMap[id.PolicyID, *models.RetentionPolicy]
	policyIndex map[models.PolicyKey]id.PolicyID
	pias        *orderedMap[id.AssessmentID, *models.PrivacyImpactAssessment]
}

func New() *Store {
	return &Store{
		subjects:    newOrderedMap[id.SubjectID, *models.DataSubject](),
		consents:    newOrderedMap[id.ConsentID, *models.ConsentRecord](),
		processing:  newOrderedMap[id.ProcessingRecordID, *models.DataProcessingRecord](),
		requests:    newOrderedMap[id.AccessRequestID, *models.DataAccessRequest](),
		breaches:    newOrderedMap[id.BreachID, *models.DataBreach](),
		policies:    newOrderedMap[id.PolicyID, *models.RetentionPolicy](),
		policyIndex: make(map[models.PolicyKey]id.PolicyID),
		pias:        newOrderedMap[id.AssessmentID, *models.PrivacyImpactAssessment](),
	}
}

func cloneAll[T any](in []T, clone func(T) T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = clone(v)
	}
	return out
}

// Subjects

func (s *Store) CreateSubject(_ context.Context, subject *models.DataSubject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects.get(subject.ID); ok {
		return fmt.Errorf("data subject %s: %w", subject.ID, sentinel.ErrConflict)
	}
	s.subjects.put(subject.ID, subject.Clone())
	return nil
}

func (s *Store) FindSubject(_ context.Context, subjectID id.SubjectID) (*models.DataSubject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects.get(subjectID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return subject.Clone(), nil
}

func (s *Store) UpdateSubject(_ context.Context, subject *models.DataSubject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects.get(subject.ID); !ok {
		return sentinel.ErrNotFound
	}
	s.subjects.put(subject.ID, subject.Clone())
	return nil
}

// DeleteSubject removes the subject with its consents and processing records.
// Rights requests are kept for the audit trail.
func (s *Store) DeleteSubject(_ context.Context, subjectID id.SubjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects.get(subjectID); !ok {
		return sentinel.ErrNotFound
	}
	s.subjects.remove(subjectID)
	s.consents.removeWhere(func(c *models.ConsentRecord) bool { return c.SubjectID == subjectID })
	s.processing.removeWhere(func(r *models.DataProcessingRecord) bool { return r.SubjectID == subjectID })
	return nil
}

func (s *Store) ListSubjects(_ context.Context) ([]*models.DataSubject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.subjects.values(nil), (*models.DataSubject).Clone), nil
}

// Consents

func (s *Store) AppendConsent(_ context.Context, consent *models.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects.get(consent.SubjectID); !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.consents.get(consent.ID); ok {
		return fmt.Errorf("consent %s: %w", consent.ID, sentinel.ErrConflict)
	}
	s.consents.put(consent.ID, consent.Clone())
	return nil
}

func (s *Store) FindConsent(_ context.Context, consentID id.ConsentID) (*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	consent, ok := s.consents.get(consentID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return consent.Clone(), nil
}

func (s *Store) UpdateConsent(_ context.Context, consent *models.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consents.get(consent.ID); !ok {
		return sentinel.ErrNotFound
	}
	s.consents.put(consent.ID, consent.Clone())
	return nil
}

// ListConsents returns a subject's consents in insertion order.
func (s *Store) ListConsents(_ context.Context, subjectID id.SubjectID) ([]*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.consents.values(func(c *models.ConsentRecord) bool { return c.SubjectID == subjectID })
	return cloneAll(records, (*models.ConsentRecord).Clone), nil
}

func (s *Store) ListAllConsents(_ context.Context) ([]*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.consents.values(nil), (*models.ConsentRecord).Clone), nil
}

// Processing records

func (s *Store) AppendProcessing(_ context.Context, record *models.DataProcessingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects.get(record.SubjectID); !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.processing.get(record.ID); ok {
		return fmt.Errorf("processing record %s: %w", record.ID, sentinel.ErrConflict)
	}
	s.processing.put(record.ID, record.Clone())
	return nil
}

func (s *Store) ListProcessing(_ context.Context, subjectID id.SubjectID) ([]*models.DataProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.processing.values(func(r *models.DataProcessingRecord) bool { return r.SubjectID == subjectID })
	return cloneAll(records, (*models.DataProcessingRecord).Clone), nil
}

func (s *Store) ListAllProcessing(_ context.Context) ([]*models.DataProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.processing.values(nil), (*models.DataProcessingRecord).Clone), nil
}

// Rights requests

// SaveRequest inserts or replaces a request.
func (s *Store) SaveRequest(_ context.Context, request *models.DataAccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests.put(request.ID, request.Clone())
	return nil
}

func (s *Store) FindRequest(_ context.Context, requestID id.AccessRequestID) (*models.DataAccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests.get(requestID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return request.Clone(), nil
}

func (s *Store) ListRequestsBySubject(_ context.Context, subjectID id.SubjectID) ([]*models.DataAccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	requests := s.requests.values(func(r *models.DataAccessRequest) bool { return r.SubjectID == subjectID })
	return cloneAll(requests, (*models.DataAccessRequest).Clone), nil
}

func (s *Store) ListRequests(_ context.Context) ([]*models.DataAccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.requests.values(nil), (*models.DataAccessRequest).Clone), nil
}

// Breaches

func (s *Store) SaveBreach(_ context.Context, breach *models.DataBreach) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breaches.put(breach.ID, breach.Clone())
	return nil
}

func (s *Store) FindBreach(_ context.Context, breachID id.BreachID) (*models.DataBreach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	breach, ok := s.breaches.get(breachID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return breach.Clone(), nil
}

func (s *Store) ListBreaches(_ context.Context) ([]*models.DataBreach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.breaches.values(nil), (*models.DataBreach).Clone), nil
}

// Retention policies

// CreatePolicy fails with sentinel.ErrConflict when a policy for the same
// (category, purpose) already exists.
func (s *Store) CreatePolicy(_ context.Context, policy *models.RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.policyIndex[policy.Key()]; taken {
		return sentinel.ErrConflict
	}
	s.policies.put(policy.ID, policy.Clone())
	s.policyIndex[policy.Key()] = policy.ID
	return nil
}

// UpdatePolicy replaces a policy. Moving it onto a key held by another policy
// fails with sentinel.ErrConflict.
func (s *Store) UpdatePolicy(_ context.Context, policy *models.RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.policies.get(policy.ID)
	if !ok {
		return sentinel.ErrNotFound
	}
	if owner, taken := s.policyIndex[policy.Key()]; taken && owner != policy.ID {
		return sentinel.ErrConflict
	}
	delete(s.policyIndex, current.Key())
	s.policies.put(policy.ID, policy.Clone())
	s.policyIndex[policy.Key()] = policy.ID
	return nil
}

func (s *Store) FindPolicy(_ context.Context, policyID id.PolicyID) (*models.RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies.get(policyID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return policy.Clone(), nil
}

func (s *Store) ListPolicies(_ context.Context) ([]*models.RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.policies.values(nil), (*models.RetentionPolicy).Clone), nil
}

// Privacy impact assessments

func (s *Store) SavePIA(_ context.Context, pia *models.PrivacyImpactAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pias.put(pia.ID, pia.Clone())
	return nil
}

func (s *Store) FindPIA(_ context.Context, piaID id.AssessmentID) (*models.PrivacyImpactAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pia, ok := s.pias.get(piaID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return pia.Clone(), nil
}

func (s *Store) ListPIAs(_ context.Context) ([]*models.PrivacyImpactAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.pias.values(nil), (*models.PrivacyImpactAssessment).Clone), nil
}
