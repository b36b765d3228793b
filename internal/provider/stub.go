package provider

import (
	"context"
	"fmt"
	"sync"
)

// Stub is an in-process PaymentProvider. It backs local runs without
// provider credentials and the pipeline tests.
type Stub struct {
	mu          sync.Mutex
	payments    map[string]Payment
	err         error
	prefErr     error
	checkoutURL string
	queries     int
	preferences []PreferenceRequest
}

// NewStub creates a stub whose checkout links point at checkoutURL
func NewStub(checkoutURL string) *Stub {
	return &Stub{payments: make(map[string]Payment), checkoutURL: checkoutURL}
}

// SetPayment registers the authoritative record for a payment id
func (s *Stub) SetPayment(id, status, externalReference string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[id] = Payment{ID: id, Status: status, ExternalReference: externalReference}
}

// FailQueries makes every GetPayment fail with err until reset with nil
func (s *Stub) FailQueries(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// FailPreferences makes every CreatePreference fail with err until reset with nil
func (s *Stub) FailPreferences(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefErr = err
}

// Queries reports how many GetPayment calls were made
func (s *Stub) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// Preferences returns the preference requests received so far
func (s *Stub) Preferences() []PreferenceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PreferenceRequest(nil), s.preferences...)
}

func (s *Stub) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries++
	if s.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderQuery, s.err)
	}
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s not found", ErrProviderQuery, paymentID)
	}
	return &p, nil
}

func (s *Stub) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prefErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderQuery, s.prefErr)
	}
	s.preferences = append(s.preferences, req)
	id := fmt.Sprintf("stub-pref-%s", req.ExternalReference)
	return &Preference{ID: id, InitPoint: s.checkoutURL + "?pref_id=" + id}, nil
}
