package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vcr/internal/registry/models"
)

type memTxKey struct{}

type memState struct {
	issuers      map[uuid.UUID]*models.Issuer
	issuerByDID  map[string]uuid.UUID
	schemas      map[uuid.UUID]*models.Schema
	schemaByKey  map[models.SchemaKey]uuid.UUID
	ctypes       map[uuid.UUID]*models.CredentialType
	ctypeByPair  map[[2]uuid.UUID]uuid.UUID
	topics       map[uuid.UUID]*models.Topic
	topicByKey   map[[2]string]uuid.UUID
	credentials  map[uuid.UUID]*models.Credential
	credentialBy map[string]uuid.UUID
}

func newMemState() memState {
	return memState{
		issuers:      map[uuid.UUID]*models.Issuer{},
		issuerByDID:  map[string]uuid.UUID{},
		schemas:      map[uuid.UUID]*models.Schema{},
		schemaByKey:  map[models.SchemaKey]uuid.UUID{},
		ctypes:       map[uuid.UUID]*models.CredentialType{},
		ctypeByPair:  map[[2]uuid.UUID]uuid.UUID{},
		topics:       map[uuid.UUID]*models.Topic{},
		topicByKey:   map[[2]string]uuid.UUID{},
		credentials:  map[uuid.UUID]*models.Credential{},
		credentialBy: map[string]uuid.UUID{},
	}
}

// clone copies the indexes. Records are never mutated in place, so sharing
// the pointers is safe.
func (s memState) clone() memState {
	c := newMemState()
	for k, v := range s.issuers {
		c.issuers[k] = v
	}
	for k, v := range s.issuerByDID {
		c.issuerByDID[k] = v
	}
	for k, v := range s.schemas {
		c.schemas[k] = v
	}
	for k, v := range s.schemaByKey {
		c.schemaByKey[k] = v
	}
	for k, v := range s.ctypes {
		c.ctypes[k] = v
	}
	for k, v := range s.ctypeByPair {
		c.ctypeByPair[k] = v
	}
	for k, v := range s.topics {
		c.topics[k] = v
	}
	for k, v := range s.topicByKey {
		c.topicByKey[k] = v
	}
	for k, v := range s.credentials {
		c.credentials[k] = v
	}
	for k, v := range s.credentialBy {
		c.credentialBy[k] = v
	}
	return c
}

// InMemory implements the registry store with maps. RunInTx restores a
// snapshot when fn fails, so it is atomic for callers that use it.
type InMemory struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	st   memState
}

func NewInMemory() *InMemory {
	return &InMemory{st: newMemState()}
}

func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *InMemory) UpsertIssuer(_ context.Context, issuer *models.Issuer) (*models.Issuer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *issuer
	if id, ok := s.st.issuerByDID[issuer.DID]; ok {
		existing := s.st.issuers[id]
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
	}
	s.st.issuers[next.ID] = &next
	s.st.issuerByDID[next.DID] = next.ID
	out := next
	return &out, nil
}

func (s *InMemory) GetIssuer(_ context.Context, id uuid.UUID) (*models.Issuer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issuer, ok := s.st.issuers[id]
	if !ok {
		return nil, fmt.Errorf("issuer %s: %w", id, ErrNotFound)
	}
	out := *issuer
	return &out, nil
}

func (s *InMemory) ListIssuers(_ context.Context) ([]*models.Issuer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Issuer, 0, len(s.st.issuers))
	for _, i := range s.st.issuers {
		c := *i
		out = append(out, &c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

func (s *InMemory) GetOrCreateSchema(_ context.Context, schema *models.Schema) (*models.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.st.schemaByKey[schema.Key()]; ok {
		out := *s.st.schemas[id]
		return &out, nil
	}
	next := *schema
	s.st.schemas[next.ID] = &next
	s.st.schemaByKey[next.Key()] = next.ID
	out := next
	return &out, nil
}

func (s *InMemory) GetSchema(_ context.Context, id uuid.UUID) (*models.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.st.schemas[id]
	if !ok {
		return nil, fmt.Errorf("schema %s: %w", id, ErrNotFound)
	}
	out := *schema
	return &out, nil
}

func (s *InMemory) FindSchema(_ context.Context, key models.SchemaKey) (*models.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.st.schemaByKey[key]
	if !ok {
		return nil, fmt.Errorf("schema %s/%s: %w", key.Name, key.Version, ErrNotFound)
	}
	out := *s.st.schemas[id]
	return &out, nil
}

func (s *InMemory) ListSchemas(_ context.Context, f SchemaFilter) ([]*models.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Schema
	for _, sc := range s.st.schemas {
		if (f.Name != "" && sc.Name != f.Name) ||
			(f.Version != "" && sc.Version != f.Version) ||
			(f.OriginDID != "" && sc.OriginDID != f.OriginDID) {
			continue
		}
		c := *sc
		out = append(out, &c)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Name != out[b].Name {
			return out[a].Name < out[b].Name
		}
		return out[a].Version < out[b].Version
	})
	return out, nil
}

func (s *InMemory) UpsertCredentialType(_ context.Context, ct *models.CredentialType) (*models.CredentialType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *ct
	pair := [2]uuid.UUID{ct.IssuerID, ct.SchemaID}
	if id, ok := s.st.ctypeByPair[pair]; ok {
		existing := s.st.ctypes[id]
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
	}
	s.st.ctypes[next.ID] = &next
	s.st.ctypeByPair[pair] = next.ID
	out := next
	return &out, nil
}

func (s *InMemory) GetCredentialType(_ context.Context, id uuid.UUID) (*models.CredentialType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ct, ok := s.st.ctypes[id]
	if !ok {
		return nil, fmt.Errorf("credential type %s: %w", id, ErrNotFound)
	}
	out := *ct
	return &out, nil
}

func (s *InMemory) FindCredentialTypeBySchema(_ context.Context, key models.SchemaKey) (*models.CredentialType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schemaID, ok := s.st.schemaByKey[key]
	if !ok {
		return nil, fmt.Errorf("schema %s/%s: %w", key.Name, key.Version, ErrNotFound)
	}
	issuerID, ok := s.st.issuerByDID[key.OriginDID]
	if !ok {
		return nil, fmt.Errorf("issuer %s: %w", key.OriginDID, ErrNotFound)
	}
	id, ok := s.st.ctypeByPair[[2]uuid.UUID{issuerID, schemaID}]
	if !ok {
		return nil, fmt.Errorf("credential type for %s/%s: %w", key.Name, key.Version, ErrNotFound)
	}
	out := *s.st.ctypes[id]
	return &out, nil
}

func (s *InMemory) ListCredentialTypesByIssuer(_ context.Context, issuerID uuid.UUID) ([]*models.CredentialType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CredentialType
	for _, ct := range s.st.ctypes {
		if ct.IssuerID == issuerID {
			c := *ct
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (s *InMemory) GetOrCreateTopic(_ context.Context, topic *models.Topic) (*models.Topic, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{topic.SourceID, topic.Type}
	if id, ok := s.st.topicByKey[key]; ok {
		out := *s.st.topics[id]
		return &out, false, nil
	}
	next := *topic
	s.st.topics[next.ID] = &next
	s.st.topicByKey[key] = next.ID
	out := next
	return &out, true, nil
}

func (s *InMemory) GetTopic(_ context.Context, id uuid.UUID) (*models.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.st.topics[id]
	if !ok {
		return nil, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	out := *t
	return &out, nil
}

func (s *InMemory) FindTopic(_ context.Context, topicType, sourceID string) (*models.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.st.topicByKey[[2]string{sourceID, topicType}]
	if !ok {
		return nil, fmt.Errorf("topic %s/%s: %w", topicType, sourceID, ErrNotFound)
	}
	out := *s.st.topics[id]
	return &out, nil
}

func (s *InMemory) UpsertCredential(_ context.Context, cred *models.Credential) (*models.Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *cred
	created := true
	if id, ok := s.st.credentialBy[cred.CredentialID]; ok {
		existing := s.st.credentials[id]
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
		created = false
	}
	if next.Latest && s.latestTaken(&next) {
		return nil, false, fmt.Errorf("credential %s latest: %w", cred.CredentialID, ErrConflict)
	}
	s.st.credentials[next.ID] = &next
	s.st.credentialBy[next.CredentialID] = next.ID
	out := next
	return &out, created, nil
}

func (s *InMemory) GetCredential(_ context.Context, credentialID string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.st.credentialBy[credentialID]
	if !ok {
		return nil, fmt.Errorf("credential %s: %w", credentialID, ErrNotFound)
	}
	out := *s.st.credentials[id]
	return &out, nil
}

func (key LatestKey) matches(c *models.Credential) bool {
	return c.CredentialTypeID == key.CredentialTypeID && c.TopicID == key.TopicID && c.CardinalityHash == key.CardinalityHash
}

// newer orders credentials by effective date, then by last update. A missing
// effective date sorts before any dated credential.
func newer(a, b *models.Credential) bool {
	ae, be := effectiveOf(a), effectiveOf(b)
	if !ae.Equal(be) {
		return ae.After(be)
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func effectiveOf(c *models.Credential) time.Time {
	if c.EffectiveDate == nil {
		return time.Time{}
	}
	return *c.EffectiveDate
}

func (s *InMemory) FindNewestCredential(_ context.Context, key LatestKey, excludeCredentialID string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Credential
	for _, c := range s.st.credentials {
		if !key.matches(c) || c.CredentialID == excludeCredentialID {
			continue
		}
		if best == nil || newer(c, best) {
			best = c
		}
	}
	if best == nil {
		return nil, fmt.Errorf("newest credential: %w", ErrNotFound)
	}
	out := *best
	return &out, nil
}

func (s *InMemory) ClearLatest(_ context.Context, key LatestKey, excludeCredentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.st.credentials {
		if c.Latest && key.matches(c) && c.CredentialID != excludeCredentialID {
			next := *c
			next.Latest = false
			s.st.credentials[id] = &next
		}
	}
	return nil
}

func (s *InMemory) SetLatest(_ context.Context, id uuid.UUID, latest bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.credentials[id]
	if !ok {
		return fmt.Errorf("credential %s: %w", id, ErrNotFound)
	}
	next := *c
	next.Latest = latest
	if latest && s.latestTaken(&next) {
		return fmt.Errorf("credential %s latest: %w", c.CredentialID, ErrConflict)
	}
	s.st.credentials[id] = &next
	return nil
}

// latestTaken mirrors the partial unique index on latest credentials: another
// row of the same group already holds the flag.
func (s *InMemory) latestTaken(c *models.Credential) bool {
	key := LatestKey{CredentialTypeID: c.CredentialTypeID, TopicID: c.TopicID, CardinalityHash: c.CardinalityHash}
	for id, other := range s.st.credentials {
		if id != c.ID && other.Latest && key.matches(other) {
			return true
		}
	}
	return false
}

func (s *InMemory) ListTopicCredentials(_ context.Context, topicID uuid.UUID, f CredentialFilter) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Credential
	for _, c := range s.st.credentials {
		if c.TopicID != topicID ||
			(f.Latest != nil && c.Latest != *f.Latest) ||
			(f.Revoked != nil && c.Revoked != *f.Revoked) ||
			(f.CredentialTypeID != nil && c.CredentialTypeID != *f.CredentialTypeID) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// Counts reports how many records of each kind are stored.
func (s *InMemory) Counts() (issuers, schemas, credentialTypes, topics, credentials int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.issuers), len(s.st.schemas), len(s.st.ctypes), len(s.st.topics), len(s.st.credentials)
}
