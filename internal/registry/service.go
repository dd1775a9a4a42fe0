package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	identity "github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/registry/entity"
	registryrepo "github.com/ovaphlow/pitchfork/service-storefront-go/internal/registry/repo"
	"github.com/ovaphlow/pitchfork/service-storefront-go/pkg/utilities"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	cost := b.cost()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", cost), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports hashes produced with a lower cost than configured.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost < b.cost()
}

var (
	ErrNoMatch          = errors.New("no matching credential")
	ErrUsernameTaken    = errors.New("username already registered")
	ErrUsernameRequired = errors.New("username required")
	ErrPasswordRequired = errors.New("password required")
	ErrNotFound         = errors.New("credential not found")
)

// Service owns the local credential registry. Records are appended, updated
// in place, and never deleted.
type Service struct {
	// mu serializes every read-modify-write of the stored list.
	mu     sync.Mutex
	repo   *registryrepo.RegistryRepo
	hasher PasswordHasher
	newID  func() string
	now    func() time.Time
}

type Option func(*Service)

// WithIDGenerator overrides record id allocation (uuid by default).
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func WithHasher(h PasswordHasher) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

func NewService(r *registryrepo.RegistryRepo, opts ...Option) *Service {
	s := &Service{
		repo:   r,
		hasher: BcryptHasher{Cost: 12},
		newID:  utilities.NewUUID,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Username string
	Password string
	Profile  identity.Profile
}

// Register appends a new record to the end of the registry.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.CredentialRecord, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	if in.Password == "" {
		return nil, ErrPasswordRequired
	}
	hash, algo, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	for _, r := range records {
		if r.Username == username {
			return nil, ErrUsernameTaken
		}
	}
	profile := in.Profile
	profile.Username = username
	rec := entity.CredentialRecord{
		ID:           s.newID(),
		Username:     username,
		PasswordHash: hash,
		PasswordAlgo: algo,
		Profile:      profile,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Save(ctx, append(records, rec)); err != nil {
		return nil, fmt.Errorf("save registry: %w", err)
	}
	return &rec, nil
}

// Match scans the registry in order and returns the first record whose
// username and password both match exactly.
func (s *Service) Match(ctx context.Context, username, password string) (*entity.CredentialRecord, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		r := records[i]
		if r.Username != username || !s.hasher.Verify(r.PasswordHash, password) {
			continue
		}
		if s.hasher.NeedsRehash(r.PasswordHash) {
			if hash, algo, hErr := s.hasher.Hash(password); hErr == nil {
				_ = s.replaceHash(ctx, r.ID, r.PasswordHash, hash, algo)
			}
		}
		return &r, nil
	}
	return nil, ErrNoMatch
}

// replaceHash swaps one record's hash against a fresh read of the list, so
// records appended since the caller's read survive. A record whose hash
// changed in between is left alone.
func (s *Service) replaceHash(ctx context.Context, id, old, hash, algo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID != id || records[i].PasswordHash != old {
			continue
		}
		records[i].PasswordHash, records[i].PasswordAlgo = hash, algo
		return s.repo.Save(ctx, records)
	}
	return nil
}

// Get looks a record up by id.
func (s *Service) Get(ctx context.Context, id string) (*entity.CredentialRecord, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, ErrNotFound
}

// List returns every record without password material.
func (s *Service) List(ctx context.Context) ([]entity.PublicView, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entity.PublicView, 0, len(records))
	for _, r := range records {
		out = append(out, r.Public())
	}
	return out, nil
}

// UpdateProfile overwrites the profile fields of one record. The username is
// not changeable.
func (s *Service) UpdateProfile(ctx context.Context, id string, p identity.Profile) (*entity.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID != id {
			continue
		}
		now := s.now().UTC()
		p.Username = records[i].Username
		records[i].Profile = p
		records[i].UpdatedAt = &now
		if err := s.repo.Save(ctx, records); err != nil {
			return nil, fmt.Errorf("save registry: %w", err)
		}
		return &records[i], nil
	}
	return nil, ErrNotFound
}
