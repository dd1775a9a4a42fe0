package cart

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/cart/entity"
	cartrepo "github.com/ovaphlow/pitchfork/service-storefront-go/internal/cart/repo"
	identity "github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/kv"
	"github.com/ovaphlow/pitchfork/service-storefront-go/pkg/utilities"
)

const GuestPartition = "guest"

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrProductRequired = errors.New("product id required")
)

// PartitionKey scopes cart and wishlist data to an identity.
func PartitionKey(id *identity.Identity) string {
	if id == nil {
		return GuestPartition
	}
	return "user:" + id.ID
}

// Service holds the cart and wishlist of the active partition. Every mutation
// is persisted before it becomes visible; a failed write leaves the in-memory
// collections untouched.
type Service struct {
	mu sync.Mutex

	repo      *cartrepo.PartitionRepo
	newLineID func() string
	clock     clockwork.Clock
	logger    *zap.SugaredLogger

	partition string
	lines     []entity.Line
	wishlist  []entity.Product
}

type Option func(*Service)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLineIDGenerator overrides line id allocation (snowflake by default).
func WithLineIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newLineID = fn
		}
	}
}

// NewService binds to the guest partition.
func NewService(ctx context.Context, store kv.Store, opts ...Option) *Service {
	s := &Service{
		repo:      cartrepo.NewPartitionRepo(store),
		newLineID: utilities.SnowflakeGenerator(utilities.NodeFromEnv()),
		clock:     clockwork.NewRealClock(),
		logger:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.bind(ctx, GuestPartition)
	return s
}

// IdentityChanged rebinds to the partition of the new identity. A logout
// additionally empties the guest partition so the next guest starts fresh.
func (s *Service) IdentityChanged(ctx context.Context, change identity.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := PartitionKey(change.Current)
	if change.Previous != nil && change.Current == nil {
		if err := s.repo.SaveCart(ctx, GuestPartition, nil); err != nil {
			s.logger.Warnw("reset guest cart", "err", err)
		}
		if err := s.repo.SaveWishlist(ctx, GuestPartition, nil); err != nil {
			s.logger.Warnw("reset guest wishlist", "err", err)
		}
	}
	s.bind(ctx, next)
}

// bind loads the collections stored under partition. Callers hold s.mu, except
// during construction.
func (s *Service) bind(ctx context.Context, partition string) {
	lines, err := s.repo.LoadCart(ctx, partition)
	if err != nil {
		s.logger.Warnw("load cart, starting empty", "partition", partition, "err", err, "malformed", errors.Is(err, kv.ErrMalformed))
		lines = nil
	}
	wishlist, err := s.repo.LoadWishlist(ctx, partition)
	if err != nil {
		s.logger.Warnw("load wishlist, starting empty", "partition", partition, "err", err, "malformed", errors.Is(err, kv.ErrMalformed))
		wishlist = nil
	}
	s.partition = partition
	s.lines = lines
	s.wishlist = wishlist
	s.logger.Debugw("partition bound", "partition", partition, "lines", len(lines), "wishlist", len(wishlist))
}

func (s *Service) Partition() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partition
}

// AddItem merges into the line with the same product and variant, or appends
// a new line.
func (s *Service) AddItem(ctx context.Context, p entity.Product, quantity int, v entity.Variant) (entity.Line, error) {
	if p.ID == "" {
		return entity.Line{}, ErrProductRequired
	}
	if quantity < 1 {
		return entity.Line{}, ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.lines)
	idx := slices.IndexFunc(next, func(l entity.Line) bool { return l.Matches(p.ID, v) })
	if idx >= 0 {
		next[idx].Quantity += quantity
	} else {
		next = append(next, entity.Line{
			ID:         s.newLineID(),
			ProductRef: p.ID,
			Title:      p.Title,
			Thumbnail:  p.Thumbnail,
			UnitPrice:  p.Price,
			Quantity:   quantity,
			Variant:    v,
			AddedAt:    s.clock.Now().UTC(),
		})
		idx = len(next) - 1
	}
	if err := s.commitLines(ctx, next); err != nil {
		return entity.Line{}, err
	}
	return next[idx], nil
}

// RemoveItem deletes the line if present.
func (s *Service) RemoveItem(ctx context.Context, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(ctx, lineID)
}

// SetQuantity overwrites a line's quantity; n < 1 removes the line.
func (s *Service) SetQuantity(ctx context.Context, lineID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 1 {
		return s.removeLocked(ctx, lineID)
	}
	idx := s.lineIndex(lineID)
	if idx < 0 {
		return nil
	}
	next := slices.Clone(s.lines)
	next[idx].Quantity = n
	return s.commitLines(ctx, next)
}

func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLines(ctx, nil)
}

func (s *Service) Lines() []entity.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lines)
}

// Line returns the line for a product and variant.
func (s *Service) Line(productRef string, v entity.Variant) (entity.Line, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l.Matches(productRef, v) {
			return l, true
		}
	}
	return entity.Line{}, false
}

func (s *Service) IsInCart(productRef string, v entity.Variant) bool {
	_, ok := s.Line(productRef, v)
	return ok
}

func (s *Service) Total() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return total(s.lines)
}

func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return count(s.lines)
}

// ToggleWishlist flips the product's membership and reports whether it is now
// in the wishlist.
func (s *Service) ToggleWishlist(ctx context.Context, p entity.Product) (bool, error) {
	if p.ID == "" {
		return false, ErrProductRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.wishlistIndex(p.ID); idx >= 0 {
		return false, s.commitWishlist(ctx, slices.Delete(slices.Clone(s.wishlist), idx, idx+1))
	}
	if err := s.commitWishlist(ctx, append(slices.Clone(s.wishlist), p)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) AddToWishlist(ctx context.Context, p entity.Product) error {
	if p.ID == "" {
		return ErrProductRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wishlistIndex(p.ID) >= 0 {
		return nil
	}
	return s.commitWishlist(ctx, append(slices.Clone(s.wishlist), p))
}

func (s *Service) RemoveFromWishlist(ctx context.Context, productRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.wishlistIndex(productRef)
	if idx < 0 {
		return nil
	}
	return s.commitWishlist(ctx, slices.Delete(slices.Clone(s.wishlist), idx, idx+1))
}

func (s *Service) IsInWishlist(productRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wishlistIndex(productRef) >= 0
}

func (s *Service) ClearWishlist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitWishlist(ctx, nil)
}

func (s *Service) Wishlist() []entity.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.wishlist)
}

// View snapshots the active partition.
func (s *Service) View() entity.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := slices.Clone(s.lines)
	if lines == nil {
		lines = []entity.Line{}
	}
	wishlist := slices.Clone(s.wishlist)
	if wishlist == nil {
		wishlist = []entity.Product{}
	}
	return entity.View{
		Partition: s.partition,
		Lines:     lines,
		Total:     total(s.lines),
		Count:     count(s.lines),
		Wishlist:  wishlist,
	}
}

func (s *Service) removeLocked(ctx context.Context, lineID string) error {
	idx := s.lineIndex(lineID)
	if idx < 0 {
		return nil
	}
	return s.commitLines(ctx, slices.Delete(slices.Clone(s.lines), idx, idx+1))
}

func (s *Service) commitLines(ctx context.Context, next []entity.Line) error {
	if err := s.repo.SaveCart(ctx, s.partition, next); err != nil {
		return fmt.Errorf("persist cart %s: %w", s.partition, err)
	}
	s.lines = next
	return nil
}

func (s *Service) commitWishlist(ctx context.Context, next []entity.Product) error {
	if err := s.repo.SaveWishlist(ctx, s.partition, next); err != nil {
		return fmt.Errorf("persist wishlist %s: %w", s.partition, err)
	}
	s.wishlist = next
	return nil
}

func (s *Service) lineIndex(lineID string) int {
	return slices.IndexFunc(s.lines, func(l entity.Line) bool { return l.ID == lineID })
}

func (s *Service) wishlistIndex(productRef string) int {
	return slices.IndexFunc(s.wishlist, func(p entity.Product) bool { return p.ID == productRef })
}

func total(lines []entity.Line) float64 {
	var sum float64
	for _, l := range lines {
		sum += l.Subtotal()
	}
	return sum
}

func count(lines []entity.Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}
