package repo

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/cart/entity"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/kv"
)

// PartitionRepo reads and writes the cart and wishlist collections of one
// partition at a time.
type PartitionRepo struct {
	store kv.Store
}

func NewPartitionRepo(store kv.Store) *PartitionRepo {
	return &PartitionRepo{store: store}
}

// LoadCart returns nil when nothing is stored. Undecodable data is reported
// as kv.ErrMalformed.
func (r *PartitionRepo) LoadCart(ctx context.Context, partition string) ([]entity.Line, error) {
	lines, _, err := kv.GetJSON[[]entity.Line](ctx, r.store, kv.CartKey(partition))
	return lines, err
}

func (r *PartitionRepo) SaveCart(ctx context.Context, partition string, lines []entity.Line) error {
	if lines == nil {
		lines = []entity.Line{}
	}
	return kv.PutJSON(ctx, r.store, kv.CartKey(partition), lines)
}

func (r *PartitionRepo) LoadWishlist(ctx context.Context, partition string) ([]entity.Product, error) {
	items, _, err := kv.GetJSON[[]entity.Product](ctx, r.store, kv.WishlistKey(partition))
	return items, err
}

func (r *PartitionRepo) SaveWishlist(ctx context.Context, partition string, items []entity.Product) error {
	if items == nil {
		items = []entity.Product{}
	}
	return kv.PutJSON(ctx, r.store, kv.WishlistKey(partition), items)
}
