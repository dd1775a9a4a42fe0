package repo

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/kv"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/registry/entity"
)

// RegistryRepo reads and writes the credential list stored under
// kv.KeyCredentialRegistry.
type RegistryRepo struct {
	store kv.Store
}

func NewRegistryRepo(store kv.Store) *RegistryRepo { return &RegistryRepo{store: store} }

// List returns the records in registration order. A missing key is an empty
// registry.
func (r *RegistryRepo) List(ctx context.Context) ([]entity.CredentialRecord, error) {
	records, _, err := kv.GetJSON[[]entity.CredentialRecord](ctx, r.store, kv.KeyCredentialRegistry)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Save replaces the full list.
func (r *RegistryRepo) Save(ctx context.Context, records []entity.CredentialRecord) error {
	if records == nil {
		records = []entity.CredentialRecord{}
	}
	return kv.PutJSON(ctx, r.store, kv.KeyCredentialRegistry, records)
}
