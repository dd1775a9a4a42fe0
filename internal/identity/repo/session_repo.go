package repo

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/kv"
)

// SessionRepo persists the single session record under kv.KeySession.
type SessionRepo struct {
	store kv.Store
}

func NewSessionRepo(store kv.Store) *SessionRepo {
	return &SessionRepo{store: store}
}

// Load returns nil, nil when no session is stored. Undecodable records come
// back as kv.ErrMalformed.
func (r *SessionRepo) Load(ctx context.Context) (*entity.SessionRecord, error) {
	rec, ok, err := kv.GetJSON[entity.SessionRecord](ctx, r.store, kv.KeySession)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *SessionRepo) Save(ctx context.Context, rec entity.SessionRecord) error {
	return kv.PutJSON(ctx, r.store, kv.KeySession, rec)
}

func (r *SessionRepo) Delete(ctx context.Context) error {
	return r.store.Delete(ctx, kv.KeySession)
}
