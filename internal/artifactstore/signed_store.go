package artifactstore

import (
	"context"
	"time"
)

// SignedStore pairs the object store with the link signer, satisfying the
// pipeline's storage contract with one value.
type SignedStore struct {
	store  *NatsArtifactStore
	signer *Signer
}

// NewSignedStore combines a store and a signer.
func NewSignedStore(store *NatsArtifactStore, signer *Signer) *SignedStore {
	return &SignedStore{
		store:  store,
		signer: signer,
	}
}

// Put stores an artifact.
func (s *SignedStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.store.Put(ctx, key, data, contentType)
}

// Sign issues a time-limited retrieval link for a stored artifact.
func (s *SignedStore) Sign(key string, ttl time.Duration) (string, error) {
	return s.signer.Sign(key, ttl)
}
