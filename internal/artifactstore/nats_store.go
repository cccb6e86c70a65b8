// Package artifactstore persists mixed audio artifacts in a NATS JetStream
// object store and serves them over HMAC-signed expiring links.
package artifactstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
)

const headerContentType = "Content-Type"

// NatsArtifactStore holds finished reflection audio. Keys carry a generation
// timestamp, so a replayed work item writes a new object instead of
// clobbering a delivered one.
type NatsArtifactStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates a NatsArtifactStore, creating or binding the bucket.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsArtifactStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Reflection audio artifacts for the %s bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		// If the bucket already exists, bind to it.
		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to create or bind artifact bucket '%s': %w", bucketName, err,
			)
		}
	}

	return &NatsArtifactStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Put saves an artifact under the given key, overwriting any previous object.
func (n *NatsArtifactStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	meta := &nats.ObjectMeta{
		Name:    key,
		Headers: nats.Header{headerContentType: []string{contentType}},
	}

	_, err := n.store.Put(meta, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put artifact '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Get retrieves an artifact and its content type.
func (n *NatsArtifactStore) Get(_ context.Context, key string) ([]byte, string, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		return nil, "", fmt.Errorf(
			"failed to get artifact '%s' from bucket '%s': %w", key, n.bucket, err,
		)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, "", fmt.Errorf("failed to read artifact '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return nil, "", fmt.Errorf("failed to close artifact '%s': %w", key, closeErr)
	}

	contentType := ""

	info, infoErr := obj.Info()
	if infoErr == nil && info.Headers != nil {
		contentType = info.Headers.Get(headerContentType)
	}

	return data, contentType, nil
}
