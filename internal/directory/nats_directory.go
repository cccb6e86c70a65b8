// Package directory provides a NATS JetStream key-value implementation of
// the subscriber directory.
package directory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/book-expert/reflection-service/internal/core"
)

// ErrSubscriberNotFound indicates a lookup for an unknown subscriber.
var ErrSubscriberNotFound = errors.New("subscriber not found")

// NatsDirectory implements core.SubscriberDirectory on a JetStream KV
// bucket. One key per subscriber, the JSON record as the value.
type NatsDirectory struct {
	bucket string
	kv     nats.KeyValue
}

// New creates a NatsDirectory, creating or binding the bucket.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsDirectory, error) {
	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Subscriber records for the %s bucket.", bucketName),
	})
	if err != nil {
		// If the bucket already exists, bind to it.
		kv, err = jetstreamContext.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to create or bind subscribers bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsDirectory{
		bucket: bucketName,
		kv:     kv,
	}, nil
}

// Put stores or replaces a subscriber record.
func (d *NatsDirectory) Put(_ context.Context, subscriber core.Subscriber) error {
	data, err := json.Marshal(subscriber)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber: %w", err)
	}

	_, err = d.kv.Put(subscriberKey(subscriber.Email), data)
	if err != nil {
		return fmt.Errorf("failed to store subscriber '%s': %w", subscriber.Email, err)
	}

	return nil
}

// Get returns one subscriber record.
func (d *NatsDirectory) Get(_ context.Context, email string) (core.Subscriber, error) {
	entry, err := d.kv.Get(subscriberKey(email))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return core.Subscriber{}, fmt.Errorf("%w: %s", ErrSubscriberNotFound, email)
		}

		return core.Subscriber{}, fmt.Errorf("failed to read subscriber '%s': %w", email, err)
	}

	var subscriber core.Subscriber

	unmarshalErr := json.Unmarshal(entry.Value(), &subscriber)
	if unmarshalErr != nil {
		return core.Subscriber{}, fmt.Errorf("failed to unmarshal subscriber '%s': %w", email, unmarshalErr)
	}

	return subscriber, nil
}

// Verify marks a subscriber as verified.
func (d *NatsDirectory) Verify(ctx context.Context, email string) error {
	subscriber, err := d.Get(ctx, email)
	if err != nil {
		return err
	}

	subscriber.Verified = true

	return d.Put(ctx, subscriber)
}

// ListActive returns every subscriber that is active and verified, sorted
// by email for stable dispatch order.
func (d *NatsDirectory) ListActive(ctx context.Context) ([]core.Subscriber, error) {
	all, err := d.list(ctx)
	if err != nil {
		return nil, err
	}

	var active []core.Subscriber

	for _, subscriber := range all {
		if subscriber.Eligible() {
			active = append(active, subscriber)
		}
	}

	return active, nil
}

// ListUnverifiedSince returns subscribers that signed up before the cutoff
// and never verified. Used by the daily admin report.
func (d *NatsDirectory) ListUnverifiedSince(ctx context.Context, cutoff time.Time) ([]core.Subscriber, error) {
	all, err := d.list(ctx)
	if err != nil {
		return nil, err
	}

	var unverified []core.Subscriber

	for _, subscriber := range all {
		if !subscriber.Verified && subscriber.SubscribedAt.Before(cutoff) {
			unverified = append(unverified, subscriber)
		}
	}

	return unverified, nil
}

func (d *NatsDirectory) list(_ context.Context) ([]core.Subscriber, error) {
	keys, err := d.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list keys in bucket '%s': %w", d.bucket, err)
	}

	sort.Strings(keys)

	subscribers := make([]core.Subscriber, 0, len(keys))

	for _, key := range keys {
		entry, getErr := d.kv.Get(key)
		if getErr != nil {
			return nil, fmt.Errorf("failed to read subscriber record '%s': %w", key, getErr)
		}

		var subscriber core.Subscriber

		unmarshalErr := json.Unmarshal(entry.Value(), &subscriber)
		if unmarshalErr != nil {
			return nil, fmt.Errorf("failed to unmarshal subscriber record '%s': %w", key, unmarshalErr)
		}

		subscribers = append(subscribers, subscriber)
	}

	return subscribers, nil
}

func subscriberKey(email string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(email))
}
