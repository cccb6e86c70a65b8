// Package history provides a NATS JetStream key-value implementation of the
// feeling history log.
package history

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/book-expert/reflection-service/internal/core"
)

// Entries are stored one per key as <base64url(subscriber)>.<unix-nanos>,
// so a subscriber's history is a key prefix and ordering falls out of the
// timestamp component.
const keySeparator = "."

// NatsHistoryStore implements core.HistoryStore on a JetStream KV bucket.
type NatsHistoryStore struct {
	bucket string
	kv     nats.KeyValue
}

// New creates a NatsHistoryStore, creating or binding the bucket.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsHistoryStore, error) {
	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Feeling history entries for the %s bucket.", bucketName),
	})
	if err != nil {
		// If the bucket already exists, bind to it.
		kv, err = jetstreamContext.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to create or bind feelings bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsHistoryStore{
		bucket: bucketName,
		kv:     kv,
	}, nil
}

// Append records one feeling entry. Writers are the journaling surface and
// tests; the pipeline itself only reads.
func (s *NatsHistoryStore) Append(_ context.Context, entry core.FeelingEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal feeling entry: %w", err)
	}

	key := entryKey(entry.Subscriber, entry.Timestamp)

	_, err = s.kv.Put(key, data)
	if err != nil {
		return fmt.Errorf("failed to store feeling entry '%s': %w", key, err)
	}

	return nil
}

// Query returns the subscriber's entries with timestamps strictly after
// since, ordered oldest to newest.
func (s *NatsHistoryStore) Query(
	_ context.Context,
	subscriber string,
	since time.Time,
) ([]core.FeelingEntry, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list keys in bucket '%s': %w", s.bucket, err)
	}

	prefix := subscriberPrefix(subscriber)

	var matched []string

	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		timestamp, parseErr := parseEntryKey(key, prefix)
		if parseErr != nil {
			continue
		}

		if timestamp.After(since) {
			matched = append(matched, key)
		}
	}

	// The timestamp component is fixed-width nanoseconds, so lexical order
	// is chronological order.
	sort.Strings(matched)

	entries := make([]core.FeelingEntry, 0, len(matched))

	for _, key := range matched {
		kvEntry, getErr := s.kv.Get(key)
		if getErr != nil {
			return nil, fmt.Errorf("failed to read entry '%s': %w", key, getErr)
		}

		var entry core.FeelingEntry

		unmarshalErr := json.Unmarshal(kvEntry.Value(), &entry)
		if unmarshalErr != nil {
			return nil, fmt.Errorf("failed to unmarshal entry '%s': %w", key, unmarshalErr)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func subscriberPrefix(subscriber string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(subscriber)) + keySeparator
}

func entryKey(subscriber string, timestamp time.Time) string {
	return fmt.Sprintf("%s%020d", subscriberPrefix(subscriber), timestamp.UnixNano())
}

func parseEntryKey(key, prefix string) (time.Time, error) {
	nanos, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse entry key '%s': %w", key, err)
	}

	return time.Unix(0, nanos), nil
}
