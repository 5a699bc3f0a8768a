package dlr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	mappingKeyPrefix = "dlr:mapping:"
	mappingTTL       = 7 * 24 * time.Hour
)

// Mapping ties a provider message id back to the row it belongs to.
// Written at submit-ack time, read when the receipt arrives.
type Mapping struct {
	MessageID   string `json:"messageId"`
	PhoneNumber string `json:"phoneNumber"`
}

// MappingLookup is the read side used by the Correlator.
type MappingLookup interface {
	Lookup(ctx context.Context, providerMessageID string) (Mapping, bool, error)
}

// MappingStore keeps provider-message-id mappings in redis so receipt
// correlation does not need a DB round trip on the hot path.
type MappingStore struct {
	client *redis.Client
}

func NewMappingStore(client *redis.Client) *MappingStore {
	return &MappingStore{client: client}
}

func (s *MappingStore) Store(ctx context.Context, providerMessageID string, m Mapping) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, mappingKeyPrefix+providerMessageID, payload, mappingTTL).Err(); err != nil {
		return fmt.Errorf("failed to store DLR mapping for %s: %w", providerMessageID, err)
	}
	return nil
}

func (s *MappingStore) Lookup(ctx context.Context, providerMessageID string) (Mapping, bool, error) {
	payload, err := s.client.Get(ctx, mappingKeyPrefix+providerMessageID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Mapping{}, false, nil
		}
		return Mapping{}, false, fmt.Errorf("failed to look up DLR mapping for %s: %w", providerMessageID, err)
	}

	var m Mapping
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Mapping{}, false, fmt.Errorf("corrupt DLR mapping for %s: %w", providerMessageID, err)
	}
	return m, true, nil
}
