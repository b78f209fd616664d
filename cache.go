package askgate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CacheDateLayout is the timestamp format of persisted usage records.
const CacheDateLayout = "2006-01-02T15:04:05-0700"

// ResponseCache is a durable namespace-scoped store of the last successful exchange.
// Load returns (nil, nil) when nothing is stored. Callers treat every error as
// "no record" on load and ignore errors on save.
type ResponseCache interface {
	Load(ctx context.Context, namespace string) (*UsageRecord, error)
	Save(ctx context.Context, namespace string, rec UsageRecord) error
}

// usageDocument is the JSON shape shared by document-style cache backends.
type usageDocument struct {
	CallDate      *string      `json:"callDate"`
	CachedMessage *ChatMessage `json:"cachedMessage"`
	CallCount     *int         `json:"callCount"`
}

// EncodeUsageRecord serializes rec with CallDate formatted in loc.
func EncodeUsageRecord(rec UsageRecord, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.Local
	}
	date := rec.CallDate.In(loc).Format(CacheDateLayout)
	count := rec.CallCount
	data, err := json.Marshal(usageDocument{
		CallDate:      &date,
		CachedMessage: rec.CachedMessage,
		CallCount:     &count,
	})
	if err != nil {
		return nil, fmt.Errorf("askgate: encode usage record: %w", err)
	}
	return data, nil
}

// DecodeUsageRecord parses a serialized record. Missing required fields are an error.
func DecodeUsageRecord(data []byte) (UsageRecord, error) {
	var doc usageDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return UsageRecord{}, fmt.Errorf("askgate: decode usage record: %w", err)
	}
	if doc.CallDate == nil || doc.CallCount == nil {
		return UsageRecord{}, fmt.Errorf("askgate: decode usage record: missing callDate or callCount")
	}
	date, err := time.Parse(CacheDateLayout, *doc.CallDate)
	if err != nil {
		return UsageRecord{}, fmt.Errorf("askgate: decode usage record: %w", err)
	}
	return UsageRecord{
		CallDate:      date,
		CallCount:     *doc.CallCount,
		CachedMessage: doc.CachedMessage,
	}, nil
}

// noopCache stores nothing.
type noopCache struct{}

func (noopCache) Load(context.Context, string) (*UsageRecord, error) { return nil, nil }
func (noopCache) Save(context.Context, string, UsageRecord) error { return nil }
