package cache

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/opensource-finance/docket/internal/domain"
)

// responsePrefix namespaces replayable API responses.
const responsePrefix = "idem:"

// Response is a completed API response kept for Idempotency-Key replay.
type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body"`
}

// GetResponse returns the response stored under an idempotency key, or nil.
func GetResponse(ctx context.Context, c domain.Cache, key string) (*Response, error) {
	data, err := c.Get(ctx, responsePrefix+key)
	if err != nil || data == nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetResponse stores a response under an idempotency key.
func SetResponse(ctx context.Context, c domain.Cache, key string, resp *Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.Set(ctx, responsePrefix+key, data, ttl)
}
