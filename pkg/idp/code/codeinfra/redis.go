package codeinfra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp/code"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/redis/go-redis/v9"
)

// RedisCodeRepository stores single-use codes in redis. GETDEL gives the
// atomic check-and-consume the pipeline requires: concurrent redemptions of
// one key can never both observe the value.
type RedisCodeRepository struct {
	client *redis.Client
}

// NewRedisCodeRepository creates the redis-backed code store.
func NewRedisCodeRepository(client *redis.Client) code.Repository {
	return &RedisCodeRepository{client: client}
}

func codeKey(tenantID kernel.TenantID, id string, typ code.Type) string {
	return fmt.Sprintf("code:%s:%s:%s", tenantID.String(), typ, id)
}

// Get returns the code without consuming it, or nil when absent.
func (r *RedisCodeRepository) Get(ctx context.Context, tenantID kernel.TenantID, id string, typ code.Type) (*code.Code, error) {
	raw, err := r.client.Get(ctx, codeKey(tenantID, id, typ)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to read code from redis", errx.TypeInternal)
	}
	return decode(raw)
}

// Create stores a new code with NX semantics so an id collision is detected
// rather than silently overwritten.
func (r *RedisCodeRepository) Create(ctx context.Context, c *code.Code) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return errx.Wrap(err, "failed to encode code", errx.TypeInternal)
	}

	// Key TTL tracks the code expiry with slack; validity is still checked
	// lazily against ExpiresAt at redemption time.
	ttl := time.Until(c.ExpiresAt) + time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}

	ok, err := r.client.SetNX(ctx, codeKey(c.TenantID, c.ID, c.Type), raw, ttl).Result()
	if err != nil {
		return errx.Wrap(err, "failed to store code in redis", errx.TypeInternal)
	}
	if !ok {
		return code.ErrCodeCollision
	}
	return nil
}

// Consume atomically removes and returns the code via GETDEL.
func (r *RedisCodeRepository) Consume(ctx context.Context, tenantID kernel.TenantID, id string, typ code.Type) (*code.Code, error) {
	raw, err := r.client.GetDel(ctx, codeKey(tenantID, id, typ)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errx.Wrap(err, "failed to consume code from redis", errx.TypeInternal)
	}
	return decode(raw)
}

func decode(raw string) (*code.Code, error) {
	var c code.Code
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, errx.Wrap(err, "failed to decode stored code", errx.TypeInternal)
	}
	return &c, nil
}
