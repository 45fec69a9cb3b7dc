package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/BryanFarras/TokoKami/internal/domain"
)

const (
	KeyProductList = "products:list"
	KeyReportsBase = "reports:"
)

// Scopes group keys that are invalidated together.
const (
	ScopeProducts = "products"
	ScopeReports  = "reports"
)

// Cache stores JSON-encodable values. A miss is (false, nil).
//
// Every scope carries a generation. Readers fold the generation into the key
// they read and write, and invalidation bumps it, so a value loaded before a
// write can never be served after that write's invalidation.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
	Generation(ctx context.Context, scope string) (int64, error)
	BumpGeneration(ctx context.Context, scope string) error
}

type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// VersionedKey is the key a value loaded under generation gen lives at.
func VersionedKey(key string, gen int64) string {
	return key + "@" + strconv.FormatInt(gen, 10)
}

type NoopCache struct{}

func (NoopCache) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (NoopCache) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (NoopCache) DeletePrefix(_ context.Context, _ string) error {
	return nil
}

func (NoopCache) Generation(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (NoopCache) BumpGeneration(_ context.Context, _ string) error {
	return nil
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ domain.Event) error {
	return nil
}
