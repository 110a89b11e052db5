package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedRoleStorage keeps recently read roles in an expiring LRU in front of another
// RoleStorage. Writes go straight through and empty the cache.
type CachedRoleStorage struct {
	RoleStorage
	cache *expirable.LRU[string, Role]
}

// NewCachedRoleStorage wraps inner with a cache of up to size roles, each kept for ttl
func NewCachedRoleStorage(inner RoleStorage, size int, ttl time.Duration) *CachedRoleStorage {
	return &CachedRoleStorage{
		RoleStorage: inner,
		cache:       expirable.NewLRU[string, Role](size, nil, ttl),
	}
}

// GetRoleByName serves from the cache; misses and errors are never cached
func (c *CachedRoleStorage) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	if role, ok := c.cache.Get(name); ok {
		return cloneRole(role), nil
	}
	role, err := c.RoleStorage.GetRoleByName(ctx, name)
	if err != nil {
		return nil, err
	}
	c.cache.Add(name, *cloneRole(*role))
	return role, nil
}

// CreateRole stores role and drops cached entries
func (c *CachedRoleStorage) CreateRole(ctx context.Context, role *Role) error {
	defer c.cache.Purge()
	return c.RoleStorage.CreateRole(ctx, role)
}

// SeedDefaultRoles seeds through the wrapped store and drops cached entries
func (c *CachedRoleStorage) SeedDefaultRoles(ctx context.Context) error {
	defer c.cache.Purge()
	return c.RoleStorage.SeedDefaultRoles(ctx)
}

// Len reports how many roles are cached
func (c *CachedRoleStorage) Len() int {
	return c.cache.Len()
}

func cloneRole(r Role) *Role {
	r.Permissions = append([]Permission(nil), r.Permissions...)
	return &r
}
