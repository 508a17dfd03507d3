package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-userhooks/core"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	runStore       *RunStore
	cachedRunStore *CachedRunStore
	userStore      *UserStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Build(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Build(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// Build resolves a *bun.DB from a persistence client (or a bun db) and
// creates the stores once.
func (f *RepositoryFactory) Build(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.runStore != nil && f.userStore != nil {
		return nil
	}
	runStore, err := NewRunStore(f.db)
	if err != nil {
		return err
	}
	userStore, err := NewUserStore(f.db)
	if err != nil {
		return err
	}
	f.runStore = runStore
	f.userStore = userStore
	return nil
}

// WithRunCache puts a read-through cache in front of the run store.
func (f *RepositoryFactory) WithRunCache(cacheService repositorycache.CacheService) error {
	if f == nil || f.runStore == nil {
		return fmt.Errorf("sqlstore: repository factory is not built")
	}
	cached, err := NewCachedRunStore(f.runStore, cacheService)
	if err != nil {
		return err
	}
	f.cachedRunStore = cached
	return nil
}

// RunStore returns the cached run store when one is configured.
func (f *RepositoryFactory) RunStore() core.RunStore {
	if f == nil {
		return nil
	}
	if f.cachedRunStore != nil {
		return f.cachedRunStore
	}
	if f.runStore == nil {
		return nil
	}
	return f.runStore
}

func (f *RepositoryFactory) UserStore() *UserStore {
	if f == nil {
		return nil
	}
	return f.userStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
