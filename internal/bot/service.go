package bot

import (
	"github.com/swingbuddy/swingbuddy/internal/cache"
	"github.com/swingbuddy/swingbuddy/internal/config"
	"github.com/swingbuddy/swingbuddy/internal/db"
)

type ServiceGateway interface {
	GetGateway() ChatGateway
}

type ServiceDB interface {
	GetDB() db.Client
}

type ServiceCache interface {
	GetCache() cache.Store
}

type ServiceConfig interface {
	GetConfig() config.Config
}

// Service bundles the shared collaborators handlers depend on.
type Service interface {
	ServiceGateway
	ServiceDB
	ServiceCache
	ServiceConfig
}

type service struct {
	gateway ChatGateway
	db      db.Client
	cache   cache.Store
	cfg     config.Config
}

func NewService(gateway ChatGateway, dbClient db.Client, cacheStore cache.Store, cfg config.Config) Service {
	return &service{
		gateway: gateway,
		db:      dbClient,
		cache:   cacheStore,
		cfg:     cfg,
	}
}

func (s *service) GetGateway() ChatGateway {
	return s.gateway
}

func (s *service) GetDB() db.Client {
	return s.db
}

func (s *service) GetCache() cache.Store {
	return s.cache
}

func (s *service) GetConfig() config.Config {
	return s.cfg
}
