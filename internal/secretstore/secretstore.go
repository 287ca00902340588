// Package secretstore is the pipeline's interface to the external secret
// manager (spec §6 "vault get(name) interface"): a narrow Get(ctx, name)
// contract backed by a real HashiCorp Vault client, with a short-lived
// in-memory cache so a hot path never waits on Vault per call.
package secretstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

// Sentinel errors distinguish the three failure outcomes a caller can react
// to differently (spec §7 error taxonomy).
var (
	ErrNotFound     = errors.New("secretstore: secret not found")
	ErrUnauthorized = errors.New("secretstore: unauthorized")
	ErrCorrupt      = errors.New("secretstore: secret payload malformed")
)

// Config configures the underlying Vault client and cache behavior.
type Config struct {
	Address    string
	Token      string
	MountPath  string // KV v2 mount, default "secret"
	SecretPath string // base path under the mount, e.g. "mevpipe/production"
	CacheTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MountPath == "" {
		c.MountPath = "secret"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

// Store is the SecretStore implementation backed by Vault's KV v2 engine.
type Store struct {
	client *vaultapi.Client
	cfg    Config
	log    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]cachedValue
}

type cachedValue struct {
	data      []byte
	expiresAt time.Time
}

// New builds a Store, authenticating the underlying Vault client with the
// supplied token.
func New(cfg Config, log zerolog.Logger) (*Store, error) {
	cfg = cfg.withDefaults()

	vcfg := vaultapi.DefaultConfig()
	if cfg.Address != "" {
		vcfg.Address = cfg.Address
	}
	client, err := vaultapi.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("secretstore: create vault client: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("secretstore: vault token is required")
	}
	client.SetToken(cfg.Token)

	return &Store{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "secretstore").Logger(),
		cache:  make(map[string]cachedValue),
	}, nil
}

// Get retrieves the named secret's raw string value, consulting the cache
// first. name is resolved to Vault path {mount}/data/{secretPath}/{name}
// with key "value".
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	if v, ok := s.getCached(name); ok {
		return v, nil
	}

	fullPath := fmt.Sprintf("%s/data/%s/%s", s.cfg.MountPath, s.cfg.SecretPath, name)
	secret, err := s.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		if isForbidden(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnauthorized, name, err)
		}
		return nil, fmt.Errorf("secretstore: read %s: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing data envelope", ErrCorrupt, name)
	}
	raw, ok := data["value"]
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing value key", ErrNotFound, name)
	}
	str, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s: value is not a string", ErrCorrupt, name)
	}

	s.setCached(name, []byte(str))
	return []byte(str), nil
}

func (s *Store) getCached(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cache[name]
	if !ok || time.Now().After(v.expiresAt) {
		return nil, false
	}
	return v.data, true
}

func (s *Store) setCached(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[name] = cachedValue{data: data, expiresAt: time.Now().Add(s.cfg.CacheTTL)}
}

// ClearCache evicts every cached secret, forcing the next Get to hit Vault.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cachedValue)
}

func isForbidden(err error) bool {
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 403 || respErr.StatusCode == 401
	}
	return false
}
