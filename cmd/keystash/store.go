package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/benaskins/keystash/internal/audit"
	"github.com/benaskins/keystash/internal/config"
	"github.com/benaskins/keystash/internal/keychain"
	"github.com/benaskins/keystash/internal/keychain/sqlitestore"
)

// store is an opened backend plus the wrapper scoped by flags and config.
type store struct {
	backend keychain.Backend
	wrapper *keychain.Wrapper
	closers []io.Closer
}

func (s *store) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i].Close()
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if level != "" {
		// Validated by config.Load.
		_ = lvl.UnmarshalText([]byte(level))
	} else {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openBackend(cfg *config.Config) (keychain.Backend, io.Closer, error) {
	switch cfg.ResolvedBackend() {
	case config.BackendSystem:
		b, err := keychain.NewSystemBackend()
		return b, nil, err
	case config.BackendMemory:
		return keychain.NewMemoryBackend(), nil, nil
	case config.BackendSQLite:
		key, err := sqlitestore.LoadKey(cfg.ResolvedKeyPath())
		if err != nil {
			return nil, nil, err
		}
		path := cfg.ResolvedStorePath()
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, nil, fmt.Errorf("creating store directory: %w", err)
		}
		s, err := sqlitestore.Open(path, key)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// openStore builds the backend selected by config and a wrapper scoped by
// --service and --access-group, falling back to config values.
func openStore() (*store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	backend, closer, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	s := &store{backend: backend}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}

	if cfg.AuditLog != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditLog), 0700); err != nil {
			s.Close()
			return nil, fmt.Errorf("creating audit directory: %w", err)
		}
		auditLog, err := audit.NewLogger(cfg.AuditLog)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, auditLog)
		s.backend = keychain.NewAuditedBackend(backend, auditLog, "cli")
	}

	service := serviceName
	if service == "" {
		service = cfg.Service
	}
	group := accessGroup
	if group == "" {
		group = cfg.AccessGroup
	}

	opts := []keychain.WrapperOption{keychain.WithLogger(logger)}
	if group != "" {
		opts = append(opts, keychain.WithAccessGroup(group))
	}
	if service == "" {
		s.wrapper = keychain.NewDefault(s.backend, opts...)
	} else {
		s.wrapper = keychain.New(s.backend, service, opts...)
	}
	return s, nil
}
