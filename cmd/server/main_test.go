package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartcredit/backend/internal/cache"
	"smartcredit/backend/internal/config"
	"smartcredit/backend/internal/store/memory"
	sqlitestore "smartcredit/backend/internal/store/sqlite"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"short secret", config.Config{AuthSecret: "short", OperatorUsername: "admin", OperatorPassword: "Vt9#kq2LmZ"}, true},
		{"missing password", config.Config{AuthSecret: strongSecret, OperatorUsername: "admin"}, true},
		{"common password", config.Config{AuthSecret: strongSecret, OperatorUsername: "admin", OperatorPassword: "Password"}, true},
		{"repeated character", config.Config{AuthSecret: strongSecret, OperatorUsername: "admin", OperatorPassword: "zzzzzzzzzz"}, true},
		{"same as username", config.Config{AuthSecret: strongSecret, OperatorUsername: "cashdesk1", OperatorPassword: "CashDesk1"}, true},
		{"strong", config.Config{AuthSecret: strongSecret, OperatorUsername: "admin", OperatorPassword: "Vt9#kq2LmZ"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSecurityConfig(tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpenRepositoryDefaultsToMemory(t *testing.T) {
	repo, closers, err := openRepository(context.Background(), config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, closers)
	assert.IsType(t, &memory.Store{}, repo)

	items, err := repo.ListItems(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, items)
}

func TestOpenRepositorySQLite(t *testing.T) {
	cfg := config.Config{SQLitePath: filepath.Join(t.TempDir(), "ledger.db"), LogLevel: "info"}

	repo, closers, err := openRepository(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, closers, 1)
	defer closers[0]()

	assert.IsType(t, &sqlitestore.Store{}, repo)
	p, ok := repo.(pinger)
	require.True(t, ok)
	assert.NoError(t, p.Ping(context.Background()))
}

func TestOpenCreditBoardCacheWithoutRedis(t *testing.T) {
	board, closeFn := openCreditBoardCache(context.Background(), config.Config{}, zap.NewNop())
	assert.Nil(t, closeFn)
	assert.IsType(t, &cache.MemoryCreditBoardCache{}, board)
}
