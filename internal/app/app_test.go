package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/config"
	"poscore/internal/core/entity"
	"poscore/internal/core/types"
	"poscore/internal/domain"
	"poscore/internal/domain/catalogs/branch"
	"poscore/internal/domain/catalogs/item"
	"poscore/internal/domain/sales"
	"poscore/internal/domain/stock"
	"poscore/pkg/logger"
)

func memoryConfig() *config.Config {
	return &config.Config{
		AppEnv:          "test",
		StoreDriver:     config.DriverMemory,
		NodeID:          "branch-1",
		SyncInterval:    time.Second,
		SalesIDStrategy: config.SalesIDScan,
		CacheTTL:        time.Minute,
		IdempotencyTTL:  time.Hour,
	}
}

func sell(t *testing.T, s *Services, itemID string) *sales.Transaction {
	t.Helper()
	tx, err := s.Sales.Create(context.Background(), &sales.Transaction{
		BaseDocument:  entity.BaseDocument{BranchID: "b1"},
		PaymentMethod: "cash",
		Items:         []sales.Line{{ItemID: itemID, QuantitySold: types.Int(1)}},
	})
	require.NoError(t, err)
	return tx
}

func seedItem(t *testing.T, s *Services) {
	t.Helper()
	require.NoError(t, s.Items.Create(context.Background(), &item.Item{
		BaseDocument:    entity.BaseDocument{ID: "i1", BranchID: "b1"},
		Name:            "Milk",
		SellingPrice:    types.MustMoney("1.50"),
		StockManagement: stock.Management{Stock: stock.Quantity{Quantity: types.Int(5)}},
	}))
}

func TestNew_MemoryDefaults(t *testing.T) {
	s, err := New(context.Background(), memoryConfig(), logger.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Engine, "no remote configured")
	assert.Nil(t, s.JWT, "no replication secret configured")
	assert.NotNil(t, s.Idempotency)
	assert.Empty(t, s.Checks)

	seedItem(t, s)
	assert.Equal(t, "1", sell(t, s, "i1").SalesID)
	assert.Equal(t, "2", sell(t, s, "i1").SalesID)
}

func TestNew_CounterStrategy(t *testing.T) {
	cfg := memoryConfig()
	cfg.SalesIDStrategy = config.SalesIDCounter

	s, err := New(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	defer s.Close()

	seedItem(t, s)
	assert.Equal(t, "1", sell(t, s, "i1").SalesID)
	assert.Equal(t, "2", sell(t, s, "i1").SalesID)
}

func TestNew_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.RedisAddr = mr.Addr()

	s, err := New(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.Contains(t, s.Checks, "redis")
	require.NoError(t, s.Checks["redis"](context.Background()))

	seedItem(t, s)
	_, err = s.Items.List(context.Background(), itemFilter())
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys(), "list projection cached in redis")
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := memoryConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}

func TestNew_SnapshotSurvivesRestart(t *testing.T) {
	cfg := memoryConfig()
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "store.snap")
	ctx := context.Background()

	s, err := New(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Branches.Create(ctx, &branch.Branch{
		BaseDocument: entity.BaseDocument{ID: "b1"},
		Name:         "Main",
	}))
	require.NoError(t, s.Close())

	s, err = New(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	defer s.Close()

	b, err := s.Branches.Get(ctx, "b1", "")
	require.NoError(t, err)
	assert.Equal(t, "Main", b.Name)
}

func TestNew_RemoteRequiresSecret(t *testing.T) {
	cfg := memoryConfig()
	cfg.RemoteURL = "http://authority.invalid"

	_, err := New(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)

	cfg.ReplicationSecret = "s"
	s, err := New(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)
	defer s.Close()
	assert.NotNil(t, s.Engine)
	assert.NotNil(t, s.JWT)
}

func itemFilter() domain.ListFilter {
	return domain.ListFilter{BranchID: "b1"}
}
