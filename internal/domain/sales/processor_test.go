package sales

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/core/apperror"
	"poscore/internal/core/docstore"
	"poscore/internal/core/entity"
	"poscore/internal/core/revision"
	"poscore/internal/core/types"
	"poscore/internal/domain"
	"poscore/internal/domain/audit"
	"poscore/internal/domain/catalogs/item"
	"poscore/internal/domain/salesid"
	"poscore/internal/domain/stock"
	"poscore/internal/infrastructure/storage/docrepo"
	"poscore/internal/infrastructure/storage/memory"
	"poscore/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetDefault(logger.NewNop())
	os.Exit(m.Run())
}

// failingCollection fails writes of selected ids once armed.
type failingCollection struct {
	docstore.Collection
	mu   sync.Mutex
	fail map[string]bool
}

func (f *failingCollection) arm(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[string]bool{}
	}
	f.fail[id] = true
}

func (f *failingCollection) Put(ctx context.Context, id string, body json.RawMessage, expected revision.Revision) (*docstore.Envelope, error) {
	f.mu.Lock()
	fail := f.fail[id]
	f.mu.Unlock()
	if fail {
		return nil, errors.New("disk full")
	}
	return f.Collection.Put(ctx, id, body, expected)
}

type countingMetrics struct {
	outcomes []string
}

func (m *countingMetrics) SaleRecorded(outcome string) {
	m.outcomes = append(m.outcomes, outcome)
}

type fixture struct {
	items   *item.Service
	txs     *transactionService
	logs    *domain.DocumentService[*audit.Log]
	proc    *Processor
	itemsDB *failingCollection
	txDB    *failingCollection
	metrics *countingMetrics
}

type transactionService = domain.DocumentService[*Transaction]

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := memory.New(domain.AllCollections())
	require.NoError(t, err)
	coll := func(name string) docstore.Collection {
		c, err := store.Collection(name)
		require.NoError(t, err)
		return c
	}

	itemsDB := &failingCollection{Collection: coll(domain.CollectionItems)}
	txDB := &failingCollection{Collection: coll(domain.CollectionTransactions)}

	items := item.NewService(docrepo.New(itemsDB, "Item", item.New), nil)
	txs := NewTransactionService(docrepo.New(txDB, "Transaction", New))
	logs := domain.NewDocumentService(domain.DocumentServiceConfig[*audit.Log]{
		Repo:         docrepo.New(coll(domain.CollectionLogs), "Log", audit.New),
		EntityName:   "Log",
		BranchScoped: true,
	})
	metrics := &countingMetrics{}

	return &fixture{
		items:   items,
		txs:     txs,
		logs:    logs,
		proc:    NewProcessor(items, txs, salesid.NewScanAllocator(txDB), audit.NewRecorder(logs), metrics),
		itemsDB: itemsDB,
		txDB:    txDB,
		metrics: metrics,
	}
}

func (f *fixture) addItem(t *testing.T, itemID, branchID string, s stock.Stock, price string) *item.Item {
	t.Helper()
	it := &item.Item{
		BaseDocument:    entity.BaseDocument{ID: itemID, BranchID: branchID},
		Name:            "item " + itemID,
		SellingPrice:    types.MustMoney(price),
		StockManagement: stock.Management{Stock: s},
	}
	require.NoError(t, f.items.Create(context.Background(), it))
	return it
}

func (f *fixture) level(t *testing.T, itemID string) types.Amount {
	t.Helper()
	it, err := f.items.Get(context.Background(), itemID, "")
	require.NoError(t, err)
	return it.StockManagement.Level()
}

func qty(n int64) stock.Quantity {
	return stock.Quantity{Quantity: types.Int(n)}
}

func saleOf(branchID string, lines ...Line) *Transaction {
	return &Transaction{
		BaseDocument:  entity.BaseDocument{BranchID: branchID},
		PaymentMethod: "cash",
		Items:         lines,
	}
}

func TestCreate_DecrementsStockAndSnapshotsLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "A", "b1", qty(10), "2.50")

	tx, err := f.proc.Create(ctx, saleOf("b1", Line{ItemID: "A", QuantitySold: types.Int(5)}))
	require.NoError(t, err)

	assert.Equal(t, "1", tx.SalesID)
	assert.False(t, tx.Revision.IsZero())
	assert.Equal(t, "item A", tx.Items[0].Name)
	assert.True(t, tx.Items[0].SellingPrice.Equal(types.MustMoney("2.50")))
	assert.True(t, tx.Total.Equal(types.MustMoney("12.50")))
	assert.True(t, f.level(t, "A").Equal(types.Int(5)))

	stored, err := f.txs.Get(ctx, tx.ID, "b1")
	require.NoError(t, err)
	assert.Equal(t, tx.SalesID, stored.SalesID)

	logs, err := f.logs.List(ctx, domain.ListFilter{BranchID: "b1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, audit.ActionSale, logs[0].Action)
	assert.Equal(t, []string{OutcomeCompleted}, f.metrics.outcomes)
}

func TestCreate_KeepsRequestSnapshotAndTotal(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "A", "b1", qty(10), "2.50")

	req := saleOf("b1", Line{ItemID: "A", Name: "promo", SellingPrice: types.MustMoney("2"), QuantitySold: types.Int(2)})
	req.Total = types.MustMoney("3.5")
	tx, err := f.proc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "promo", tx.Items[0].Name)
	assert.True(t, tx.Items[0].SellingPrice.Equal(types.MustMoney("2")))
	assert.True(t, tx.Total.Equal(types.MustMoney("3.5")))
}

func TestCreate_SequentialSalesID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "A", "b1", qty(10), "1")

	seed := saleOf("b1", Line{ItemID: "A", Name: "A", QuantitySold: types.Int(1)})
	seed.SalesID = "7"
	require.NoError(t, f.txs.Create(ctx, seed))

	tx, err := f.proc.Create(ctx, saleOf("b1", Line{ItemID: "A", QuantitySold: types.Int(1)}))
	require.NoError(t, err)
	assert.Equal(t, "8", tx.SalesID)

	tx, err = f.proc.Create(ctx, saleOf("b1", Line{ItemID: "A", QuantitySold: types.Int(1)}))
	require.NoError(t, err)
	assert.Equal(t, "9", tx.SalesID)
}

func TestCreate_WeightItem(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "W", "b1", stock.Weight{TotalWeight: types.MustMoney("2.5"), Unit: "kg"}, "10")

	tx, err := f.proc.Create(context.Background(), saleOf("b1", Line{ItemID: "W", QuantitySold: types.MustMoney("0.75")}))
	require.NoError(t, err)
	assert.True(t, tx.Total.Equal(types.MustMoney("7.5")))
	assert.True(t, f.level(t, "W").Equal(types.MustMoney("1.75")))
}

func TestCreate_ValidationHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "A", "b1", qty(10), "1")

	tests := []struct {
		name string
		req  *Transaction
		code string
	}{
		{"missing branch", saleOf("", Line{ItemID: "A", QuantitySold: types.Int(1)}), apperror.CodeValidation},
		{"no items", saleOf("b1"), apperror.CodeValidation},
		{"zero quantity", saleOf("b1", Line{ItemID: "A", QuantitySold: types.Zero()}), apperror.CodeValidation},
		{"unknown item", saleOf("b1", Line{ItemID: "A", QuantitySold: types.Int(1)}, Line{ItemID: "ghost", QuantitySold: types.Int(1)}), apperror.CodeNotFound},
		{"foreign branch", saleOf("b2", Line{ItemID: "A", QuantitySold: types.Int(1)}), apperror.CodeBranchMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.proc.Create(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
			assert.True(t, f.level(t, "A").Equal(types.Int(10)))
		})
	}

	all, err := f.txs.List(ctx, domain.ListFilter{BranchID: "b1"})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_DuplicateID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "A", "b1", qty(10), "1")

	req := saleOf("b1", Line{ItemID: "A", QuantitySold: types.Int(1)})
	req.ID = "t1"
	_, err := f.proc.Create(ctx, req)
	require.NoError(t, err)

	req = saleOf("b1", Line{ItemID: "A", QuantitySold: types.Int(1)})
	req.ID = "t1"
	_, err = f.proc.Create(ctx, req)
	assert.True(t, apperror.IsConflict(err))
	assert.True(t, f.level(t, "A").Equal(types.Int(9)))
}

func TestCreate_FirstStockWriteFailureIsNotPartial(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "A", "b1", qty(10), "1")
	f.itemsDB.arm("A")

	_, err := f.proc.Create(context.Background(), saleOf("b1", Line{ItemID: "A", QuantitySold: types.Int(1)}))
	require.Error(t, err)
	assert.False(t, apperror.HasCode(err, apperror.CodePartialFailure))
	assert.Equal(t, []string{OutcomeRejected}, f.metrics.outcomes)
}

func TestCreate_PartialFailureDuringStockUpdate(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "A", "b1", qty(10), "1")
	f.addItem(t, "B", "b1", qty(10), "1")
	f.addItem(t, "C", "b1", qty(10), "1")
	f.itemsDB.arm("B")

	_, err := f.proc.Create(context.Background(), saleOf("b1",
		Line{ItemID: "A", QuantitySold: types.Int(2)},
		Line{ItemID: "B", QuantitySold: types.Int(2)},
		Line{ItemID: "C", QuantitySold: types.Int(2)},
	))
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodePartialFailure, appErr.Code)
	assert.Equal(t, string(StageUpdatingStock), appErr.Details["stage"])
	assert.Equal(t, []string{"A"}, appErr.Details["succeeded"])
	failed := appErr.Details["failed"].([]apperror.ItemFailure)
	require.Len(t, failed, 1)
	assert.Equal(t, "B", failed[0].ItemID)
	assert.Equal(t, []string{"C"}, appErr.Details["pending"])

	// No compensation: A stays decremented.
	assert.True(t, f.level(t, "A").Equal(types.Int(8)))
	assert.True(t, f.level(t, "C").Equal(types.Int(10)))
	assert.Equal(t, []string{OutcomePartial}, f.metrics.outcomes)
}

func TestCreate_PartialFailureWhenPersisting(t *testing.T) {
	f := newFixture(t)
	f.addItem(t, "A", "b1", qty(10), "1")

	req := saleOf("b1", Line{ItemID: "A", QuantitySold: types.Int(4)})
	req.ID = "t1"
	f.txDB.arm("t1")

	_, err := f.proc.Create(context.Background(), req)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodePartialFailure, appErr.Code)
	assert.Equal(t, string(StagePersisting), appErr.Details["stage"])
	assert.Equal(t, []string{"A"}, appErr.Details["succeeded"])
	assert.True(t, f.level(t, "A").Equal(types.Int(6)))
}
