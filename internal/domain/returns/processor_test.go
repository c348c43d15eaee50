package returns

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
	"poscore/internal/domain/sales"
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

func (f *failingCollection) armed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[id]
}

func (f *failingCollection) Put(ctx context.Context, id string, body json.RawMessage, expected revision.Revision) (*docstore.Envelope, error) {
	if f.armed(id) {
		return nil, errors.New("disk full")
	}
	return f.Collection.Put(ctx, id, body, expected)
}

func (f *failingCollection) Remove(ctx context.Context, id string, expected revision.Revision) (*docstore.Envelope, error) {
	if f.armed(id) {
		return nil, errors.New("disk full")
	}
	return f.Collection.Remove(ctx, id, expected)
}

type fixture struct {
	items   *item.Service
	txs     *domain.DocumentService[*sales.Transaction]
	rets    *domain.DocumentService[*Return]
	sales   *sales.Processor
	proc    *Processor
	itemsDB *failingCollection
	txDB    *failingCollection
	retDB   *failingCollection
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := memory.New(domain.AllCollections())
	require.NoError(t, err)
	coll := func(name string) docstore.Collection {
		c, err := store.Collection(name)
		require.NoError(t, err)
		return c
	}

	f := &fixture{
		itemsDB: &failingCollection{Collection: coll(domain.CollectionItems)},
		txDB:    &failingCollection{Collection: coll(domain.CollectionTransactions)},
		retDB:   &failingCollection{Collection: coll(domain.CollectionReturns)},
	}
	f.items = item.NewService(docrepo.New(f.itemsDB, "Item", item.New), nil)
	f.txs = sales.NewTransactionService(docrepo.New(f.txDB, "Transaction", sales.New))
	f.rets = NewReturnService(docrepo.New(f.retDB, "Return", New))
	logs := domain.NewDocumentService(domain.DocumentServiceConfig[*audit.Log]{
		Repo:         docrepo.New(coll(domain.CollectionLogs), "Log", audit.New),
		EntityName:   "Log",
		BranchScoped: true,
	})
	recorder := audit.NewRecorder(logs)
	f.sales = sales.NewProcessor(f.items, f.txs, salesid.NewScanAllocator(f.txDB, f.retDB), recorder, nil)
	f.proc = NewProcessor(f.items, f.txs, f.rets, recorder, nil)
	return f
}

func (f *fixture) addItem(t *testing.T, itemID string, n int64, price string) {
	t.Helper()
	require.NoError(t, f.items.Create(context.Background(), &item.Item{
		BaseDocument:    entity.BaseDocument{ID: itemID, BranchID: "b1"},
		Name:            "item " + itemID,
		SellingPrice:    types.MustMoney(price),
		StockManagement: stock.Management{Stock: stock.Quantity{Quantity: types.Int(n)}},
	}))
}

func (f *fixture) sell(t *testing.T, lines ...sales.Line) *sales.Transaction {
	t.Helper()
	tx, err := f.sales.Create(context.Background(), &sales.Transaction{
		BaseDocument: entity.BaseDocument{BranchID: "b1"},
		Items:        lines,
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) level(t *testing.T, itemID string) types.Amount {
	t.Helper()
	it, err := f.items.Get(context.Background(), itemID, "")
	require.NoError(t, err)
	return it.StockManagement.Level()
}

func returnOf(branchID, txID string, lines ...Line) *Return {
	return &Return{
		BaseDocument:  entity.BaseDocument{BranchID: branchID},
		TransactionID: txID,
		Items:         lines,
	}
}

func TestProcess_SaleReturnSymmetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "A", 10, "4")

	tx := f.sell(t, sales.Line{ItemID: "A", QuantitySold: types.Int(5)})
	assert.True(t, f.level(t, "A").Equal(types.Int(5)))

	ret, err := f.proc.Process(ctx, returnOf("b1", tx.ID, Line{ItemID: "A", ReturnQuantity: types.Int(2)}))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, ret.Status)
	assert.True(t, ret.Total.Equal(types.Int(8)))
	assert.Equal(t, "item A", ret.Items[0].Name)
	assert.True(t, f.level(t, "A").Equal(types.Int(7)))

	reduced, err := f.txs.Get(ctx, tx.ID, "b1")
	require.NoError(t, err)
	require.Len(t, reduced.Items, 1)
	assert.True(t, reduced.Items[0].QuantitySold.Equal(types.Int(3)))
	assert.True(t, reduced.Total.Equal(types.Int(12)))

	_, err = f.proc.Process(ctx, returnOf("b1", tx.ID, Line{ItemID: "A", ReturnQuantity: types.Int(3)}))
	require.NoError(t, err)
	assert.True(t, f.level(t, "A").Equal(types.Int(10)))

	_, err = f.txs.Get(ctx, tx.ID, "b1")
	assert.True(t, apperror.IsNotFound(err), "fully returned transaction is deleted")

	rets, err := f.rets.List(ctx, domain.ListFilter{BranchID: "b1"})
	require.NoError(t, err)
	assert.Len(t, rets, 2)
}

func TestProcess_FullReturnDoesNotFreeSalesID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "A", 10, "1")

	first := f.sell(t, sales.Line{ItemID: "A", QuantitySold: types.Int(1)})
	second := f.sell(t, sales.Line{ItemID: "A", QuantitySold: types.Int(1)})
	assert.Equal(t, "1", first.SalesID)
	assert.Equal(t, "2", second.SalesID)

	ret, err := f.proc.Process(ctx, returnOf("b1", second.ID, Line{ItemID: "A", ReturnQuantity: types.Int(1)}))
	require.NoError(t, err)
	assert.Equal(t, "2", ret.SalesID)

	third := f.sell(t, sales.Line{ItemID: "A", QuantitySold: types.Int(1)})
	assert.Equal(t, "3", third.SalesID)
}

func TestProcess_PartialLineRemoval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "A", 10, "1")
	f.addItem(t, "B", 10, "2")

	tx := f.sell(t,
		sales.Line{ItemID: "A", QuantitySold: types.Int(1)},
		sales.Line{ItemID: "B", QuantitySold: types.Int(3)},
	)

	_, err := f.proc.Process(ctx, returnOf("b1", tx.ID, Line{ItemID: "A", ReturnQuantity: types.Int(1)}))
	require.NoError(t, err)

	reduced, err := f.txs.Get(ctx, tx.ID, "b1")
	require.NoError(t, err)
	require.Len(t, reduced.Items, 1)
	assert.Equal(t, "B", reduced.Items[0].ItemID)
	assert.True(t, reduced.Total.Equal(types.Int(6)))
}

func TestProcess_RejectedBeforeSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "A", 10, "1")
	f.addItem(t, "B", 10, "1")
	tx := f.sell(t, sales.Line{ItemID: "A", QuantitySold: types.Int(5)})

	tests := []struct {
		name string
		req  *Return
		code string
	}{
		{"no items", returnOf("b1", tx.ID), apperror.CodeValidation},
		{"missing transaction id", returnOf("b1", "", Line{ItemID: "A", ReturnQuantity: types.Int(1)}), apperror.CodeValidation},
		{"exceeds sold", returnOf("b1", tx.ID, Line{ItemID: "A", ReturnQuantity: types.Int(6)}), apperror.CodeValidation},
		{"exceeds sold across lines", returnOf("b1", tx.ID,
			Line{ItemID: "A", ReturnQuantity: types.Int(3)},
			Line{ItemID: "A", ReturnQuantity: types.Int(3)},
		), apperror.CodeValidation},
		{"item not sold", returnOf("b1", tx.ID, Line{ItemID: "B", ReturnQuantity: types.Int(1)}), apperror.CodeValidation},
		{"unknown transaction", returnOf("b1", "ghost", Line{ItemID: "A", ReturnQuantity: types.Int(1)}), apperror.CodeNotFound},
		{"other branch", returnOf("b2", tx.ID, Line{ItemID: "A", ReturnQuantity: types.Int(1)}), apperror.CodeBranchMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.proc.Process(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
			assert.True(t, f.level(t, "A").Equal(types.Int(5)))
		})
	}

	stored, err := f.txs.Get(ctx, tx.ID, "b1")
	require.NoError(t, err)
	assert.True(t, stored.Items[0].QuantitySold.Equal(types.Int(5)))
}

func TestProcess_PartialFailureUpdatingTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "A", 10, "1")
	tx := f.sell(t, sales.Line{ItemID: "A", QuantitySold: types.Int(5)})
	f.txDB.arm(tx.ID)

	_, err := f.proc.Process(ctx, returnOf("b1", tx.ID, Line{ItemID: "A", ReturnQuantity: types.Int(2)}))
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodePartialFailure, appErr.Code)
	assert.Equal(t, string(StageUpdatingTransaction), appErr.Details["stage"])
	assert.Equal(t, []string{"A"}, appErr.Details["succeeded"])
	assert.True(t, f.level(t, "A").Equal(types.Int(7)), "stock increment is not compensated")
}

func TestProcess_PartialFailurePersistingReturn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "A", 10, "1")
	tx := f.sell(t, sales.Line{ItemID: "A", QuantitySold: types.Int(5)})

	req := returnOf("b1", tx.ID, Line{ItemID: "A", ReturnQuantity: types.Int(5)})
	req.ID = "r1"
	f.retDB.arm("r1")

	_, err := f.proc.Process(ctx, req)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, string(StagePersistingReturn), appErr.Details["stage"])

	_, err = f.txs.Get(ctx, tx.ID, "b1")
	assert.True(t, apperror.IsNotFound(err), "transaction was already deleted")
}

func TestAmend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addItem(t, "A", 10, "1")
	tx := f.sell(t, sales.Line{ItemID: "A", QuantitySold: types.Int(5)})
	ret, err := f.proc.Process(ctx, returnOf("b1", tx.ID, Line{ItemID: "A", ReturnQuantity: types.Int(1)}))
	require.NoError(t, err)

	reason := "damaged"
	status := StatusReviewed
	amended, err := f.proc.Amend(ctx, ret.ID, "b1", &reason, &status, ret.Revision)
	require.NoError(t, err)
	assert.Equal(t, "damaged", amended.Reason)
	assert.Equal(t, StatusReviewed, amended.Status)
	assert.True(t, amended.Total.Equal(ret.Total), "amounts are not amendable")

	_, err = f.proc.Amend(ctx, ret.ID, "b1", &reason, nil, ret.Revision)
	assert.True(t, apperror.IsConflict(err), "stale revision")

	bad := Status("lost")
	_, err = f.proc.Amend(ctx, ret.ID, "b1", nil, &bad, revision.Zero)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = f.proc.Amend(ctx, ret.ID, "b2", &reason, nil, revision.Zero)
	assert.True(t, apperror.HasCode(err, apperror.CodeBranchMismatch))
}
