package item

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/internal/core/apperror"
	"poscore/internal/core/entity"
	"poscore/internal/core/types"
	"poscore/internal/domain"
	"poscore/internal/domain/stock"
	"poscore/internal/infrastructure/storage/docrepo"
	"poscore/internal/infrastructure/storage/memory"
)

type observed struct {
	kind     string
	negative bool
}

func newService(t *testing.T) (*Service, *[]observed) {
	t.Helper()
	store, err := memory.New(domain.AllCollections())
	require.NoError(t, err)
	coll, err := store.Collection(domain.CollectionItems)
	require.NoError(t, err)

	var seen []observed
	svc := NewService(docrepo.New(coll, "Item", New), func(kind string, negative bool) {
		seen = append(seen, observed{kind, negative})
	})
	return svc, &seen
}

func quantityItem(id string, n int64) *Item {
	return &Item{
		BaseDocument:    entity.BaseDocument{ID: id, BranchID: "b1"},
		Name:            "Milk",
		SellingPrice:    types.MustMoney("1.20"),
		StockManagement: stock.Management{Stock: stock.Quantity{Quantity: types.Int(n)}},
	}
}

func TestService_CreateDerivesInStock(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	it := quantityItem("i1", 0)
	require.NoError(t, svc.Create(ctx, it))
	assert.False(t, it.InStock)
	assert.False(t, it.Revision.IsZero())

	got, err := svc.Get(ctx, "i1", "b1")
	require.NoError(t, err)
	assert.False(t, got.InStock)

	got.StockManagement = stock.Management{Stock: stock.Quantity{Quantity: types.Int(3)}}
	require.NoError(t, svc.Update(ctx, got, "b1"))
	assert.True(t, got.InStock)
}

func TestService_StockKindIsImmutable(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	require.NoError(t, svc.Create(ctx, quantityItem("i1", 5)))

	got, err := svc.Get(ctx, "i1", "b1")
	require.NoError(t, err)
	got.StockManagement = stock.Management{Stock: stock.Weight{TotalWeight: types.Int(5), Unit: "kg"}}

	err = svc.Update(ctx, got, "b1")
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeStockTypeMismatch))
	assert.Equal(t, 422, apperror.GetHTTPStatus(err))
}

func TestService_AdjustStock(t *testing.T) {
	ctx := context.Background()
	svc, seen := newService(t)
	require.NoError(t, svc.Create(ctx, quantityItem("i1", 2)))

	it, err := svc.AdjustStock(ctx, "i1", "b1", stock.QuantityDelta(types.Int(-3)))
	require.NoError(t, err)
	assert.True(t, it.StockManagement.Level().Equal(types.Int(-1)), "stock may go negative")
	assert.False(t, it.InStock)
	assert.Equal(t, []observed{{"quantity", true}}, *seen)

	_, err = svc.AdjustStock(ctx, "i1", "b1", stock.WeightDelta(types.Int(1)))
	assert.True(t, apperror.HasCode(err, apperror.CodeStockTypeMismatch))
	assert.Len(t, *seen, 1)

	_, err = svc.AdjustStock(ctx, "i1", "b2", stock.QuantityDelta(types.Int(1)))
	assert.True(t, apperror.HasCode(err, apperror.CodeBranchMismatch))

	_, err = svc.AdjustStock(ctx, "ghost", "b1", stock.QuantityDelta(types.Int(1)))
	assert.True(t, apperror.IsNotFound(err))
}

func TestService_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	noStock := quantityItem("i1", 1)
	noStock.StockManagement = stock.Management{}
	assert.True(t, apperror.HasCode(svc.Create(ctx, noStock), apperror.CodeValidation))

	noBranch := quantityItem("i2", 1)
	noBranch.BranchID = ""
	assert.True(t, apperror.HasCode(svc.Create(ctx, noBranch), apperror.CodeValidation))

	negative := quantityItem("i3", 1)
	negative.SellingPrice = types.MustMoney("-1")
	assert.True(t, apperror.HasCode(svc.Create(ctx, negative), apperror.CodeValidation))
}
