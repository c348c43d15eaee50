// Package main provides a CLI tool for seeding a node with demo data.
// Existing documents are left untouched, so the seeder can be rerun.
package main

import (
	"context"
	"fmt"
	"os"

	"poscore/internal/app"
	"poscore/internal/config"
	"poscore/internal/core/apperror"
	"poscore/internal/core/entity"
	"poscore/internal/core/types"
	"poscore/internal/domain"
	"poscore/internal/domain/catalogs/branch"
	"poscore/internal/domain/catalogs/category"
	"poscore/internal/domain/catalogs/department"
	"poscore/internal/domain/catalogs/item"
	"poscore/internal/domain/stock"
	"poscore/pkg/logger"
)

const demoBranch = "demo-branch"

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}
	if cfg.StoreDriver == config.DriverMemory && cfg.SnapshotPath == "" {
		log.Fatal("SNAPSHOT_PATH or a postgres DATABASE_URL is required, the memory store would discard the seed")
	}

	ctx := context.Background()

	services, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize services", "error", err)
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Warnw("close failed", "error", err)
		}
	}()

	if err := seedDemoData(ctx, services, log); err != nil {
		log.Fatalw("failed to seed demo data", "error", err)
	}

	log.Info("seeding completed successfully")
}

func seedDemoData(ctx context.Context, s *app.Services, log *logger.Logger) error {
	owned := func(id string) entity.BaseDocument {
		return entity.BaseDocument{ID: id, BranchID: demoBranch}
	}

	if err := create(ctx, log, s.Branches, &branch.Branch{
		BaseDocument: entity.BaseDocument{ID: demoBranch},
		Name:         "Demo Store",
		Location:     "Main street 1",
	}); err != nil {
		return err
	}

	departments := []*department.Department{
		{BaseDocument: owned("dept-grocery"), Name: "Grocery"},
		{BaseDocument: owned("dept-produce"), Name: "Produce"},
	}
	for _, d := range departments {
		if err := create(ctx, log, s.Departments, d); err != nil {
			return err
		}
	}

	categories := []*category.Category{
		{BaseDocument: owned("cat-dairy"), DepartmentID: "dept-grocery", Name: "Dairy"},
		{BaseDocument: owned("cat-fruit"), DepartmentID: "dept-produce", Name: "Fruit"},
	}
	for _, c := range categories {
		if err := create(ctx, log, s.Categories, c); err != nil {
			return err
		}
	}

	items := []*item.Item{
		{
			BaseDocument:    owned("item-milk"),
			Department:      item.Ref{ID: "dept-grocery", Name: "Grocery"},
			Category:        item.Ref{ID: "cat-dairy", Name: "Dairy"},
			Name:            "Milk 1L",
			CostPrice:       types.MustMoney("0.80"),
			SellingPrice:    types.MustMoney("1.20"),
			StockManagement: stock.Management{Stock: stock.Quantity{Quantity: types.Int(48)}},
		},
		{
			BaseDocument:    owned("item-cheese"),
			Department:      item.Ref{ID: "dept-grocery", Name: "Grocery"},
			Category:        item.Ref{ID: "cat-dairy", Name: "Dairy"},
			Name:            "Cheddar",
			CostPrice:       types.MustMoney("6.00"),
			SellingPrice:    types.MustMoney("9.50"),
			StockManagement: stock.Management{Stock: stock.Weight{TotalWeight: types.MustMoney("12.5"), Unit: "kg"}},
		},
		{
			BaseDocument:    owned("item-apples"),
			Department:      item.Ref{ID: "dept-produce", Name: "Produce"},
			Category:        item.Ref{ID: "cat-fruit", Name: "Fruit"},
			Name:            "Apples",
			CostPrice:       types.MustMoney("1.10"),
			SellingPrice:    types.MustMoney("2.40"),
			StockManagement: stock.Management{Stock: stock.Weight{TotalWeight: types.MustMoney("40"), Unit: "kg"}},
		},
	}
	for _, it := range items {
		if err := create(ctx, log, s.Items.DocumentService, it); err != nil {
			return err
		}
	}
	return nil
}

// create stores doc unless a document with its id already exists.
func create[T entity.Document](ctx context.Context, log *logger.Logger, svc *domain.DocumentService[T], doc T) error {
	err := svc.Create(ctx, doc)
	switch {
	case err == nil:
		log.Infow("seeded", "entity", svc.EntityName(), "id", doc.Base().ID)
		return nil
	case apperror.HasCode(err, apperror.CodeConflict):
		log.Infow("already present", "entity", svc.EntityName(), "id", doc.Base().ID)
		return nil
	default:
		return fmt.Errorf("seed %s %s: %w", svc.EntityName(), doc.Base().ID, err)
	}
}
