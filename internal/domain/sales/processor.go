package sales

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"poscore/internal/core/apperror"
	"poscore/internal/core/id"
	"poscore/internal/domain"
	"poscore/internal/domain/audit"
	"poscore/internal/domain/catalogs/item"
	"poscore/internal/domain/salesid"
	"poscore/internal/domain/stock"
	"poscore/pkg/logger"
)

var tracer = otel.Tracer("poscore/sales")

// Stage is a step of transaction creation.
type Stage string

const (
	StageValidating    Stage = "validating"
	StageAllocatingID  Stage = "allocating_id"
	StageUpdatingStock Stage = "updating_stock"
	StagePersisting    Stage = "persisting"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// Outcomes reported to Metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
	OutcomePartial   = "partial"
)

// Metrics receives sale outcomes.
type Metrics interface {
	SaleRecorded(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) SaleRecorded(string) {}

// Processor creates transactions: validate, allocate a sales id, decrement
// stock per line in order, then persist. Stock writes and the transaction
// write are independent; a failure after the first stock write is reported
// as a partial failure and not compensated.
type Processor struct {
	items        *item.Service
	transactions *domain.DocumentService[*Transaction]
	ids          salesid.Allocator
	audit        *audit.Recorder
	metrics      Metrics
}

// NewProcessor creates a transaction processor.
func NewProcessor(
	items *item.Service,
	transactions *domain.DocumentService[*Transaction],
	ids salesid.Allocator,
	recorder *audit.Recorder,
	metrics Metrics,
) *Processor {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Processor{
		items:        items,
		transactions: transactions,
		ids:          ids,
		audit:        recorder,
		metrics:      metrics,
	}
}

// NewTransactionService creates the transaction document service.
func NewTransactionService(repo domain.Repository[*Transaction]) *domain.DocumentService[*Transaction] {
	return domain.NewDocumentService(domain.DocumentServiceConfig[*Transaction]{
		Repo:         repo,
		EntityName:   "Transaction",
		BranchScoped: true,
	})
}

// Create records the sale described by req and returns the stored transaction.
func (p *Processor) Create(ctx context.Context, req *Transaction) (*Transaction, error) {
	ctx, span := tracer.Start(ctx, "sales.create",
		trace.WithAttributes(
			attribute.String("branch_id", req.BranchID),
			attribute.Int("lines", len(req.Items)),
		))
	defer span.End()

	tx, err := p.create(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if apperror.HasCode(err, apperror.CodePartialFailure) {
			p.metrics.SaleRecorded(OutcomePartial)
		} else {
			p.metrics.SaleRecorded(OutcomeRejected)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("sales_id", tx.SalesID))
	p.metrics.SaleRecorded(OutcomeCompleted)
	return tx, nil
}

func (p *Processor) create(ctx context.Context, req *Transaction) (*Transaction, error) {
	tx, kinds, err := p.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	stage := StageAllocatingID
	tx.SalesID, err = p.ids.Next(ctx, tx.BranchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	log := logger.FromContext(ctx).WithBranch(tx.BranchID)
	stage = StageUpdatingStock
	succeeded := make([]string, 0, len(tx.Items))
	for i, line := range tx.Items {
		delta := stock.Delta{Kind: kinds[line.ItemID], Amount: line.QuantitySold.Neg()}
		if _, err := p.items.AdjustStock(ctx, line.ItemID, tx.BranchID, delta); err != nil {
			if len(succeeded) == 0 {
				return nil, err
			}
			log.Errorw("sale stopped after partial stock update",
				"sales_id", tx.SalesID,
				"item_id", line.ItemID,
				"succeeded", succeeded,
				"error", err,
			)
			return nil, apperror.NewPartialFailure(string(stage), succeeded,
				[]apperror.ItemFailure{{ItemID: line.ItemID, Reason: failureReason(err)}}, err).
				WithDetail("pending", pendingIDs(tx.Items[i+1:]))
		}
		succeeded = append(succeeded, line.ItemID)
	}

	stage = StagePersisting
	if err := p.transactions.Create(ctx, tx); err != nil {
		log.Errorw("sale stock updated but transaction not stored",
			"sales_id", tx.SalesID,
			"succeeded", succeeded,
			"error", err,
		)
		return nil, apperror.NewPartialFailure(string(stage), succeeded, nil, err).
			WithDetail("salesId", tx.SalesID)
	}

	log.Infow("sale recorded",
		"transaction_id", tx.ID,
		"sales_id", tx.SalesID,
		"total", tx.Total.String(),
	)
	p.audit.Record(ctx, &audit.Log{
		BaseDocument: tx.BaseDocument.Owner(),
		Action:       audit.ActionSale,
		Entity:       "transaction",
		EntityID:     tx.ID,
		Message:      fmt.Sprintf("sale %s recorded, total %s", tx.SalesID, tx.Total.String()),
	})
	return tx, nil
}

// validate checks the request and every referenced item before any write.
// It returns the transaction to store with frozen line snapshots and the
// stock kind of every item.
func (p *Processor) validate(ctx context.Context, req *Transaction) (*Transaction, map[string]stock.Kind, error) {
	if err := req.ValidateBranch(); err != nil {
		return nil, nil, err
	}
	if err := req.Validate(ctx); err != nil {
		return nil, nil, err
	}

	tx := &Transaction{
		BaseDocument:  req.BaseDocument.Owner(),
		PaymentMethod: req.PaymentMethod,
		Items:         make([]Line, len(req.Items)),
	}
	tx.ID = id.OrNew(req.ID)

	if req.ID != "" {
		if _, err := p.transactions.Get(ctx, req.ID, ""); err == nil {
			return nil, nil, apperror.NewDuplicate("Transaction", req.ID)
		} else if !apperror.IsNotFound(err) {
			return nil, nil, err
		}
	}

	kinds := make(map[string]stock.Kind, len(req.Items))
	for i, line := range req.Items {
		it, err := p.items.Get(ctx, line.ItemID, req.BranchID)
		if err != nil {
			return nil, nil, err
		}
		kinds[it.ID] = it.StockKind()

		if line.Name == "" {
			line.Name = it.Name
		}
		if line.SellingPrice.IsZero() {
			line.SellingPrice = it.SellingPrice
		}
		tx.Items[i] = line
	}

	tx.Total = req.Total
	if !tx.Total.IsPositive() {
		tx.Total = tx.LinesTotal()
	}
	return tx, kinds, nil
}

func failureReason(err error) string {
	if appErr, ok := apperror.AsAppError(err); ok && appErr.Code != apperror.CodeInternal {
		return appErr.Message
	}
	return "stock update failed"
}

func pendingIDs(lines []Line) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ItemID)
	}
	return ids
}
