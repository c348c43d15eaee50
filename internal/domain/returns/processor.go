package returns

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"poscore/internal/core/apperror"
	"poscore/internal/core/id"
	"poscore/internal/core/revision"
	"poscore/internal/core/types"
	"poscore/internal/domain"
	"poscore/internal/domain/audit"
	"poscore/internal/domain/catalogs/item"
	"poscore/internal/domain/sales"
	"poscore/internal/domain/stock"
	"poscore/pkg/logger"
)

var tracer = otel.Tracer("poscore/returns")

// Stage is a step of return processing.
type Stage string

const (
	StageValidating          Stage = "validating"
	StageUpdatingStock       Stage = "updating_stock"
	StageUpdatingTransaction Stage = "updating_transaction"
	StagePersistingReturn    Stage = "persisting_return"
)

// Metrics receives return outcomes.
type Metrics interface {
	ReturnRecorded(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) ReturnRecorded(string) {}

// Processor applies returns: every line is checked against the transaction,
// then stock is incremented per line, the transaction is reduced or deleted
// and the return is stored. The writes are independent; a failure after the
// first one is reported as a partial failure.
type Processor struct {
	items        *item.Service
	transactions *domain.DocumentService[*sales.Transaction]
	returns      *domain.DocumentService[*Return]
	audit        *audit.Recorder
	metrics      Metrics
}

// NewProcessor creates a return processor.
func NewProcessor(
	items *item.Service,
	transactions *domain.DocumentService[*sales.Transaction],
	returns *domain.DocumentService[*Return],
	recorder *audit.Recorder,
	metrics Metrics,
) *Processor {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Processor{
		items:        items,
		transactions: transactions,
		returns:      returns,
		audit:        recorder,
		metrics:      metrics,
	}
}

// NewReturnService creates the return document service.
func NewReturnService(repo domain.Repository[*Return]) *domain.DocumentService[*Return] {
	return domain.NewDocumentService(domain.DocumentServiceConfig[*Return]{
		Repo:         repo,
		EntityName:   "Return",
		BranchScoped: true,
	})
}

// plan is a validated return.
type plan struct {
	ret       *Return
	tx        *sales.Transaction
	order     []string
	qty       map[string]types.Amount
	kinds     map[string]stock.Kind
	remaining []sales.Line
}

// Process applies the return described by req and returns the stored return.
func (p *Processor) Process(ctx context.Context, req *Return) (*Return, error) {
	ctx, span := tracer.Start(ctx, "returns.process",
		trace.WithAttributes(
			attribute.String("branch_id", req.BranchID),
			attribute.String("transaction_id", req.TransactionID),
		))
	defer span.End()

	ret, err := p.process(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if apperror.HasCode(err, apperror.CodePartialFailure) {
			p.metrics.ReturnRecorded(sales.OutcomePartial)
		} else {
			p.metrics.ReturnRecorded(sales.OutcomeRejected)
		}
		return nil, err
	}
	p.metrics.ReturnRecorded(sales.OutcomeCompleted)
	return ret, nil
}

func (p *Processor) process(ctx context.Context, req *Return) (*Return, error) {
	pl, err := p.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	succeeded := make([]string, 0, len(pl.order))
	partial := func(stage Stage, failed []apperror.ItemFailure, cause error) error {
		logger.Error(ctx, "return stopped after partial update",
			"transaction_id", pl.tx.ID,
			"stage", stage,
			"succeeded", succeeded,
			"error", cause,
		)
		return apperror.NewPartialFailure(string(stage), succeeded, failed, cause).
			WithDetail("transactionId", pl.tx.ID)
	}

	for _, itemID := range pl.order {
		delta := stock.Delta{Kind: pl.kinds[itemID], Amount: pl.qty[itemID]}
		if _, err := p.items.AdjustStock(ctx, itemID, pl.ret.BranchID, delta); err != nil {
			if len(succeeded) == 0 {
				return nil, err
			}
			return nil, partial(StageUpdatingStock,
				[]apperror.ItemFailure{{ItemID: itemID, Reason: failureReason(err)}}, err)
		}
		succeeded = append(succeeded, itemID)
	}

	if len(pl.remaining) == 0 {
		err = p.transactions.Delete(ctx, pl.tx.ID, pl.tx.BranchID, pl.tx.Revision)
	} else {
		pl.tx.Items = pl.remaining
		pl.tx.Total = pl.tx.LinesTotal()
		err = p.transactions.Update(ctx, pl.tx, pl.tx.BranchID)
	}
	if err != nil {
		return nil, partial(StageUpdatingTransaction, nil, err)
	}

	if err := p.returns.Create(ctx, pl.ret); err != nil {
		return nil, partial(StagePersistingReturn, nil, err)
	}

	logger.Info(ctx, "return processed",
		"return_id", pl.ret.ID,
		"transaction_id", pl.tx.ID,
		"refund", pl.ret.Total.String(),
		"transaction_deleted", len(pl.remaining) == 0,
	)
	p.audit.Record(ctx, &audit.Log{
		BaseDocument: pl.ret.BaseDocument.Owner(),
		Action:       audit.ActionReturn,
		Entity:       "transaction",
		EntityID:     pl.tx.ID,
		Message:      "return processed, refund " + pl.ret.Total.String(),
	})
	return pl.ret, nil
}

// validate checks the whole return against the transaction before any write.
func (p *Processor) validate(ctx context.Context, req *Return) (*plan, error) {
	if err := req.ValidateBranch(); err != nil {
		return nil, err
	}
	if err := req.Validate(ctx); err != nil {
		return nil, err
	}

	if req.ID != "" {
		if _, err := p.returns.Get(ctx, req.ID, ""); err == nil {
			return nil, apperror.NewDuplicate("Return", req.ID)
		} else if !apperror.IsNotFound(err) {
			return nil, err
		}
	}

	tx, err := p.transactions.Get(ctx, req.TransactionID, req.BranchID)
	if err != nil {
		return nil, err
	}

	order, qty := req.Quantities()
	for _, itemID := range order {
		sold := tx.Sold(itemID)
		if sold.IsZero() {
			return nil, apperror.NewValidation("item is not part of the transaction").
				WithDetail("itemId", itemID)
		}
		if qty[itemID].GreaterThan(sold) {
			return nil, apperror.NewValidation("returnQuantity exceeds quantity sold").
				WithDetail("itemId", itemID).
				WithDetail("remaining", sold.String())
		}
	}

	kinds := make(map[string]stock.Kind, len(order))
	for _, itemID := range order {
		it, err := p.items.Get(ctx, itemID, req.BranchID)
		if err != nil {
			return nil, err
		}
		kinds[itemID] = it.StockKind()
	}

	remaining, refund, names := reduce(tx.Items, qty)

	ret := &Return{
		BaseDocument:  req.BaseDocument.Owner(),
		TransactionID: tx.ID,
		SalesID:       tx.SalesID,
		Items:         make([]Line, len(req.Items)),
		Total:         refund,
		Reason:        req.Reason,
		Status:        StatusCompleted,
	}
	ret.ID = id.OrNew(req.ID)
	for i, l := range req.Items {
		if l.Name == "" {
			l.Name = names[l.ItemID]
		}
		ret.Items[i] = l
	}

	return &plan{
		ret:       ret,
		tx:        tx,
		order:     order,
		qty:       qty,
		kinds:     kinds,
		remaining: remaining,
	}, nil
}

// reduce takes qty from the transaction lines in order. It returns the lines
// left with a positive quantity, the refund priced at each line's selling
// price and the snapshot name of every item.
func reduce(lines []sales.Line, qty map[string]types.Amount) ([]sales.Line, types.Money, map[string]string) {
	left := make(map[string]types.Amount, len(qty))
	for k, v := range qty {
		left[k] = v
	}

	refund := types.Zero()
	names := make(map[string]string, len(qty))
	remaining := make([]sales.Line, 0, len(lines))
	for _, l := range lines {
		if take, ok := left[l.ItemID]; ok && take.IsPositive() {
			names[l.ItemID] = l.Name
			if take.GreaterThan(l.QuantitySold) {
				take = l.QuantitySold
			}
			left[l.ItemID] = left[l.ItemID].Sub(take)
			refund = refund.Add(types.LineTotal(l.SellingPrice, take))
			l.QuantitySold = l.QuantitySold.Sub(take)
		}
		if l.QuantitySold.IsPositive() {
			remaining = append(remaining, l)
		}
	}
	return remaining, refund, names
}

// Amend changes the reason or status of a stored return.
func (p *Processor) Amend(ctx context.Context, returnID, branchID string, reason *string, status *Status, rev revision.Revision) (*Return, error) {
	ret, err := p.returns.Get(ctx, returnID, branchID)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		ret.Reason = *reason
	}
	if status != nil {
		if !status.Valid() {
			return nil, apperror.NewValidation("unknown status").
				WithDetail("field", "status").
				WithDetail("value", string(*status))
		}
		ret.Status = *status
	}
	if !rev.IsZero() {
		ret.Revision = rev
	}
	if err := p.returns.Update(ctx, ret, branchID); err != nil {
		return nil, err
	}
	return ret, nil
}

func failureReason(err error) string {
	if appErr, ok := apperror.AsAppError(err); ok && appErr.Code != apperror.CodeInternal {
		return appErr.Message
	}
	return "stock update failed"
}
