// Package stock implements the stock ledger: a closed sum type describing how
// an item's stock is managed and the signed deltas applied to it.
package stock

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"poscore/internal/core/types"
)

// Kind names a stock variant.
type Kind string

const (
	KindQuantity Kind = "quantity"
	KindWeight   Kind = "weight"
)

// ErrTypeMismatch is returned when a delta targets another stock kind.
var ErrTypeMismatch = errors.New("stock type mismatch")

// Stock is either Quantity or Weight.
type Stock interface {
	Kind() Kind
	Level() types.Amount
	InStock() bool
	sealed()
}

// Quantity counts discrete units.
type Quantity struct {
	Quantity types.Amount
}

func (Quantity) Kind() Kind            { return KindQuantity }
func (q Quantity) Level() types.Amount { return q.Quantity }
func (q Quantity) InStock() bool       { return q.Quantity.IsPositive() }
func (Quantity) sealed()               {}

// Weight measures stock by weight in Unit.
type Weight struct {
	TotalWeight types.Amount
	Unit        string
}

func (Weight) Kind() Kind            { return KindWeight }
func (w Weight) Level() types.Amount { return w.TotalWeight }
func (w Weight) InStock() bool       { return w.TotalWeight.IsPositive() }
func (Weight) sealed()               {}

// Delta is a signed stock adjustment of one kind.
type Delta struct {
	Kind   Kind
	Amount types.Amount
}

// QuantityDelta adjusts quantity stock by n.
func QuantityDelta(n types.Amount) Delta {
	return Delta{Kind: KindQuantity, Amount: n}
}

// WeightDelta adjusts weight stock by n.
func WeightDelta(n types.Amount) Delta {
	return Delta{Kind: KindWeight, Amount: n}
}

// DeltaFor builds a delta of the same kind as s.
func DeltaFor(s Stock, n types.Amount) Delta {
	return Delta{Kind: s.Kind(), Amount: n}
}

// Negate returns the inverse delta.
func (d Delta) Negate() Delta {
	return Delta{Kind: d.Kind, Amount: d.Amount.Neg()}
}

// Apply adds d to s. Stock may go negative; a kind mismatch fails with ErrTypeMismatch.
func Apply(s Stock, d Delta) (Stock, error) {
	switch v := s.(type) {
	case Quantity:
		if d.Kind != KindQuantity {
			return s, fmt.Errorf("apply %s delta to %s stock: %w", d.Kind, KindQuantity, ErrTypeMismatch)
		}
		v.Quantity = v.Quantity.Add(d.Amount)
		return v, nil
	case Weight:
		if d.Kind != KindWeight {
			return s, fmt.Errorf("apply %s delta to %s stock: %w", d.Kind, KindWeight, ErrTypeMismatch)
		}
		v.TotalWeight = v.TotalWeight.Add(d.Amount)
		return v, nil
	default:
		return s, fmt.Errorf("unsupported stock %T", s)
	}
}

// Management is the JSON form of Stock:
// {"type":"quantity","quantity":10} or {"type":"weight","totalWeight":2.5,"weightUnit":"kg"}.
type Management struct {
	Stock
}

type managementJSON struct {
	Type        Kind             `json:"type"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	TotalWeight *decimal.Decimal `json:"totalWeight,omitempty"`
	WeightUnit  string           `json:"weightUnit,omitempty"`
}

// MarshalJSON encodes the tagged union.
func (m Management) MarshalJSON() ([]byte, error) {
	switch v := m.Stock.(type) {
	case Quantity:
		return json.Marshal(managementJSON{Type: KindQuantity, Quantity: &v.Quantity})
	case Weight:
		return json.Marshal(managementJSON{Type: KindWeight, TotalWeight: &v.TotalWeight, WeightUnit: v.Unit})
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unsupported stock %T", m.Stock)
	}
}

// UnmarshalJSON decodes the tagged union.
func (m *Management) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		m.Stock = nil
		return nil
	}
	var raw managementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case KindQuantity:
		q := Quantity{Quantity: decimal.Zero}
		if raw.Quantity != nil {
			q.Quantity = *raw.Quantity
		}
		m.Stock = q
	case KindWeight:
		w := Weight{TotalWeight: decimal.Zero, Unit: raw.WeightUnit}
		if raw.TotalWeight != nil {
			w.TotalWeight = *raw.TotalWeight
		}
		m.Stock = w
	default:
		return fmt.Errorf("unknown stock type %q", raw.Type)
	}
	return nil
}

// KindOf returns the kind of s, or "" when s is nil.
func KindOf(s Stock) Kind {
	if s == nil {
		return ""
	}
	return s.Kind()
}
