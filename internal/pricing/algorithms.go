// Package pricing holds the proposal algorithms and the optimizer that runs
// them against stored ticks.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AlgorithmRuleBased          = "rule_based"
	AlgorithmMLModel            = "ml_model"
	AlgorithmProfitMaximization = "profit_maximization"
)

var (
	ErrNoRecords        = errors.New("no price records")
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
)

// Record is one observed price.
type Record struct {
	Price decimal.Decimal
	TS    time.Time
}

// Algorithm computes a recommended price. baseline is the fallback anchor for
// algorithms that tolerate an empty history.
type Algorithm func(records []Record, baseline decimal.Decimal) (decimal.Decimal, error)

var algorithms = map[string]Algorithm{
	AlgorithmRuleBased:          RuleBased,
	AlgorithmMLModel:            MLModel,
	AlgorithmProfitMaximization: ProfitMaximization,
}

func Lookup(name string) (Algorithm, error) {
	alg, ok := algorithms[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return alg, nil
}

func Algorithms() []string {
	out := make([]string, 0, len(algorithms))
	for name := range algorithms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var (
	ruleDiscount   = decimal.RequireFromString("0.98")
	mlFloor        = decimal.RequireFromString("0.9")
	mlSpread       = decimal.RequireFromString("0.1")
	fallbackMarkup = decimal.RequireFromString("1.25")
	two            = decimal.NewFromInt(2)
)

// RuleBased is a recency-weighted average (oldest weight 1, newest weight n)
// discounted by 2%.
func RuleBased(records []Record, _ decimal.Decimal) (decimal.Decimal, error) {
	if len(records) == 0 {
		return decimal.Zero, ErrNoRecords
	}
	sorted := byTime(records)
	sum := decimal.Zero
	weights := decimal.Zero
	for i, r := range sorted {
		w := decimal.NewFromInt(int64(i + 1))
		sum = sum.Add(r.Price.Mul(w))
		weights = weights.Add(w)
	}
	return sum.Div(weights).Mul(ruleDiscount), nil
}

// MLModel scales the mean by 0.9 + 0.1/(1+v) where v is range over mean, so a
// volatile history is priced closer to 90% of the mean.
func MLModel(records []Record, _ decimal.Decimal) (decimal.Decimal, error) {
	if len(records) == 0 {
		return decimal.Zero, ErrNoRecords
	}
	mean, lo, hi := stats(records)
	v := decimal.Zero
	if mean.IsPositive() {
		v = hi.Sub(lo).Div(mean)
	}
	factor := mlFloor.Add(mlSpread.Div(decimal.NewFromInt(1).Add(v)))
	return mean.Mul(factor), nil
}

// ProfitMaximization anchors halfway between the mean and the maximum. With no
// history it marks the baseline up by 25%.
func ProfitMaximization(records []Record, baseline decimal.Decimal) (decimal.Decimal, error) {
	if len(records) == 0 {
		if !baseline.IsPositive() {
			return decimal.Zero, ErrNoRecords
		}
		return baseline.Mul(fallbackMarkup), nil
	}
	mean, _, hi := stats(records)
	return mean.Add(hi).Div(two), nil
}

func stats(records []Record) (mean, lo, hi decimal.Decimal) {
	sum := decimal.Zero
	lo, hi = records[0].Price, records[0].Price
	for _, r := range records {
		sum = sum.Add(r.Price)
		lo = decimal.Min(lo, r.Price)
		hi = decimal.Max(hi, r.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(records)))), lo, hi
}

func byTime(records []Record) []Record {
	out := append([]Record(nil), records...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}
