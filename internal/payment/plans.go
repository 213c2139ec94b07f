package payment

import (
	"errors"

	"join-sentinel/internal/models"
)

// Period é o ciclo de cobrança do plano.
type Period string

const (
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodYearly    Period = "yearly"
)

// PlanPrice é o preço de um plano em unidades inteiras da moeda (naira).
type PlanPrice struct {
	Price  int64
	Months int
	Custom bool // preço sob consulta, fora do fluxo self-serve
}

// plans é o catálogo self-serve; o backend valida o valor de novo no checkout.
var plans = map[models.Tier]map[Period]PlanPrice{
	models.TierBasic: {
		PeriodMonthly:   {Price: 15500, Months: 1},
		PeriodQuarterly: {Price: 46500, Months: 3},
		PeriodYearly:    {Price: 186000, Months: 12},
	},
	models.TierPro: {
		PeriodMonthly:   {Price: 30000, Months: 1},
		PeriodQuarterly: {Price: 90000, Months: 3},
		PeriodYearly:    {Price: 360000, Months: 12},
	},
	models.TierUnlimited: {
		PeriodMonthly:   {Months: 1, Custom: true},
		PeriodQuarterly: {Months: 3, Custom: true},
		PeriodYearly:    {Months: 12, Custom: true},
	},
}

var (
	ErrUnknownPlan = errors.New("unknown_plan")
	ErrCustomPlan  = errors.New("custom_plan_requires_support")
)

// Quote resolve plano+período em (meses, valor em subunidade). O plano
// unlimited nunca passa pelo fluxo self-serve.
func Quote(tier models.Tier, period Period) (months int, amountMinor int64, err error) {
	periods, ok := plans[tier]
	if !ok {
		return 0, 0, ErrUnknownPlan
	}
	p, ok := periods[period]
	if !ok {
		return 0, 0, ErrUnknownPlan
	}
	if p.Custom || p.Price == 0 {
		return 0, 0, ErrCustomPlan
	}
	// naira para kobo
	return p.Months, p.Price * 100, nil
}
