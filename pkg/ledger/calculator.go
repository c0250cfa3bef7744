package ledger

import (
	"github.com/mcclellann/microloan/pkg/money"
	"github.com/shopspring/decimal"
)

var twelveHundred = decimal.NewFromInt(1200) // 12 months x 100 percent

// LoanDetails are the amounts derived from a loan's terms.
type LoanDetails struct {
	Principal          decimal.Decimal `json:"principal"`
	Interest           decimal.Decimal `json:"interest"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	MonthlyInstallment decimal.Decimal `json:"monthly_installment"`
	// RoundingRemainder is TotalAmount minus MonthlyInstallment x tenure. The
	// schedule does not collect it; it is reported so callers can see the gap.
	RoundingRemainder decimal.Decimal `json:"rounding_remainder"`
}

type amountTerms struct {
	Principal         decimal.Decimal `validate:"dgte=1000"`
	AnnualRatePercent decimal.Decimal `validate:"dgte=0,dlte=100"`
	TenureMonths      int             `validate:"gte=1,lte=60"`
}

// CalculateLoanDetails applies simple (non-compounding) interest:
//
//	interest           = principal x rate/100 x tenure/12
//	totalAmount        = whole(principal + interest)
//	monthlyInstallment = whole(totalAmount / tenure)
func CalculateLoanDetails(principal, annualRatePercent decimal.Decimal, tenureMonths int) (LoanDetails, error) {
	if err := validateStruct(amountTerms{
		Principal:         principal,
		AnnualRatePercent: annualRatePercent,
		TenureMonths:      tenureMonths,
	}); err != nil {
		return LoanDetails{}, err
	}

	tenure := decimal.NewFromInt(int64(tenureMonths))
	interest := principal.Mul(annualRatePercent).Mul(tenure).Div(twelveHundred)
	total := money.Whole(principal.Add(interest))
	monthly := money.Whole(total.Div(tenure))

	return LoanDetails{
		Principal:          money.Whole(principal),
		Interest:           money.Whole(interest),
		TotalAmount:        total,
		MonthlyInstallment: monthly,
		RoundingRemainder:  total.Sub(monthly.Mul(tenure)),
	}, nil
}
