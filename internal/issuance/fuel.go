package issuance

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// PreviousFuelIssuance is the projection of the latest disbursed fuel
// record for one vehicle. "Latest" orders by issue time with ties broken by
// highest line ID, so the most recently created record wins.
type PreviousFuelIssuance struct {
	RecordID  string
	LineID    int64
	Odometer  float64
	IssuedQty decimal.Decimal
	IssuedAt  time.Time
}

// ComputeEfficiency derives distance-per-volume for the interval that
// started at the previous reading and ends at newOdometer. The efficiency
// describes fuel dispensed at the PREVIOUS top-up, so the divisor is the
// previous record's quantity, and the result is stored retroactively on
// that record. Rounded to two decimal places.
func ComputeEfficiency(prev PreviousFuelIssuance, newOdometer float64) (float64, error) {
	distance := newOdometer - prev.Odometer
	if distance <= 0 {
		return 0, &OdometerRegressionError{Reading: newOdometer, Last: prev.Odometer}
	}
	qty, _ := prev.IssuedQty.Float64()
	if qty <= 0 {
		return 0, &ValidationError{Field: "quantity", Message: "previous fuel quantity must be positive"}
	}
	return math.Round(distance/qty*100) / 100, nil
}

// PreviewEfficiency projects the efficiency an approver would see for a new
// reading. Nil when no prior fuel record exists, in which case the first
// interval is still open and efficiency is undefined.
func PreviewEfficiency(prev *PreviousFuelIssuance, newOdometer float64) *float64 {
	if prev == nil {
		return nil
	}
	eff, err := ComputeEfficiency(*prev, newOdometer)
	if err != nil {
		return nil
	}
	return &eff
}
