package valuecalc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func calcFixture() Calculator {
	return Calculator{
		GridFee:             0.40,
		EnergyTax:           0.30,
		TransferFee:         0.10,
		VATRate:             0.25,
		EffectTariffKWMonth: 60,
		Efficiency:          0.95,
	}
}

func TestImportCostWithVAT(t *testing.T) {
	c := calcFixture()
	got := c.ImportCost(1.00, 2, true)
	assert.InDelta(t, (1.00+0.40+0.30)*2*1.25, got, 1e-9)
}

func TestImportCostWithoutVAT(t *testing.T) {
	c := calcFixture()
	got := c.ImportCost(1.00, 2, false)
	assert.InDelta(t, (1.00+0.40+0.30)*2, got, 1e-9)
}

func TestExportRevenueNeverNegative(t *testing.T) {
	c := calcFixture()
	assert.Equal(t, 0.0, c.ExportRevenue(0.05, 10), "spot below transfer fee must floor at zero")
}

func TestExportRevenueAtTransferFeeIsZero(t *testing.T) {
	c := calcFixture()
	assert.Equal(t, 0.0, c.ExportRevenue(c.TransferFee, 10))
}

func TestPeakShavingValueZeroWhenNotCounted(t *testing.T) {
	c := calcFixture()
	assert.Equal(t, 0.0, c.PeakShavingValue(5, false, 30))
}

func TestPeakShavingValueDailySlice(t *testing.T) {
	c := calcFixture()
	got := c.PeakShavingValue(5, true, 30)
	assert.InDelta(t, 5*60.0/30, got, 1e-9)
}

func TestArbitrageValueAppliesEfficiencyOnDischargeSideOnly(t *testing.T) {
	c := calcFixture()
	got := c.ArbitrageValue(2.00, 0.30, 10)
	wantRevenue := c.ExportRevenue(2.00, 10*c.Efficiency)
	wantCost := c.ImportCost(0.30, 10, true)
	assert.InDelta(t, wantRevenue-wantCost, got, 1e-9)
}
