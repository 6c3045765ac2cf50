package battery

import "doorbell-go/x/mathx"

// Single-cell Li-ion discharge curve, highest threshold first.
var curve = [...]struct {
	mV  uint32
	pct uint8
}{
	{4200, 100},
	{4150, 95},
	{4110, 90},
	{4080, 85},
	{4020, 80},
	{3980, 75},
	{3950, 70},
	{3910, 65},
	{3870, 60},
	{3850, 55},
	{3840, 50},
	{3820, 45},
	{3800, 40},
	{3790, 35},
	{3770, 30},
	{3750, 25},
	{3730, 20},
	{3710, 15},
	{3690, 10},
	{3610, 10},
}

// ToPercent maps battery millivolts to a coarse state of charge. The first
// threshold the voltage reaches wins; below the last one the result is 0.
func ToPercent(mv uint32) uint8 {
	for _, p := range curve {
		if mv >= p.mV {
			return mathx.Clamp(p.pct, 0, 100)
		}
	}
	return 0
}
