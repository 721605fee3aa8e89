package survey

type Band string

const (
	BandAdequate Band = "adequate"
	BandCaution  Band = "caution"
	BandConcern  Band = "concern"
)

func (b Band) Label() string {
	switch b {
	case BandAdequate:
		return "Adequate intake"
	case BandCaution:
		return "Monitor intake"
	default:
		return "Intake concern"
	}
}

func ClassifyIntake(rate float64) Band {
	switch {
	case rate >= 75:
		return BandAdequate
	case rate >= 50:
		return BandCaution
	default:
		return BandConcern
	}
}

type Summary struct {
	TotalPortions float64
	TotalWaste    float64
	Intake        float64
	IntakeRate    float64
	Band          Band
}

func Summarize(portions, waste Measurements) Summary {
	s := Summary{
		TotalPortions: portions.Total(),
		TotalWaste:    waste.Total(),
	}
	s.Intake = s.TotalPortions - s.TotalWaste
	if s.TotalPortions > 0 {
		s.IntakeRate = s.Intake / s.TotalPortions * 100
	}
	s.Band = ClassifyIntake(s.IntakeRate)
	return s
}

type DayTotals struct {
	Day      int
	Portions float64
	Waste    float64
}

func (d DayTotals) Intake() float64 {
	return d.Portions - d.Waste
}

func DailyTotals(portions, waste Measurements) []DayTotals {
	out := make([]DayTotals, 0, Days)
	for day := 1; day <= Days; day++ {
		out = append(out, DayTotals{
			Day:      day,
			Portions: portions.DayTotal(day),
			Waste:    waste.DayTotal(day),
		})
	}
	return out
}

// DailyAverage spreads a window total over the observation days.
func DailyAverage(total float64) float64 {
	return total / Days
}
