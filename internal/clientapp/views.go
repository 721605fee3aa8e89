package clientapp

import (
	"fmt"
	"html/template"
	"strconv"

	"github.com/phillip-england/nutrisurvey/internal/survey"
	"github.com/phillip-england/nutrisurvey/internal/wizard"
)

type pageData struct {
	Error   string
	Message string
	Notice  string
	CSRF    template.HTML
	Current string
	Policy  string

	Subjects []subjectRow
	Draft    *draftView
}

type subjectRow struct {
	ID          string
	Name        string
	FacilityID  string
	Completed   bool
	LastUpdated string
	Current     bool
}

type draftView struct {
	SubjectID    string
	SurveyorID   string
	FacilityID   string
	Page         string
	Step         int
	Days         []dayView
	Scale        []ratingOption
	Summary      summaryView
	PendingCount int
}

type dayView struct {
	Day      int
	Meals    []mealView
	Portions float64
	Waste    float64
	Intake   float64
}

type mealView struct {
	Slot           string
	Label          string
	Fields         []fieldView
	ProvisionPhoto photoView
	WastePhoto     photoView
}

type fieldView struct {
	Key     string
	Label   string
	Grams   float64
	Waste   float64
	Rating  int
	Options []ratingOption
}

type ratingOption struct {
	Value   int
	Percent int
	Label   string
	Checked bool
}

type photoView struct {
	Field       string
	Label       string
	URL         string
	Pending     bool
	DeleteValue string
}

type summaryView struct {
	TotalPortions  float64
	TotalWaste     float64
	Intake         float64
	IntakeRate     float64
	Band           string
	BandLabel      string
	DailyPortions  float64
	DailyIntake    float64
	ProvisionCount int
	WasteCount     int
}

var templateFuncs = template.FuncMap{
	"grams":      func(v float64) string { return strconv.FormatFloat(v, 'f', 0, 64) },
	"one":        func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) },
	"surveyPath": surveyPath,
}

func subjectRows(subjects []survey.Subject, current string) []subjectRow {
	rows := make([]subjectRow, 0, len(subjects))
	for _, s := range subjects {
		rows = append(rows, subjectRow{
			ID:          s.ID,
			Name:        s.Name,
			FacilityID:  s.FacilityID,
			Completed:   s.Completed,
			LastUpdated: s.LastUpdated,
			Current:     s.ID == current,
		})
	}
	return rows
}

func newDraftView(st *wizard.State) *draftView {
	record := st.Record
	v := &draftView{
		SubjectID:    st.SubjectID,
		SurveyorID:   st.SurveyorID,
		FacilityID:   st.FacilityID,
		Page:         st.Page.String(),
		Step:         int(st.Page),
		Scale:        ratingOptions(-1),
		PendingCount: st.PendingCount(),
	}

	totals := survey.DailyTotals(record.MealPortions, record.PlateWaste)
	for _, t := range totals {
		day := dayView{Day: t.Day, Portions: t.Portions, Waste: t.Waste, Intake: t.Intake()}
		for _, slot := range survey.MealSlots {
			sk := survey.SlotKey{Day: t.Day, Slot: slot}
			meal := mealView{
				Slot:           sk.String(),
				Label:          slot.Label(),
				ProvisionPhoto: newPhotoView(st, survey.EvidenceProvision, sk),
				WastePhoto:     newPhotoView(st, survey.EvidenceWaste, sk),
			}
			for _, c := range survey.ComponentsFor(slot) {
				k := survey.Key{Day: t.Day, Slot: slot, Component: c}
				rating := int(record.WasteRatings[k])
				label := c.Label()
				if c == survey.Whole {
					label = slot.Label()
				}
				meal.Fields = append(meal.Fields, fieldView{
					Key:     k.String(),
					Label:   label,
					Grams:   record.MealPortions.Value(k),
					Waste:   record.PlateWaste.Value(k),
					Rating:  rating,
					Options: ratingOptions(rating),
				})
			}
			day.Meals = append(day.Meals, meal)
		}
		v.Days = append(v.Days, day)
	}

	sum := record.Summary()
	v.Summary = summaryView{
		TotalPortions:  sum.TotalPortions,
		TotalWaste:     sum.TotalWaste,
		Intake:         sum.Intake,
		IntakeRate:     sum.IntakeRate,
		Band:           string(sum.Band),
		BandLabel:      sum.Band.Label(),
		DailyPortions:  survey.DailyAverage(sum.TotalPortions),
		DailyIntake:    survey.DailyAverage(sum.Intake),
		ProvisionCount: photoCount(st, survey.EvidenceProvision),
		WasteCount:     photoCount(st, survey.EvidenceWaste),
	}
	return v
}

func newPhotoView(st *wizard.State, kind survey.EvidenceKind, slot survey.SlotKey) photoView {
	return photoView{
		Field:       photoField(kind, slot),
		Label:       kind.Label(),
		URL:         st.PhotoURL(kind, slot),
		Pending:     st.HasPending(kind, slot),
		DeleteValue: string(kind) + ":" + slot.String(),
	}
}

// photoCount counts slots that will carry a photo once submitted, pending
// files included.
func photoCount(st *wizard.State, kind survey.EvidenceKind) int {
	n := 0
	for _, slot := range survey.AllSlots() {
		if st.PhotoURL(kind, slot) != "" || st.HasPending(kind, slot) {
			n++
		}
	}
	return n
}

func ratingOptions(selected int) []ratingOption {
	scale := survey.RatingScale()
	out := make([]ratingOption, 0, len(scale))
	for _, r := range scale {
		out = append(out, ratingOption{
			Value:   int(r),
			Percent: int(r.Ratio() * 100),
			Label:   r.Label(),
			Checked: int(r) == selected,
		})
	}
	return out
}

func submitMessage(subjectID string, result wizard.SubmitResult) string {
	verb := "updated"
	if result.Inserted {
		verb = "saved"
	}
	return fmt.Sprintf("Survey for %s %s at %s with %d served and %d leftover photos",
		subjectID, verb, result.UpdatedAt, result.ProvisionPhotos, result.WastePhotos)
}
