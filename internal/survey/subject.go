package survey

// Subject is a care recipient on the facility roster.
type Subject struct {
	ID          string `json:"elderly_id"`
	Name        string `json:"name"`
	FacilityID  string `json:"facility_id"`
	Completed   bool   `json:"nutrition_survey_completed"`
	LastUpdated string `json:"last_updated"`
}
