package survey

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TimestampLayout is the layout of updated_at values.
const TimestampLayout = "2006-01-02 15:04:05"

type Record struct {
	SubjectID       string
	SurveyorID      string
	FacilityID      string
	MealPortions    Measurements
	PlateWaste      Measurements
	WasteRatings    Ratings
	ProvisionPhotos PhotoSet
	WastePhotos     PhotoSet
	UpdatedAt       string
}

func NewRecord(subjectID, surveyorID, facilityID string) Record {
	return Record{
		SubjectID:       subjectID,
		SurveyorID:      surveyorID,
		FacilityID:      facilityID,
		MealPortions:    Measurements{},
		PlateWaste:      Measurements{},
		WasteRatings:    Ratings{},
		ProvisionPhotos: PhotoSet{},
		WastePhotos:     PhotoSet{},
	}
}

func (r Record) Photos(kind EvidenceKind) PhotoSet {
	if kind == EvidenceWaste {
		return r.WastePhotos
	}
	return r.ProvisionPhotos
}

func (r Record) Summary() Summary {
	return Summarize(r.MealPortions, r.PlateWaste)
}

// Row is the storage form of a Record: every mapping is serialized as a
// flat JSON object.
type Row struct {
	ID                  int64  `json:"id,omitempty"`
	ElderlyID           string `json:"elderly_id"`
	SurveyorID          string `json:"surveyor_id"`
	FacilityID          string `json:"facility_id"`
	MealPortions        string `json:"meal_portions"`
	PlateWaste          string `json:"plate_waste"`
	WasteRatings        string `json:"waste_ratings"`
	MealProvisionPhotos string `json:"meal_provision_photos"`
	MealWastePhotos     string `json:"meal_waste_photos"`
	UpdatedAt           string `json:"updated_at"`
}

func EncodeRecord(r Record) Row {
	return Row{
		ElderlyID:           r.SubjectID,
		SurveyorID:          r.SurveyorID,
		FacilityID:          r.FacilityID,
		MealPortions:        EncodeMeasurements(r.MealPortions, ""),
		PlateWaste:          EncodeMeasurements(r.PlateWaste, WasteSuffix),
		WasteRatings:        EncodeRatings(r.WasteRatings),
		MealProvisionPhotos: EncodePhotos(r.ProvisionPhotos),
		MealWastePhotos:     EncodePhotos(r.WastePhotos),
		UpdatedAt:           r.UpdatedAt,
	}
}

// DecodeRecord always returns a usable Record. Any mapping that cannot be
// decoded is left empty and reported in the returned error.
func DecodeRecord(row Row) (Record, error) {
	r := NewRecord(row.ElderlyID, row.SurveyorID, row.FacilityID)
	r.UpdatedAt = row.UpdatedAt

	var errs []error
	var err error
	if r.MealPortions, err = DecodeMeasurements(row.MealPortions); err != nil {
		errs = append(errs, fmt.Errorf("meal_portions: %w", err))
	}
	if r.PlateWaste, err = DecodeMeasurements(row.PlateWaste); err != nil {
		errs = append(errs, fmt.Errorf("plate_waste: %w", err))
	}
	if r.WasteRatings, err = DecodeRatings(row.WasteRatings); err != nil {
		errs = append(errs, fmt.Errorf("waste_ratings: %w", err))
	}
	if r.ProvisionPhotos, err = DecodePhotos(row.MealProvisionPhotos); err != nil {
		errs = append(errs, fmt.Errorf("meal_provision_photos: %w", err))
	}
	if r.WastePhotos, err = DecodePhotos(row.MealWastePhotos); err != nil {
		errs = append(errs, fmt.Errorf("meal_waste_photos: %w", err))
	}
	return r, errors.Join(errs...)
}

func EncodeMeasurements(m Measurements, suffix string) string {
	flat := make(map[string]float64, m.Len())
	for _, k := range m.Keys() {
		flat[k.String()+suffix] = m.Value(k)
	}
	return mustMarshal(flat)
}

func DecodeMeasurements(raw string) (Measurements, error) {
	out := Measurements{}
	var flat map[string]float64
	if err := unmarshalLenient(raw, &flat); err != nil {
		return out, err
	}
	for name, v := range flat {
		k, err := ParseKey(name)
		if err != nil {
			continue
		}
		out.Set(k, v)
	}
	return out, nil
}

func EncodeRatings(r Ratings) string {
	flat := make(map[string]int, len(r))
	for k, v := range r {
		flat[k.String()] = int(v)
	}
	return mustMarshal(flat)
}

func DecodeRatings(raw string) (Ratings, error) {
	out := Ratings{}
	var flat map[string]int
	if err := unmarshalLenient(raw, &flat); err != nil {
		return out, err
	}
	for name, v := range flat {
		k, err := ParseKey(name)
		if err != nil {
			continue
		}
		out[k] = ClampRating(v)
	}
	return out, nil
}

func EncodePhotos(p PhotoSet) string {
	flat := make(map[string]string, len(p))
	for k, v := range p {
		if strings.TrimSpace(v) == "" {
			continue
		}
		flat[k.String()] = v
	}
	return mustMarshal(flat)
}

func DecodePhotos(raw string) (PhotoSet, error) {
	out := PhotoSet{}
	var flat map[string]string
	if err := unmarshalLenient(raw, &flat); err != nil {
		return out, err
	}
	for name, v := range flat {
		k, err := ParseSlotKey(name)
		if err != nil || strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// unmarshalLenient treats blank and null payloads as empty.
func unmarshalLenient(raw string, dst any) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.Unmarshal([]byte(trimmed), dst)
}

func mustMarshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
