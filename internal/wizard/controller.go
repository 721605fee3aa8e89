package wizard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/phillip-england/nutrisurvey/internal/survey"
)

// Store is the remote persistence the wizard reads from and writes to.
type Store interface {
	PhotoStore
	FetchSurvey(ctx context.Context, subjectID string) (survey.Record, bool, error)
	InsertSurvey(ctx context.Context, record survey.Record) error
	UpdateSurvey(ctx context.Context, record survey.Record) error
	MarkSurveyCompleted(ctx context.Context, subjectID, updatedAt string) error
}

type Controller struct {
	store  Store
	policy PhotoEvidencePolicy
	clock  func() time.Time
	logger *zap.Logger
}

type SubmitResult struct {
	Inserted        bool
	UpdatedAt       string
	ProvisionPhotos int
	WastePhotos     int
}

func NewController(store Store, policy PhotoEvidencePolicy, clock func() time.Time, logger *zap.Logger) *Controller {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{store: store, policy: policy, clock: clock, logger: logger}
}

func (c *Controller) Policy() PhotoEvidencePolicy {
	return c.policy
}

// Enter starts a draft on the portions page, seeded from the subject's
// persisted record when one can be read.
func (c *Controller) Enter(ctx context.Context, subjectID, surveyorID, facilityID string) *State {
	record := survey.NewRecord(subjectID, surveyorID, facilityID)
	existing, found, err := c.store.FetchSurvey(ctx, subjectID)
	var notice string
	switch {
	case err != nil:
		c.logger.Warn("load existing survey failed", zap.String("subject", subjectID), zap.Error(err))
		notice = "Saved data could not be loaded: " + err.Error()
	case found:
		record.MealPortions = existing.MealPortions
		record.PlateWaste = existing.PlateWaste
		record.WasteRatings = existing.WasteRatings
		record.ProvisionPhotos = existing.ProvisionPhotos
		record.WastePhotos = existing.WastePhotos
		record.UpdatedAt = existing.UpdatedAt
		if len(record.PlateWaste) == 0 && record.MealPortions.Len() > 0 {
			record.PlateWaste = survey.ComputeWaste(record.MealPortions, record.WasteRatings)
		}
	}
	st := newState(record)
	st.Notice = notice
	return st
}

func (c *Controller) Next(st *State) error {
	switch st.Page {
	case PagePortions, PageWaste:
		st.Page++
		return nil
	default:
		return fmt.Errorf("%w: next from %s", ErrInvalidTransition, st.Page)
	}
}

func (c *Controller) Back(st *State) error {
	switch st.Page {
	case PageWaste, PageSummary:
		st.Page--
		return nil
	default:
		return fmt.Errorf("%w: back from %s", ErrInvalidTransition, st.Page)
	}
}

// UpdatePortions replaces the served amounts with values, clamped to whole
// grams in range, and recomputes waste.
func (c *Controller) UpdatePortions(st *State, values map[survey.Key]float64) {
	portions := survey.Measurements{}
	for k, v := range values {
		if !k.Valid() {
			continue
		}
		portions.Set(k, survey.ClampGrams(v))
	}
	st.Record.MealPortions = portions
	st.Record.PlateWaste = survey.ComputeWaste(portions, st.Record.WasteRatings)
}

func (c *Controller) UpdateRatings(st *State, values map[survey.Key]int) {
	ratings := survey.Ratings{}
	for k, v := range values {
		if !k.Valid() {
			continue
		}
		ratings[k] = survey.ClampRating(v)
	}
	st.Record.WasteRatings = ratings
	st.Record.PlateWaste = survey.ComputeWaste(st.Record.MealPortions, ratings)
}

func (c *Controller) SelectPhoto(ctx context.Context, st *State, kind survey.EvidenceKind, slot survey.SlotKey, file PendingFile) error {
	return c.policy.Select(ctx, st, kind, slot, file)
}

func (c *Controller) RemovePhoto(ctx context.Context, st *State, kind survey.EvidenceKind, slot survey.SlotKey) error {
	return c.policy.Remove(ctx, st, kind, slot)
}

func (c *Controller) Summary(st *State) survey.Summary {
	return st.Record.Summary()
}

// Submit persists the draft. The record write and the progress flag are
// separate calls; a failure after the record write leaves the record in
// place and the draft on the summary page.
func (c *Controller) Submit(ctx context.Context, st *State) (SubmitResult, error) {
	if st.Page != PageSummary {
		return SubmitResult{}, fmt.Errorf("%w: submit from %s", ErrInvalidTransition, st.Page)
	}
	if err := c.policy.Finalize(ctx, st); err != nil {
		return SubmitResult{}, err
	}

	record := st.Record
	record.SubjectID = st.SubjectID
	record.SurveyorID = st.SurveyorID
	record.FacilityID = st.FacilityID
	record.ProvisionPhotos = st.Photos[survey.EvidenceProvision].Clone()
	record.WastePhotos = st.Photos[survey.EvidenceWaste].Clone()
	record.UpdatedAt = c.clock().Format(survey.TimestampLayout)

	_, found, err := c.store.FetchSurvey(ctx, st.SubjectID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("check existing survey: %w", err)
	}
	if found {
		err = c.store.UpdateSurvey(ctx, record)
	} else {
		err = c.store.InsertSurvey(ctx, record)
	}
	if err != nil {
		return SubmitResult{}, fmt.Errorf("save survey: %w", err)
	}
	st.Record = record

	if err := c.store.MarkSurveyCompleted(ctx, st.SubjectID, record.UpdatedAt); err != nil {
		return SubmitResult{}, fmt.Errorf("update survey progress: %w", err)
	}

	c.logger.Info("survey submitted",
		zap.String("subject", st.SubjectID),
		zap.String("surveyor", st.SurveyorID),
		zap.Bool("inserted", !found),
		zap.Int("provision_photos", record.ProvisionPhotos.Count()),
		zap.Int("waste_photos", record.WastePhotos.Count()),
	)
	st.Page = PageDashboard
	return SubmitResult{
		Inserted:        !found,
		UpdatedAt:       record.UpdatedAt,
		ProvisionPhotos: record.ProvisionPhotos.Count(),
		WastePhotos:     record.WastePhotos.Count(),
	}, nil
}
