package wizard

import (
	"errors"

	"github.com/phillip-england/nutrisurvey/internal/survey"
)

var (
	ErrInvalidTransition = errors.New("invalid page transition")
	ErrEmptyFile         = errors.New("uploaded file is empty")
)

type Page int

const (
	PageDashboard Page = iota
	PagePortions
	PageWaste
	PageSummary
)

func (p Page) String() string {
	switch p {
	case PagePortions:
		return "portions"
	case PageWaste:
		return "waste"
	case PageSummary:
		return "summary"
	default:
		return "dashboard"
	}
}

// PendingFile is a photo picked in the form but not yet uploaded.
type PendingFile struct {
	Name string
	Data []byte
}

// State is the draft of one survey for one subject. It is created on entry
// and discarded on successful submission or on leaving to the dashboard.
type State struct {
	SubjectID  string
	SurveyorID string
	FacilityID string
	Page       Page
	Record     survey.Record
	Photos     map[survey.EvidenceKind]survey.PhotoSet
	Pending    map[survey.EvidenceKind]map[survey.SlotKey]PendingFile
	Notice     string
}

func newState(record survey.Record) *State {
	st := &State{
		SubjectID:  record.SubjectID,
		SurveyorID: record.SurveyorID,
		FacilityID: record.FacilityID,
		Page:       PagePortions,
		Record:     record,
		Photos:     map[survey.EvidenceKind]survey.PhotoSet{},
		Pending:    map[survey.EvidenceKind]map[survey.SlotKey]PendingFile{},
	}
	for _, kind := range survey.EvidenceKinds {
		st.Photos[kind] = record.Photos(kind).Clone()
		st.Pending[kind] = map[survey.SlotKey]PendingFile{}
	}
	return st
}

func (s *State) PhotoURL(kind survey.EvidenceKind, slot survey.SlotKey) string {
	return s.Photos[kind][slot]
}

func (s *State) HasPending(kind survey.EvidenceKind, slot survey.SlotKey) bool {
	_, ok := s.Pending[kind][slot]
	return ok
}

func (s *State) PendingCount() int {
	n := 0
	for _, files := range s.Pending {
		n += len(files)
	}
	return n
}

func (s *State) setPhoto(kind survey.EvidenceKind, slot survey.SlotKey, url string) {
	if s.Photos[kind] == nil {
		s.Photos[kind] = survey.PhotoSet{}
	}
	s.Photos[kind][slot] = url
}

func (s *State) setPending(kind survey.EvidenceKind, slot survey.SlotKey, file PendingFile) {
	if s.Pending[kind] == nil {
		s.Pending[kind] = map[survey.SlotKey]PendingFile{}
	}
	s.Pending[kind][slot] = file
}
