package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/phillip-england/nutrisurvey/internal/survey"
)

const formatVersion = 1

type Source interface {
	ListSurveys(ctx context.Context) ([]survey.Row, error)
	ListSubjects(ctx context.Context) ([]survey.Subject, error)
}

// Archive is the decoded content of a backup file.
type Archive struct {
	Version   int              `json:"version"`
	CreatedAt string           `json:"created_at"`
	Subjects  []survey.Subject `json:"subjects"`
	Surveys   []survey.Row     `json:"surveys"`
}

// Write streams every subject and survey row from src to w as xz-compressed
// JSON.
func Write(ctx context.Context, src Source, w io.Writer, now time.Time) (Archive, error) {
	subjects, err := src.ListSubjects(ctx)
	if err != nil {
		return Archive{}, err
	}
	surveys, err := src.ListSurveys(ctx)
	if err != nil {
		return Archive{}, err
	}
	archive := Archive{
		Version:   formatVersion,
		CreatedAt: now.Format(survey.TimestampLayout),
		Subjects:  subjects,
		Surveys:   surveys,
	}

	xw, err := xz.NewWriter(w)
	if err != nil {
		return Archive{}, fmt.Errorf("create xz writer: %w", err)
	}
	enc := json.NewEncoder(xw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(archive); err != nil {
		_ = xw.Close()
		return Archive{}, fmt.Errorf("encode backup: %w", err)
	}
	if err := xw.Close(); err != nil {
		return Archive{}, fmt.Errorf("finish backup: %w", err)
	}
	return archive, nil
}

func Read(r io.Reader) (Archive, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return Archive{}, fmt.Errorf("open xz stream: %w", err)
	}
	var archive Archive
	if err := json.NewDecoder(xr).Decode(&archive); err != nil {
		return Archive{}, fmt.Errorf("decode backup: %w", err)
	}
	if archive.Version != formatVersion {
		return Archive{}, fmt.Errorf("unsupported backup version %d", archive.Version)
	}
	return archive, nil
}
