package backup

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/nutrisurvey/internal/remotestore"
	"github.com/phillip-england/nutrisurvey/internal/survey"
)

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	store := remotestore.NewMemory()
	store.AddSubject(survey.Subject{ID: "E001", Name: "Kim", FacilityID: "F01"})
	record := survey.NewRecord("E001", "S01", "F01")
	record.MealPortions.Set(survey.Key{Day: 1, Slot: survey.Snack2}, 80)
	require.NoError(t, store.InsertSurvey(ctx, record))

	var buf bytes.Buffer
	written, err := Write(ctx, store, &buf, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, written.Surveys, 1)
	assert.Equal(t, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, buf.Bytes()[:6])

	archive, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01 08:00:00", archive.CreatedAt)
	require.Len(t, archive.Subjects, 1)
	assert.Equal(t, "Kim", archive.Subjects[0].Name)
	require.Len(t, archive.Surveys, 1)
	assert.Equal(t, `{"day1_snack2":80}`, archive.Surveys[0].MealPortions)
}

func TestReadRejectsPlainJSON(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte(`{"version":1}`)))
	require.Error(t, err)
}
