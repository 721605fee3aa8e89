package apiapp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/nutrisurvey/internal/remotestore"
	"github.com/phillip-england/nutrisurvey/internal/survey"
)

func newTestServer(t *testing.T) (*server, *httptest.Server) {
	t.Helper()
	return newTestServerWith(t, Config{})
}

func newTestServerWith(t *testing.T, cfg Config) (*server, *httptest.Server) {
	t.Helper()
	cfg.DBPath = filepath.Join(t.TempDir(), "survey.db")
	s, err := newServer(context.Background(), cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(func() {
		ts.Close()
		_ = s.store.Close()
	})
	return s, ts
}

func rosterWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestSurveyInsertSelectUpdate(t *testing.T) {
	ctx := context.Background()
	_, ts := newTestServer(t)
	client := remotestore.NewClient(ts.URL, ts.Client(), nil)

	_, found, err := client.FetchSurvey(ctx, "E001")
	require.NoError(t, err)
	assert.False(t, found)

	record := survey.NewRecord("E001", "S01", "F01")
	k := survey.Key{Day: 3, Slot: survey.Dinner, Component: survey.Kimchi}
	record.MealPortions.Set(k, 40)
	record.WasteRatings[k] = 4
	record.PlateWaste = survey.ComputeWaste(record.MealPortions, record.WasteRatings)
	record.UpdatedAt = "2024-05-01 10:00:00"
	require.NoError(t, client.InsertSurvey(ctx, record))

	err = client.InsertSurvey(ctx, record)
	require.ErrorIs(t, err, remotestore.ErrConflict)

	got, found, err := client.FetchSurvey(ctx, "E001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 40.0, got.PlateWaste.Value(k))
	assert.Equal(t, survey.Rating(4), got.WasteRatings[k])

	record.SurveyorID = "S02"
	require.NoError(t, client.UpdateSurvey(ctx, record))
	got, _, err = client.FetchSurvey(ctx, "E001")
	require.NoError(t, err)
	assert.Equal(t, "S02", got.SurveyorID)

	missing := survey.NewRecord("E404", "S01", "F01")
	require.ErrorIs(t, client.UpdateSurvey(ctx, missing), remotestore.ErrNotFound)

	rows, err := client.ListSurveys(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestMalformedStoredMappingDecodesEmpty(t *testing.T) {
	ctx := context.Background()
	s, ts := newTestServer(t)
	_, err := s.store.insertSurvey(ctx, survey.Row{ElderlyID: "E001", MealPortions: "not-json"})
	require.NoError(t, err)

	client := remotestore.NewClient(ts.URL, ts.Client(), nil)
	got, found, err := client.FetchSurvey(ctx, "E001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0, got.MealPortions.Len())
}

func TestRosterImportAndProgress(t *testing.T) {
	ctx := context.Background()
	_, ts := newTestServer(t)
	client := remotestore.NewClient(ts.URL, ts.Client(), nil)

	data := rosterWorkbook(t, [][]any{
		{"Elderly ID", "Name", "Facility"},
		{"E001", "Kim Young", "F01"},
		{"E002", "Lee Soon", "F01"},
		{"", "", ""},
	})
	imported, err := client.ImportRoster(ctx, "roster.xlsx", data)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	subjects, err := client.ListSubjects(ctx)
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, "Kim Young", subjects[0].Name)
	assert.False(t, subjects[0].Completed)

	require.NoError(t, client.MarkSurveyCompleted(ctx, "E001", "2024-05-01 10:00:00"))
	require.NoError(t, client.MarkSurveyCompleted(ctx, "E999", "2024-05-01 10:00:00"))

	subjects, err = client.ListSubjects(ctx)
	require.NoError(t, err)
	assert.True(t, subjects[0].Completed)
	assert.Equal(t, "2024-05-01 10:00:00", subjects[0].LastUpdated)
	assert.False(t, subjects[1].Completed)

	resp, err := http.Get(ts.URL + "/api/progress/E999")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProgressPatchReportsUpdatedRows(t *testing.T) {
	ctx := context.Background()
	s, ts := newTestServer(t)
	_, err := s.store.upsertSubjects(ctx, []survey.Subject{{ID: "E001"}})
	require.NoError(t, err)

	patch := func(id string) map[string]int64 {
		req, err := http.NewRequest(http.MethodPatch, ts.URL+"/api/progress/"+id, strings.NewReader(`{"nutrition_survey_completed":true,"last_updated":"x"}`))
		require.NoError(t, err)
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out map[string]int64
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}
	assert.Equal(t, int64(1), patch("E001")["updated"])
	assert.Equal(t, int64(0), patch("E002")["updated"])

	_, err = s.store.getProgress(ctx, "E002")
	assert.ErrorIs(t, err, errNotFound)
}

func TestRosterImportRejectsBadFiles(t *testing.T) {
	_, ts := newTestServer(t)
	client := remotestore.NewClient(ts.URL, ts.Client(), nil)

	_, err := client.ImportRoster(context.Background(), "roster.csv", []byte("E001,Kim"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".xls or .xlsx")

	dup := rosterWorkbook(t, [][]any{{"E001", "A"}, {"E001", "B"}})
	_, err = client.ImportRoster(context.Background(), "roster.xlsx", dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate subject id")
}

func TestStorageUploadServeDelete(t *testing.T) {
	ctx := context.Background()
	_, ts := newTestServer(t)
	client := remotestore.NewClient(ts.URL, ts.Client(), nil)

	name := "E001_provision_day1_lunch_20240501_093000.jpg"
	payload := []byte("\xff\xd8\xff\xe0fake-jpeg")
	publicURL, err := client.UploadPhoto(ctx, name, payload)
	require.NoError(t, err)
	assert.Equal(t, ts.URL+"/api/storage/nutrition-photos/"+name, publicURL)
	assert.Equal(t, name, survey.ObjectNameFromURL(publicURL))

	resp, err := http.Get(publicURL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, payload, body)
	assert.Equal(t, "cross-origin", resp.Header.Get("Cross-Origin-Resource-Policy"))

	require.NoError(t, client.DeletePhoto(ctx, name))
	require.ErrorIs(t, client.DeletePhoto(ctx, name), remotestore.ErrNotFound)

	resp, err = http.Get(publicURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStorageRejectsEmptyUploadsAndOtherBuckets(t *testing.T) {
	_, ts := newTestServer(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_, err := writer.CreateFormFile("file", "empty.jpg")
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	resp, err := http.Post(ts.URL+"/api/storage/nutrition-photos/empty.jpg", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "uploaded file is empty", payload["error"])

	resp, err = http.Get(ts.URL + "/api/storage/other-bucket/x.jpg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSurveyReport(t *testing.T) {
	ctx := context.Background()
	_, ts := newTestServer(t)
	client := remotestore.NewClient(ts.URL, ts.Client(), nil)

	record := survey.NewRecord("E001", "S01", "F01")
	record.MealPortions.Set(survey.Key{Day: 1, Slot: survey.Breakfast, Component: survey.Rice}, 100)
	require.NoError(t, client.InsertSurvey(ctx, record))

	data, err := client.Report(ctx, "E001")
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	v, err := f.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "E001", v)

	_, err = client.Report(ctx, "E404")
	require.ErrorIs(t, err, remotestore.ErrNotFound)
}

func TestSchemaMigrationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "survey.db")
	first, err := openSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := openSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestParseRosterRowsWithoutHeader(t *testing.T) {
	subjects, err := parseRosterRows([][]string{{"E010", "Park", "F02"}, {"E011"}})
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, survey.Subject{ID: "E010", Name: "Park", FacilityID: "F02"}, subjects[0])
	assert.Equal(t, "", subjects[1].Name)

	_, err = parseRosterRows([][]string{{"Elderly ID", "Name"}})
	require.Error(t, err)
}

func TestStorageRejectsOversizedUploads(t *testing.T) {
	ctx := context.Background()
	s, ts := newTestServerWith(t, Config{MaxUploadBytes: 1024})
	client := remotestore.NewClient(ts.URL, ts.Client(), nil)

	_, err := client.UploadPhoto(ctx, "big.jpg", bytes.Repeat([]byte{0xff}, 5000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file too large")

	_, err = s.store.getObject(ctx, survey.Bucket, "big.jpg")
	require.ErrorIs(t, err, errNotFound)

	publicURL, err := client.UploadPhoto(ctx, "fits.jpg", bytes.Repeat([]byte{0xff}, 1024))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(publicURL, "/fits.jpg"))
}

func TestSubjectIDsWithEscapesRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, ts := newTestServer(t)
	client := remotestore.NewClient(ts.URL, ts.Client(), nil)

	for _, id := range []string{"A%41", "50%", "B?1#2"} {
		record := survey.NewRecord(id, "S01", "F01")
		record.MealPortions.Set(survey.Key{Day: 1, Slot: survey.Lunch, Component: survey.Rice}, 120)
		require.NoError(t, client.InsertSurvey(ctx, record), id)

		got, found, err := client.FetchSurvey(ctx, id)
		require.NoError(t, err, id)
		require.True(t, found, id)
		assert.Equal(t, id, got.SubjectID)
		assert.Equal(t, 120.0, got.MealPortions.Value(survey.Key{Day: 1, Slot: survey.Lunch, Component: survey.Rice}))

		record.SurveyorID = "S02"
		require.NoError(t, client.UpdateSurvey(ctx, record), id)
	}

	_, found, err := client.FetchSurvey(ctx, "AA")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReadRosterRowsTrimsAndDropsBlankRows(t *testing.T) {
	data := rosterWorkbook(t, [][]any{
		{" Elderly ID ", "Name"},
		{"", ""},
		{" E001 ", " Kim Young "},
	})
	rows, err := readRosterRows(data, "roster.xlsx")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Elderly ID", "Name"}, {"E001", "Kim Young"}}, rows)

	_, err = readRosterRows(data, "roster.csv")
	require.Error(t, err)
}

func TestReadRosterRowsRejectsExtraSheetsAndOversizedRosters(t *testing.T) {
	f := excelize.NewFile()
	_, err := f.NewSheet("Notes")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())
	_, err = readRosterRows(buf.Bytes(), "roster.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple worksheets")

	rows := make([][]any, 0, maxRosterRows+2)
	rows = append(rows, []any{"Elderly ID"})
	for i := 0; i <= maxRosterRows; i++ {
		rows = append(rows, []any{"E" + strconv.Itoa(i)})
	}
	_, err = readRosterRows(rosterWorkbook(t, rows), "roster.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than 5000 rows")
}
