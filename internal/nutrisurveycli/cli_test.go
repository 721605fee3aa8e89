package nutrisurveycli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/nutrisurvey/internal/backup"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSetupWritesEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	out, err := runCLI(t, "setup", "--env-file", envFile, "--photo-policy", "deferred")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+envFile)

	data, err := os.ReadFile(envFile)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "PHOTO_POLICY=deferred\n")
	assert.Contains(t, body, "SURVEY_TIMEZONE=Asia/Seoul\n")
	assert.Regexp(t, `CSRF_KEY=[0-9a-f]{64}\n`, body)
	assert.True(t, strings.HasPrefix(body, "# Written by nutrisurvey setup."))

	_, err = runCLI(t, "setup", "--env-file", envFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestSetupRejectsUnknownPolicy(t *testing.T) {
	_, err := runCLI(t, "setup", "--env-file", filepath.Join(t.TempDir(), ".env"), "--photo-policy", "hybrid")
	require.Error(t, err)
}

func TestRunRejectsUnknownTarget(t *testing.T) {
	_, err := runCLI(t, "run", "worker", "--env-file", filepath.Join(t.TempDir(), ".env"))
	require.Error(t, err)
}

func stubStore(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/subjects", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"subjects":[{"elderly_id":"E001","name":"Kim","facility_id":"F01"}]}`))
	})
	mux.HandleFunc("/api/surveys", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"surveys":[{"id":1,"elderly_id":"E001","meal_portions":"{}"}]}`))
	})
	mux.HandleFunc("/api/subjects/import", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("roster_file")
		if err != nil {
			http.Error(w, `{"error":"roster_file is required"}`, http.StatusBadRequest)
			return
		}
		file.Close()
		if !strings.HasSuffix(header.Filename, ".xlsx") {
			http.Error(w, `{"error":"roster must be an .xls or .xlsx file"}`, http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"imported":3}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBackupCommand(t *testing.T) {
	srv := stubStore(t)
	t.Setenv("API_BASE_URL", srv.URL)
	dir := t.TempDir()
	out := filepath.Join(dir, "backups", "snapshot.json.xz")

	_, err := runCLI(t, "backup", "--out", out, "--env-file", filepath.Join(dir, ".env"), "--config", filepath.Join(dir, "none.yaml"))
	require.Error(t, err, "explicit config path must exist")

	stdout, err := runCLI(t, "backup", "--out", out, "--env-file", filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 subjects, 1 surveys")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	archive, err := backup.Read(f)
	require.NoError(t, err)
	assert.Equal(t, "E001", archive.Surveys[0].ElderlyID)
}

func TestRosterImportCommand(t *testing.T) {
	srv := stubStore(t)
	t.Setenv("API_BASE_URL", srv.URL)
	dir := t.TempDir()
	roster := filepath.Join(dir, "roster.xlsx")
	require.NoError(t, os.WriteFile(roster, []byte("not really a workbook"), 0o600))

	stdout, err := runCLI(t, "roster", "import", roster, "--env-file", filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "imported 3 subjects")

	_, err = runCLI(t, "roster", "import", filepath.Join(dir, "missing.xlsx"), "--env-file", filepath.Join(dir, ".env"))
	require.Error(t, err)
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, "https://store.example:8443", origin("https://store.example:8443/api/storage"))
	assert.Equal(t, "", origin("not a url"))
}
