package envutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, WriteDotEnv(path, "", map[string]string{
		"NUTRISURVEY_TEST_POLICY": "deferred",
		"NUTRISURVEY_TEST_ADDR":   ":3100",
	}, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "NUTRISURVEY_TEST_ADDR=:3100\nNUTRISURVEY_TEST_POLICY=deferred\n", string(data))

	t.Setenv("NUTRISURVEY_TEST_ADDR", ":9999")
	t.Setenv("NUTRISURVEY_TEST_POLICY", "")
	require.NoError(t, os.Unsetenv("NUTRISURVEY_TEST_POLICY"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, ":9999", os.Getenv("NUTRISURVEY_TEST_ADDR"))
	assert.Equal(t, "deferred", os.Getenv("NUTRISURVEY_TEST_POLICY"))
}

func TestWriteDotEnvRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("A=1\n"), 0o600))
	require.Error(t, WriteDotEnv(path, "", map[string]string{"A": "2"}, false))
	require.NoError(t, WriteDotEnv(path, "", map[string]string{"A": "2"}, true))
}

func TestLoadDotEnvIgnoresMissingFileAndComments(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n\nnot-a-pair\nNUTRISURVEY_TEST_KEY = value \n"), 0o600))
	t.Setenv("NUTRISURVEY_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("NUTRISURVEY_TEST_KEY"))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "value", os.Getenv("NUTRISURVEY_TEST_KEY"))
}

func TestReadDotEnvHandlesExportQuotesAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := `export API_BASE_URL="http://store.local:8080"
CSRF_KEY='00ff00ff'
SURVEY_TIMEZONE=Asia/Seoul # facility zone
LOG_FORMAT = "json" # trailing
STORE_DB_PATH="/var/lib/nutri survey/db.sqlite"
ESCAPED="say \"hi\""
EMPTY=
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	values, err := ReadDotEnv(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"API_BASE_URL":    "http://store.local:8080",
		"CSRF_KEY":        "00ff00ff",
		"SURVEY_TIMEZONE": "Asia/Seoul",
		"LOG_FORMAT":      "json",
		"STORE_DB_PATH":   "/var/lib/nutri survey/db.sqlite",
		"ESCAPED":         `say "hi"`,
		"EMPTY":           "",
	}, values)
}

func TestReadDotEnvRejectsUnterminatedQuote(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("A=1\nAPI_BASE_URL=\"http://x\n"), 0o600))
	_, err := ReadDotEnv(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":2: API_BASE_URL: unterminated quoted value")

	t.Setenv("A", "")
	require.NoError(t, os.Unsetenv("A"))
	require.Error(t, LoadDotEnv(path))
	_, set := os.LookupEnv("A")
	assert.False(t, set)
}

func TestWriteDotEnvHeaderAndQuoting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	values := map[string]string{
		"STORE_DB_PATH": "/srv/nutri survey #1/db.sqlite",
		"PHOTO_POLICY":  "immediate",
		"NOTE":          " padded ",
	}
	require.NoError(t, WriteDotEnv(path, "first line\nsecond line", values, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# first line\n# second line\n\n"+
		"NOTE=\" padded \"\n"+
		"PHOTO_POLICY=immediate\n"+
		"STORE_DB_PATH=\"/srv/nutri survey #1/db.sqlite\"\n", string(data))

	got, err := ReadDotEnv(path)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}
