package apiapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/phillip-england/nutrisurvey/internal/survey"
)

var (
	errNotFound = errors.New("not found")
	errConflict = errors.New("already exists")
)

type sqliteStore struct {
	db *sql.DB
}

type progressRecord struct {
	ElderlyID   string `json:"elderly_id"`
	Completed   bool   `json:"nutrition_survey_completed"`
	LastUpdated string `json:"last_updated"`
}

type storedObject struct {
	Name string
	Mime string
	Data []byte
}

func openSQLiteStore(ctx context.Context, path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &sqliteStore{db: db}
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA journal_mode = WAL;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure database: %w", err)
		}
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS subjects (
			elderly_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			facility_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS survey_progress (
			elderly_id TEXT PRIMARY KEY,
			nutrition_survey_completed INTEGER NOT NULL DEFAULT 0,
			last_updated TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS nutrition_survey (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			elderly_id TEXT NOT NULL UNIQUE,
			surveyor_id TEXT NOT NULL DEFAULT '',
			facility_id TEXT NOT NULL DEFAULT '',
			meal_portions TEXT NOT NULL DEFAULT '{}',
			plate_waste TEXT NOT NULL DEFAULT '{}',
			meal_provision_photos TEXT NOT NULL DEFAULT '{}',
			meal_waste_photos TEXT NOT NULL DEFAULT '{}',
			updated_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_nutrition_survey_facility ON nutrition_survey(facility_id);`,
		`CREATE TABLE IF NOT EXISTS storage_objects (
			bucket TEXT NOT NULL,
			name TEXT NOT NULL,
			mime TEXT NOT NULL DEFAULT '',
			data BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY(bucket, name)
		);`,
	}
	for _, stmt := range statements {
		if _, err := s.exec(ctx, stmt, nil); err != nil {
			return err
		}
	}
	// Databases created before ratings were persisted lack this column.
	if _, err := s.exec(ctx, `
		ALTER TABLE nutrition_survey
		ADD COLUMN waste_ratings TEXT NOT NULL DEFAULT '{}';
	`, nil); err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column name") {
		return err
	}
	return nil
}

const surveyColumns = `id, elderly_id, surveyor_id, facility_id, meal_portions, plate_waste, waste_ratings, meal_provision_photos, meal_waste_photos, updated_at`

func scanSurvey(scanner interface{ Scan(...any) error }) (survey.Row, error) {
	var row survey.Row
	err := scanner.Scan(
		&row.ID,
		&row.ElderlyID,
		&row.SurveyorID,
		&row.FacilityID,
		&row.MealPortions,
		&row.PlateWaste,
		&row.WasteRatings,
		&row.MealProvisionPhotos,
		&row.MealWastePhotos,
		&row.UpdatedAt,
	)
	return row, err
}

func (s *sqliteStore) getSurvey(ctx context.Context, elderlyID string) (survey.Row, error) {
	rowScanner := s.db.QueryRowContext(ctx, `SELECT `+surveyColumns+` FROM nutrition_survey WHERE elderly_id = @elderly_id;`,
		namedArgs(map[string]any{"elderly_id": elderlyID})...)
	row, err := scanSurvey(rowScanner)
	if errors.Is(err, sql.ErrNoRows) {
		return survey.Row{}, errNotFound
	}
	return row, err
}

func (s *sqliteStore) listSurveys(ctx context.Context) ([]survey.Row, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+surveyColumns+` FROM nutrition_survey ORDER BY elderly_id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []survey.Row{}
	for rows.Next() {
		row, err := scanSurvey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *sqliteStore) insertSurvey(ctx context.Context, row survey.Row) (int64, error) {
	result, err := s.exec(ctx, `
		INSERT INTO nutrition_survey (elderly_id, surveyor_id, facility_id, meal_portions, plate_waste, waste_ratings, meal_provision_photos, meal_waste_photos, updated_at)
		VALUES (@elderly_id, @surveyor_id, @facility_id, @meal_portions, @plate_waste, @waste_ratings, @meal_provision_photos, @meal_waste_photos, @updated_at);
	`, surveyParams(row))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return 0, errConflict
		}
		return 0, err
	}
	return result.LastInsertId()
}

func (s *sqliteStore) updateSurvey(ctx context.Context, row survey.Row) error {
	result, err := s.exec(ctx, `
		UPDATE nutrition_survey
		SET surveyor_id = @surveyor_id,
			facility_id = @facility_id,
			meal_portions = @meal_portions,
			plate_waste = @plate_waste,
			waste_ratings = @waste_ratings,
			meal_provision_photos = @meal_provision_photos,
			meal_waste_photos = @meal_waste_photos,
			updated_at = @updated_at
		WHERE elderly_id = @elderly_id;
	`, surveyParams(row))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errNotFound
	}
	return nil
}

func surveyParams(row survey.Row) map[string]any {
	return map[string]any{
		"elderly_id":            row.ElderlyID,
		"surveyor_id":           row.SurveyorID,
		"facility_id":           row.FacilityID,
		"meal_portions":         orEmptyObject(row.MealPortions),
		"plate_waste":           orEmptyObject(row.PlateWaste),
		"waste_ratings":         orEmptyObject(row.WasteRatings),
		"meal_provision_photos": orEmptyObject(row.MealProvisionPhotos),
		"meal_waste_photos":     orEmptyObject(row.MealWastePhotos),
		"updated_at":            row.UpdatedAt,
	}
}

func (s *sqliteStore) getProgress(ctx context.Context, elderlyID string) (progressRecord, error) {
	var p progressRecord
	var completed int64
	err := s.db.QueryRowContext(ctx, `
		SELECT elderly_id, nutrition_survey_completed, last_updated
		FROM survey_progress
		WHERE elderly_id = @elderly_id;
	`, namedArgs(map[string]any{"elderly_id": elderlyID})...).Scan(&p.ElderlyID, &completed, &p.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return progressRecord{}, errNotFound
	}
	if err != nil {
		return progressRecord{}, err
	}
	p.Completed = completed != 0
	return p, nil
}

// updateProgress never inserts; it reports how many rows changed.
func (s *sqliteStore) updateProgress(ctx context.Context, elderlyID string, completed bool, lastUpdated string) (int64, error) {
	result, err := s.exec(ctx, `
		UPDATE survey_progress
		SET nutrition_survey_completed = @completed,
			last_updated = @last_updated
		WHERE elderly_id = @elderly_id;
	`, map[string]any{
		"elderly_id":   elderlyID,
		"completed":    boolToInt(completed),
		"last_updated": lastUpdated,
	})
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *sqliteStore) listSubjects(ctx context.Context) ([]survey.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.elderly_id, s.name, s.facility_id,
			COALESCE(p.nutrition_survey_completed, 0), COALESCE(p.last_updated, '')
		FROM subjects s
		LEFT JOIN survey_progress p ON p.elderly_id = s.elderly_id
		ORDER BY s.facility_id, s.elderly_id;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []survey.Subject{}
	for rows.Next() {
		var subject survey.Subject
		var completed int64
		if err := rows.Scan(&subject.ID, &subject.Name, &subject.FacilityID, &completed, &subject.LastUpdated); err != nil {
			return nil, err
		}
		subject.Completed = completed != 0
		out = append(out, subject)
	}
	return out, rows.Err()
}

func (s *sqliteStore) getSubject(ctx context.Context, elderlyID string) (survey.Subject, error) {
	subjects, err := s.listSubjects(ctx)
	if err != nil {
		return survey.Subject{}, err
	}
	for _, subject := range subjects {
		if subject.ID == elderlyID {
			return subject, nil
		}
	}
	return survey.Subject{}, errNotFound
}

// upsertSubjects adds or renames roster entries and makes sure each has a
// progress row.
func (s *sqliteStore) upsertSubjects(ctx context.Context, subjects []survey.Subject) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, subject := range subjects {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subjects (elderly_id, name, facility_id, created_at)
			VALUES (@elderly_id, @name, @facility_id, @created_at)
			ON CONFLICT(elderly_id) DO UPDATE SET name = excluded.name, facility_id = excluded.facility_id;
		`, namedArgs(map[string]any{
			"elderly_id":  subject.ID,
			"name":        subject.Name,
			"facility_id": subject.FacilityID,
			"created_at":  now,
		})...); err != nil {
			return 0, fmt.Errorf("upsert subject %s: %w", subject.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO survey_progress (elderly_id, nutrition_survey_completed, last_updated)
			VALUES (@elderly_id, 0, '');
		`, namedArgs(map[string]any{"elderly_id": subject.ID})...); err != nil {
			return 0, fmt.Errorf("create progress for %s: %w", subject.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(subjects), nil
}

func (s *sqliteStore) putObject(ctx context.Context, bucket string, obj storedObject) error {
	_, err := s.exec(ctx, `
		INSERT INTO storage_objects (bucket, name, mime, data, created_at)
		VALUES (@bucket, @name, @mime, @data, @created_at)
		ON CONFLICT(bucket, name) DO UPDATE SET mime = excluded.mime, data = excluded.data, created_at = excluded.created_at;
	`, map[string]any{
		"bucket":     bucket,
		"name":       obj.Name,
		"mime":       obj.Mime,
		"data":       obj.Data,
		"created_at": time.Now().Unix(),
	})
	return err
}

func (s *sqliteStore) getObject(ctx context.Context, bucket, name string) (storedObject, error) {
	obj := storedObject{Name: name}
	err := s.db.QueryRowContext(ctx, `
		SELECT mime, data FROM storage_objects WHERE bucket = @bucket AND name = @name;
	`, namedArgs(map[string]any{"bucket": bucket, "name": name})...).Scan(&obj.Mime, &obj.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return storedObject{}, errNotFound
	}
	return obj, err
}

func (s *sqliteStore) deleteObject(ctx context.Context, bucket, name string) error {
	result, err := s.exec(ctx, `DELETE FROM storage_objects WHERE bucket = @bucket AND name = @name;`,
		map[string]any{"bucket": bucket, "name": name})
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errNotFound
	}
	return nil
}

func (s *sqliteStore) exec(ctx context.Context, statement string, params map[string]any) (sql.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	return s.db.ExecContext(runCtx, statement, namedArgs(params)...)
}

func namedArgs(params map[string]any) []any {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		args = append(args, sql.Named(key, params[key]))
	}
	return args
}

func withSQLiteRetry(fn func() error) error {
	const maxAttempts = 3
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		lower := strings.ToLower(err.Error())
		if !strings.Contains(lower, "database is locked") && !strings.Contains(lower, "database is busy") {
			return err
		}
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * 125 * time.Millisecond)
		}
	}
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func orEmptyObject(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "{}"
	}
	return raw
}
