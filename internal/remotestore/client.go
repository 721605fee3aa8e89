package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phillip-england/nutrisurvey/internal/survey"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Client talks to the store API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type progressRequest struct {
	Completed   bool   `json:"nutrition_survey_completed"`
	LastUpdated string `json:"last_updated"`
}

type progressResponse struct {
	Updated int64 `json:"updated"`
}

type uploadResponse struct {
	Name      string `json:"name"`
	PublicURL string `json:"publicUrl"`
}

type subjectsResponse struct {
	Subjects []survey.Subject `json:"subjects"`
}

type surveysResponse struct {
	Surveys []survey.Row `json:"surveys"`
}

type importResponse struct {
	Imported int `json:"imported"`
}

func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) FetchSurvey(ctx context.Context, subjectID string) (survey.Record, bool, error) {
	var row survey.Row
	err := c.doJSON(ctx, http.MethodGet, "/api/surveys/"+url.PathEscape(subjectID), nil, &row)
	if errors.Is(err, ErrNotFound) {
		return survey.Record{}, false, nil
	}
	if err != nil {
		return survey.Record{}, false, fmt.Errorf("fetch survey %s: %w", subjectID, err)
	}
	record, decodeErr := survey.DecodeRecord(row)
	if decodeErr != nil {
		c.logger.Warn("malformed survey mapping treated as empty", zap.String("subject", subjectID), zap.Error(decodeErr))
	}
	return record, true, nil
}

func (c *Client) ListSurveys(ctx context.Context) ([]survey.Row, error) {
	var payload surveysResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/surveys", nil, &payload); err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	return payload.Surveys, nil
}

func (c *Client) InsertSurvey(ctx context.Context, record survey.Record) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/surveys/"+url.PathEscape(record.SubjectID), survey.EncodeRecord(record), nil); err != nil {
		return fmt.Errorf("insert survey %s: %w", record.SubjectID, err)
	}
	return nil
}

func (c *Client) UpdateSurvey(ctx context.Context, record survey.Record) error {
	if err := c.doJSON(ctx, http.MethodPut, "/api/surveys/"+url.PathEscape(record.SubjectID), survey.EncodeRecord(record), nil); err != nil {
		return fmt.Errorf("update survey %s: %w", record.SubjectID, err)
	}
	return nil
}

// MarkSurveyCompleted only updates an existing progress row. A subject
// without one is logged and otherwise ignored.
func (c *Client) MarkSurveyCompleted(ctx context.Context, subjectID, updatedAt string) error {
	var payload progressResponse
	body := progressRequest{Completed: true, LastUpdated: updatedAt}
	if err := c.doJSON(ctx, http.MethodPatch, "/api/progress/"+url.PathEscape(subjectID), body, &payload); err != nil {
		return fmt.Errorf("update progress %s: %w", subjectID, err)
	}
	if payload.Updated == 0 {
		c.logger.Warn("no progress row for subject", zap.String("subject", subjectID))
	}
	return nil
}

func (c *Client) UploadPhoto(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("prepare upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("prepare upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.storageURL(name), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var payload uploadResponse
	if err := c.do(req, &payload); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if strings.TrimSpace(payload.PublicURL) == "" {
		return "", fmt.Errorf("upload %s: store returned no public url", name)
	}
	return payload.PublicURL, nil
}

func (c *Client) DeletePhoto(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.storageURL(name), nil)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (c *Client) ListSubjects(ctx context.Context) ([]survey.Subject, error) {
	var payload subjectsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/subjects", nil, &payload); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return payload.Subjects, nil
}

func (c *Client) ImportRoster(ctx context.Context, filename string, data []byte) (int, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("roster_file", filename)
	if err != nil {
		return 0, fmt.Errorf("prepare roster upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return 0, fmt.Errorf("prepare roster upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("finalize roster upload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/subjects/import", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var payload importResponse
	if err := c.do(req, &payload); err != nil {
		return 0, fmt.Errorf("import roster: %w", err)
	}
	return payload.Imported, nil
}

// Report returns the spreadsheet export for a subject.
func (c *Client) Report(ctx context.Context, subjectID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/surveys/"+url.PathEscape(subjectID)+"/report.xlsx", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store unavailable: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) storageURL(name string) string {
	return c.baseURL + "/api/storage/" + survey.Bucket + "/" + url.PathEscape(name)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, respBody)
	}
	if err != nil {
		return fmt.Errorf("read store response: %w", err)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode store response: %w", err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	msg := http.StatusText(status)
	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload["error"]) != "" {
		msg = payload["error"]
	}
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	default:
		return errors.New(msg)
	}
}
