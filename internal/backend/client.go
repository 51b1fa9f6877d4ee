package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

// RequestIDHeader carries a per-call id for correlating backend logs.
const RequestIDHeader = "X-Request-ID"

// HTTPClient implements Backend over the service's REST API.
type HTTPClient struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
	now     func() time.Time
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithTokenSource sets where the bearer credential comes from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *HTTPClient) {
		c.tokens = ts
	}
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type syllabusResponse struct {
	EnrollmentID     json.RawMessage `json:"enrollment_id"`
	CourseName       string          `json:"course_name"`
	Syllabus         json.RawMessage `json:"syllabus"`
	GeneratedByModel string          `json:"generated_by_model"`
}

func (c *HTTPClient) FetchSyllabus(ctx context.Context, enrollmentID string) (SyllabusResponse, error) {
	var resp syllabusResponse
	if err := c.do(ctx, http.MethodGet, "/enrollments/"+url.PathEscape(enrollmentID)+"/syllabus", nil, &resp); err != nil {
		return SyllabusResponse{}, err
	}

	syllabus, err := curriculum.DecodeSyllabus(resp.Syllabus)
	if err != nil {
		return SyllabusResponse{}, err
	}
	id := rawString(resp.EnrollmentID)
	if id == "" {
		id = enrollmentID
	}
	return SyllabusResponse{
		EnrollmentID:     id,
		CourseName:       resp.CourseName,
		Syllabus:         syllabus,
		GeneratedByModel: resp.GeneratedByModel,
	}, nil
}

type contentResponse struct {
	LessonID json.RawMessage `json:"lesson_id"`
	Content  string          `json:"content"`
}

func (c *HTTPClient) GenerateContent(ctx context.Context, req GenerateContentRequest) (progress.GeneratedContent, error) {
	var resp contentResponse
	if err := c.do(ctx, http.MethodPost, "/lessons/generate", req, &resp); err != nil {
		return progress.GeneratedContent{}, err
	}
	lessonID := rawString(resp.LessonID)
	if lessonID == "" {
		return progress.GeneratedContent{}, fmt.Errorf("generate content: response has no lesson_id")
	}
	return progress.GeneratedContent{
		LessonID:    lessonID,
		Content:     resp.Content,
		GeneratedAt: c.now(),
	}, nil
}

type quizResponse struct {
	Questions []progress.Question `json:"questions"`
}

func (c *HTTPClient) GenerateQuiz(ctx context.Context, req GenerateQuizRequest) (progress.GeneratedQuiz, error) {
	var resp quizResponse
	if err := c.do(ctx, http.MethodPost, "/lessons/"+url.PathEscape(req.LessonID)+"/quiz", req, &resp); err != nil {
		return progress.GeneratedQuiz{}, err
	}
	if len(resp.Questions) == 0 {
		return progress.GeneratedQuiz{}, fmt.Errorf("generate quiz: response has no questions")
	}
	return progress.GeneratedQuiz{Questions: resp.Questions, GeneratedAt: c.now()}, nil
}

type evaluationResponse struct {
	Evaluation struct {
		Score          json.RawMessage `json:"score"`
		ScorePercent   float64         `json:"score_percent"`
		CorrectCount   int             `json:"correct_count"`
		TotalQuestions int             `json:"total_questions"`
		WeakAreas      []string        `json:"weak_areas"`
	} `json:"evaluation"`
}

func (c *HTTPClient) EvaluateQuiz(ctx context.Context, req EvaluateQuizRequest) (progress.QuizResult, error) {
	var resp evaluationResponse
	if err := c.do(ctx, http.MethodPost, "/quizzes/evaluate", req, &resp); err != nil {
		return progress.QuizResult{}, err
	}
	ev := resp.Evaluation
	return progress.QuizResult{
		ScoreLabel:     rawString(ev.Score),
		ScorePercent:   clampPercent(ev.ScorePercent),
		CorrectCount:   ev.CorrectCount,
		TotalQuestions: ev.TotalQuestions,
		WeakAreas:      ev.WeakAreas,
	}, nil
}

type videoResponse struct {
	TaskID json.RawMessage `json:"task_id"`
}

func (c *HTTPClient) GenerateVideo(ctx context.Context, req GenerateVideoRequest) (string, error) {
	var resp videoResponse
	if err := c.do(ctx, http.MethodPost, "/videos", req, &resp); err != nil {
		return "", err
	}
	taskID := rawString(resp.TaskID)
	if taskID == "" {
		return "", fmt.Errorf("generate video: response has no task_id")
	}
	return taskID, nil
}

func (c *HTTPClient) VideoStatus(ctx context.Context, taskID string) (VideoStatus, error) {
	var resp VideoStatus
	if err := c.do(ctx, http.MethodGet, "/videos/"+url.PathEscape(taskID), nil, &resp); err != nil {
		return VideoStatus{}, err
	}
	status, err := ParseVideoStatus(string(resp.Status))
	if err != nil {
		return VideoStatus{}, err
	}
	resp.Status = status
	return resp, nil
}

func (c *HTTPClient) ListResources(ctx context.Context, lessonID string) ([]progress.Resource, error) {
	var resources []progress.Resource
	if err := c.do(ctx, http.MethodGet, "/lessons/"+url.PathEscape(lessonID)+"/resources", nil, &resources); err != nil {
		return nil, err
	}
	for i := range resources {
		if resources[i].LessonID == "" {
			resources[i].LessonID = lessonID
		}
	}
	return resources, nil
}

func (c *HTTPClient) CreateNote(ctx context.Context, req CreateNoteRequest) (progress.Resource, error) {
	var res progress.Resource
	if err := c.do(ctx, http.MethodPost, "/resources/notes", req, &res); err != nil {
		return progress.Resource{}, err
	}
	if res.LessonID == "" {
		res.LessonID = req.LessonID
	}
	if res.Type == "" {
		res.Type = progress.ResourceNotes
	}
	return res, nil
}

type remediationResponse struct {
	Notes []progress.RemediationNote `json:"remediation_notes"`
}

func (c *HTTPClient) GenerateRemediation(ctx context.Context, req RemediationRequest) ([]progress.RemediationNote, error) {
	var resp remediationResponse
	if err := c.do(ctx, http.MethodPost, "/remediation", req, &resp); err != nil {
		return nil, err
	}
	return resp.Notes, nil
}

// HealthCheck verifies the service answers at all. Any HTTP response counts.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend health check: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// ParseVideoStatus normalizes a status string reported by the service.
func ParseVideoStatus(s string) (progress.VideoStatus, error) {
	switch v := progress.VideoStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case progress.VideoPending, progress.VideoProcessing, progress.VideoCompleted, progress.VideoFailed:
		return v, nil
	default:
		return "", fmt.Errorf("unknown video status %q", s)
	}
}

// clampPercent bounds p to 0..100 and rounds down.
func clampPercent(p float64) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return int(math.Floor(p))
	}
}
