package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// PersonaSpec — persona в плане briefing.
type PersonaSpec struct {
	Key          string `json:"key"`
	Name         string `json:"name,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	MaxAttempts  int    `json:"max_attempts,omitempty"`
	Disabled     bool   `json:"disabled,omitempty"`
}

// BriefingResponse — briefing из API.
type BriefingResponse struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	PlanVersion          int           `json:"plan_version"`
	Personas             []PersonaSpec `json:"personas"`
	RequiredForSynthesis int           `json:"required_for_synthesis"`
	IsActive             bool          `json:"is_active"`
	CreatedAt            string        `json:"created_at"`
	UpdatedAt            string        `json:"updated_at"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID                   string `json:"id"`
	BriefingID           string `json:"briefing_id"`
	PlanVersion          int    `json:"plan_version"`
	Status               string `json:"status"`
	TotalPersonas        int    `json:"total_personas"`
	RequiredForSynthesis int    `json:"required_for_synthesis"`
	Error                string `json:"error,omitempty"`
	StartedAt            string `json:"started_at,omitempty"`
	EndedAt              string `json:"ended_at,omitempty"`
	CreatedAt            string `json:"created_at"`
}

// SubagentResponse — subagent из API.
type SubagentResponse struct {
	ID          string `json:"id"`
	PersonaKey  string `json:"persona_key"`
	Status      string `json:"status"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SynthesisResponse — synthesis из API.
type SynthesisResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RunStatusResponse — агрегированный статус run из API.
type RunStatusResponse struct {
	Run       RunResponse        `json:"run"`
	Subagents []SubagentResponse `json:"subagents"`
	Synthesis SynthesisResponse  `json:"synthesis"`
}

// EventResponse — событие run из API.
type EventResponse struct {
	EventID       string `json:"event_id"`
	RunID         string `json:"run_id"`
	SubagentRunID string `json:"subagent_run_id,omitempty"`
	Type          string `json:"type"`
	Message       string `json:"message,omitempty"`
	OccurredAt    string `json:"occurred_at"`
	SequenceID    int64  `json:"sequence_id"`
}

// EventsPageResponse — страница событий с курсором.
type EventsPageResponse struct {
	Events     []EventResponse `json:"events"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// JobResponse — job из API.
type JobResponse struct {
	ID          string `json:"id"`
	SubjectID   string `json:"subject_id"`
	Queue       string `json:"queue"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// DocumentResponse — документ из API.
type DocumentResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	FetchedAt string `json:"fetched_at"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID          string `json:"id"`
	BriefingID  string `json:"briefing_id"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone"`
	Enabled     bool   `json:"enabled"`
	NextDueAt   string `json:"next_due_at,omitempty"`
	LastRunAt   string `json:"last_run_at,omitempty"`
	LastRunID   string `json:"last_run_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// --- Request types ---

// CreateBriefingRequest — создание briefing.
type CreateBriefingRequest struct {
	Name                 string        `json:"name"`
	Personas             []PersonaSpec `json:"personas"`
	RequiredForSynthesis int           `json:"required_for_synthesis,omitempty"`
}

// UpdateBriefingRequest — обновление briefing.
type UpdateBriefingRequest struct {
	Name                 *string        `json:"name,omitempty"`
	Personas             *[]PersonaSpec `json:"personas,omitempty"`
	RequiredForSynthesis *int           `json:"required_for_synthesis,omitempty"`
	IsActive             *bool          `json:"is_active,omitempty"`
}

// CreateRunRequest — создание run.
type CreateRunRequest struct {
	Trigger string `json:"trigger,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Dossier API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Briefings ---

// ListBriefings возвращает все briefings.
func (c *Client) ListBriefings() ([]BriefingResponse, error) {
	var briefings []BriefingResponse
	err := c.list("/api/v1/briefings", nil, &briefings)
	return briefings, err
}

// CreateBriefing создаёт новый briefing.
func (c *Client) CreateBriefing(req CreateBriefingRequest) (*BriefingResponse, error) {
	var briefing BriefingResponse
	err := c.post("/api/v1/briefings", req, &briefing)
	return &briefing, err
}

// GetBriefing возвращает briefing по ID.
func (c *Client) GetBriefing(id string) (*BriefingResponse, error) {
	var briefing BriefingResponse
	err := c.get("/api/v1/briefings/"+id, &briefing)
	return &briefing, err
}

// UpdateBriefing обновляет briefing.
func (c *Client) UpdateBriefing(id string, req UpdateBriefingRequest) (*BriefingResponse, error) {
	var briefing BriefingResponse
	err := c.put("/api/v1/briefings/"+id, req, &briefing)
	return &briefing, err
}

// ListDocuments возвращает извлечённые документы briefing.
func (c *Client) ListDocuments(briefingID string) ([]DocumentResponse, error) {
	var docs []DocumentResponse
	err := c.list("/api/v1/briefings/"+briefingID+"/documents", nil, &docs)
	return docs, err
}

// AddSource ставит extraction job для источника briefing.
func (c *Client) AddSource(briefingID, sourceURL string) (*JobResponse, error) {
	body := map[string]string{"url": sourceURL}
	var job JobResponse
	err := c.post("/api/v1/briefings/"+briefingID+"/sources", body, &job)
	return &job, err
}

// --- Runs ---

// CreateRun создаёт и одобряет run briefing.
func (c *Client) CreateRun(briefingID string, req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/briefings/"+briefingID+"/runs", req, &run)
	return &run, err
}

// ListRuns возвращает runs briefing.
func (c *Client) ListRuns(briefingID string, limit int) ([]RunResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/briefings/"+briefingID+"/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// GetRunStatus возвращает агрегированный статус run.
func (c *Client) GetRunStatus(id string) (*RunStatusResponse, error) {
	var status RunStatusResponse
	err := c.get("/api/v1/runs/"+id+"/status", &status)
	return &status, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &run)
	return &run, err
}

// ListEvents возвращает страницу событий run после курсора.
func (c *Client) ListEvents(runID, cursor string, limit int) (*EventsPageResponse, error) {
	params := url.Values{}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	path := "/api/v1/runs/" + runID + "/events"
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	var page EventsPageResponse
	err := c.get(path, &page)
	return &page, err
}

// --- Jobs ---

// GetJob возвращает job по очереди и ID.
func (c *Client) GetJob(queue, id string) (*JobResponse, error) {
	var job JobResponse
	err := c.get("/api/v1/jobs/"+queue+"/"+id, &job)
	return &job, err
}

// RetryJob перезапускает FAILED job.
func (c *Client) RetryJob(queue, id string) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/jobs/"+queue+"/"+id+"/retry", nil, &job)
	return &job, err
}

// --- Schedules ---

// CreateSchedule создаёт schedule для briefing.
func (c *Client) CreateSchedule(briefingID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/briefings/"+briefingID+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
