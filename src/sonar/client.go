// Package sonar provides a client for the static-analysis server's web API:
// issue search, per-component duplications and compute-engine activity.
package sonar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"buildreport-agent/src/contracts"
	"buildreport-agent/src/faults"
	"buildreport-agent/src/timefmt"
	"buildreport-agent/src/transport"
)

const defaultPageSize = 500

// Task statuses reported by the compute engine.
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskSuccess    = "SUCCESS"
	TaskFailed     = "FAILED"
	TaskCanceled   = "CANCELED"
)

// Client is an analysis server API client.
type Client struct {
	baseURL  string
	auth     *transport.BasicAuth
	doer     transport.Doer
	pageSize int
}

// NewClient creates a new client. A non-positive pageSize selects the default of 500.
func NewClient(baseURL string, auth *transport.BasicAuth, doer transport.Doer, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		auth:     auth,
		doer:     doer,
		pageSize: pageSize,
	}
}

// IssueQuery selects issues of one project.
type IssueQuery struct {
	ComponentKey string
	Resolved     bool
	CreatedAfter *time.Time
	// SortByUpdate orders results by last update, newest first.
	SortByUpdate bool
}

// Task is one compute-engine analysis task.
type Task struct {
	ID           string
	Type         string
	ComponentKey string
	Status       string
	SubmittedAt  *time.Time
	StartedAt    *time.Time
	ExecutedAt   *time.Time
}

// Finished reports whether the task reached a terminal status.
func (t *Task) Finished() bool {
	switch t.Status {
	case TaskSuccess, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

type issuesResponse struct {
	Total  int        `json:"total"`
	P      int        `json:"p"`
	PS     int        `json:"ps"`
	Paging *apiPaging `json:"paging"`
	Issues []apiIssue `json:"issues"`
}

type apiPaging struct {
	PageIndex int `json:"pageIndex"`
	PageSize  int `json:"pageSize"`
	Total     int `json:"total"`
}

type apiIssue struct {
	Key          string               `json:"key"`
	Rule         string               `json:"rule"`
	Severity     string               `json:"severity"`
	Component    string               `json:"component"`
	Status       string               `json:"status"`
	Resolution   string               `json:"resolution"`
	Message      string               `json:"message"`
	Effort       string               `json:"effort"`
	Debt         string               `json:"debt"`
	CreationDate string               `json:"creationDate"`
	UpdateDate   string               `json:"updateDate"`
	CloseDate    string               `json:"closeDate"`
	TextRange    *contracts.TextRange `json:"textRange"`
}

type duplicationsResponse struct {
	Duplications []struct {
		Blocks []struct {
			From int    `json:"from"`
			Size int    `json:"size"`
			Ref  string `json:"_ref"`
		} `json:"blocks"`
	} `json:"duplications"`
	Files map[string]struct {
		Key  string `json:"key"`
		UUID string `json:"uuid"`
		Name string `json:"name"`
	} `json:"files"`
}

type activityResponse struct {
	Tasks []struct {
		ID           string `json:"id"`
		Type         string `json:"type"`
		ComponentKey string `json:"componentKey"`
		Status       string `json:"status"`
		SubmittedAt  string `json:"submittedAt"`
		StartedAt    string `json:"startedAt"`
		ExecutedAt   string `json:"executedAt"`
	} `json:"tasks"`
}

// SearchIssues returns every issue matching q across all result pages.
func (c *Client) SearchIssues(ctx context.Context, q IssueQuery) ([]contracts.AnalysisIssue, error) {
	raw, err := FetchAll(ctx, func(ctx context.Context, page int) (Page[apiIssue], error) {
		return c.issuePage(ctx, q, page)
	})
	if err != nil {
		return nil, fmt.Errorf("search issues for %s: %w", q.ComponentKey, err)
	}

	issues := make([]contracts.AnalysisIssue, 0, len(raw))
	for i := range raw {
		issue, err := toAnalysisIssue(&raw[i])
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func (c *Client) issuePage(ctx context.Context, q IssueQuery, page int) (Page[apiIssue], error) {
	params := url.Values{}
	params.Set("componentKeys", q.ComponentKey)
	params.Set("resolved", strconv.FormatBool(q.Resolved))
	if q.CreatedAfter != nil {
		params.Set("createdAfter", timefmt.Format(*q.CreatedAfter, timefmt.AnalysisFormat))
	}
	if q.SortByUpdate {
		params.Set("s", "UPDATE_DATE")
		params.Set("asc", "false")
	}
	params.Set("ps", strconv.Itoa(c.pageSize))
	params.Set("p", strconv.Itoa(page))

	var body issuesResponse
	if err := c.getJSON(ctx, c.baseURL+"/api/issues/search?"+params.Encode(), &body); err != nil {
		return Page[apiIssue]{}, err
	}

	total := body.Total
	if body.Paging != nil && body.Paging.Total > total {
		total = body.Paging.Total
	}
	return Page[apiIssue]{Items: body.Issues, Total: total}, nil
}

// Duplications fetches the duplication blocks of one component.
func (c *Client) Duplications(ctx context.Context, componentRef string) (*contracts.DuplicationSet, error) {
	params := url.Values{}
	params.Set("key", componentRef)

	var body duplicationsResponse
	if err := c.getJSON(ctx, c.baseURL+"/api/duplications/show?"+params.Encode(), &body); err != nil {
		return nil, fmt.Errorf("duplications for %s: %w", componentRef, err)
	}

	set := &contracts.DuplicationSet{
		ComponentRef: componentRef,
		Groups:       make([]contracts.DuplicationGroup, 0, len(body.Duplications)),
		Files:        make(map[string]contracts.FileDescriptor, len(body.Files)),
	}
	for _, dup := range body.Duplications {
		group := contracts.DuplicationGroup{Blocks: make([]contracts.Block, 0, len(dup.Blocks))}
		for _, b := range dup.Blocks {
			group.Blocks = append(group.Blocks, contracts.Block{StartLine: b.From, BlockSize: b.Size, FileRef: b.Ref})
		}
		set.Groups = append(set.Groups, group)
	}
	for ref, f := range body.Files {
		set.Files[ref] = contracts.FileDescriptor{Ref: ref, Key: f.Key, UUID: f.UUID, DisplayName: f.Name}
	}
	return set, nil
}

// LatestTask returns the most recent compute-engine task for a project, or nil
// when the server has none on record.
func (c *Client) LatestTask(ctx context.Context, componentKey string) (*Task, error) {
	params := url.Values{}
	params.Set("component", componentKey)
	params.Set("onlyCurrents", "true")

	var body activityResponse
	if err := c.getJSON(ctx, c.baseURL+"/api/ce/activity?"+params.Encode(), &body); err != nil {
		return nil, fmt.Errorf("activity for %s: %w", componentKey, err)
	}
	if len(body.Tasks) == 0 {
		return nil, nil
	}

	raw := body.Tasks[0]
	task := &Task{ID: raw.ID, Type: raw.Type, ComponentKey: raw.ComponentKey, Status: raw.Status}
	var err error
	if task.SubmittedAt, err = optionalTime(raw.SubmittedAt); err != nil {
		return nil, err
	}
	if task.StartedAt, err = optionalTime(raw.StartedAt); err != nil {
		return nil, err
	}
	if task.ExecutedAt, err = optionalTime(raw.ExecutedAt); err != nil {
		return nil, err
	}
	return task, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v interface{}) error {
	resp, err := c.doer.Get(ctx, endpoint, c.auth)
	if err != nil {
		return fmt.Errorf("GET %s: %v: %w", endpoint, err, faults.ErrUpstreamUnavailable)
	}
	if !resp.OK() {
		return fmt.Errorf("GET %s: status %d: %s: %w", endpoint, resp.StatusCode, string(resp.Body), faults.ErrUpstreamUnavailable)
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", endpoint, err, faults.ErrUpstreamUnavailable)
	}
	return nil
}

func toAnalysisIssue(raw *apiIssue) (contracts.AnalysisIssue, error) {
	created, err := timefmt.Parse(raw.CreationDate, timefmt.AnalysisFormat)
	if err != nil {
		return contracts.AnalysisIssue{}, fmt.Errorf("issue %s creationDate: %w", raw.Key, err)
	}
	updated, err := optionalTime(raw.UpdateDate)
	if err != nil {
		return contracts.AnalysisIssue{}, fmt.Errorf("issue %s updateDate: %w", raw.Key, err)
	}
	closed, err := optionalTime(raw.CloseDate)
	if err != nil {
		return contracts.AnalysisIssue{}, fmt.Errorf("issue %s closeDate: %w", raw.Key, err)
	}

	effort := raw.Effort
	if effort == "" {
		effort = raw.Debt
	}

	return contracts.AnalysisIssue{
		Key:             raw.Key,
		RuleID:          raw.Rule,
		Severity:        raw.Severity,
		ComponentRef:    raw.Component,
		Status:          raw.Status,
		Resolution:      raw.Resolution,
		Message:         raw.Message,
		RemainingEffort: effort,
		CreatedAt:       created,
		UpdatedAt:       updated,
		ClosedAt:        closed,
		TextRange:       raw.TextRange,
	}, nil
}

func optionalTime(text string) (*time.Time, error) {
	if text == "" {
		return nil, nil
	}
	t, err := timefmt.Parse(text, timefmt.AnalysisFormat)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
