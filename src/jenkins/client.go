// Package jenkins provides a client for reading build metadata from the CI server's JSON API.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"buildreport-agent/src/contracts"
	"buildreport-agent/src/faults"
	"buildreport-agent/src/timefmt"
	"buildreport-agent/src/transport"
)

// Client is a Jenkins JSON API client.
type Client struct {
	baseURL string
	auth    *transport.BasicAuth
	doer    transport.Doer
}

// apiBuild is the subset of {build}/api/json the report needs.
type apiBuild struct {
	ID         string         `json:"id"`
	Number     int            `json:"number"`
	Result     string         `json:"result"`
	Timestamp  int64          `json:"timestamp"` // epoch millis
	Culprits   []apiUser      `json:"culprits"`
	ChangeSet  *apiChangeSet  `json:"changeSet"`
	ChangeSets []apiChangeSet `json:"changeSets"` // pipeline jobs report one entry per checkout
}

type apiChangeSet struct {
	Kind  string    `json:"kind"`
	Items []apiItem `json:"items"`
}

type apiItem struct {
	CommitID string  `json:"commitId"`
	Msg      string  `json:"msg"`
	Date     string  `json:"date"`
	Author   apiUser `json:"author"`
}

type apiUser struct {
	AbsoluteURL string `json:"absoluteUrl"`
	FullName    string `json:"fullName"`
}

// NewClient creates a client for the CI server at baseURL. Credentials are optional.
func NewClient(baseURL string, auth *transport.BasicAuth, doer transport.Doer) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		doer:    doer,
	}
}

// BuildURL joins the CI base URL and a build's project path into its JSON API URL.
// projectPath is the build-relative path the CI server reports, e.g. "job/demo/42/".
func BuildURL(baseURL, projectPath string) (string, error) {
	if strings.TrimSpace(baseURL) == "" {
		return "", faults.ErrCIBaseURLMissing
	}
	base := strings.TrimSuffix(baseURL, "/") + "/"
	path := strings.TrimPrefix(projectPath, "/")
	if path != "" && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return base + path + "api/json", nil
}

// GetBuild fetches a build and its changeset.
func (c *Client) GetBuild(ctx context.Context, projectPath string) (*contracts.BuildEvent, error) {
	url, err := BuildURL(c.baseURL, projectPath)
	if err != nil {
		return nil, err
	}

	resp, err := c.doer.Get(ctx, url, c.auth)
	if err != nil {
		return nil, fmt.Errorf("fetch build %s: %v: %w", url, err, faults.ErrUpstreamUnavailable)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch build %s: status %d: %s: %w", url, resp.StatusCode, string(resp.Body), faults.ErrUpstreamUnavailable)
	}

	var build apiBuild
	if err := json.Unmarshal(resp.Body, &build); err != nil {
		return nil, fmt.Errorf("decode build %s: %v: %w", url, err, faults.ErrUpstreamUnavailable)
	}

	return toBuildEvent(&build)
}

func toBuildEvent(build *apiBuild) (*contracts.BuildEvent, error) {
	sets := build.ChangeSets
	if build.ChangeSet != nil {
		sets = append([]apiChangeSet{*build.ChangeSet}, sets...)
	}

	event := &contracts.BuildEvent{
		ID:            build.ID,
		Number:        build.Number,
		Result:        build.Result,
		StartedAt:     time.UnixMilli(build.Timestamp),
		ChangesetKind: timefmt.ChangesetNone,
		Commits:       []contracts.Commit{},
	}
	for _, culprit := range build.Culprits {
		event.Culprits = append(event.Culprits, culprit.FullName)
	}

	for _, set := range sets {
		kind, err := timefmt.ParseChangesetKind(set.Kind)
		if err != nil {
			return nil, err
		}
		if kind == timefmt.ChangesetNone {
			continue
		}
		if event.ChangesetKind != timefmt.ChangesetNone && event.ChangesetKind != kind {
			return nil, fmt.Errorf("build %s mixes %s and %s changesets: %w", build.ID, event.ChangesetKind, kind, faults.ErrIntegrationNotFound)
		}
		event.ChangesetKind = kind

		for _, item := range set.Items {
			committedAt, err := timefmt.ParseCommit(item.Date, kind)
			if err != nil {
				return nil, fmt.Errorf("commit %s: %w", item.CommitID, err)
			}
			event.Commits = append(event.Commits, contracts.Commit{
				CommitID:    item.CommitID,
				Message:     item.Msg,
				AuthorName:  item.Author.FullName,
				AuthorURL:   item.Author.AbsoluteURL,
				CommittedAt: committedAt,
			})
		}
	}

	return event, nil
}
