// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/VNOI-Admin/remotectl/lib/netutil"
	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

// requestTimeout bounds ordinary API calls. Watch streams are exempt:
// they stay open until cancelled.
const requestTimeout = 30 * time.Second

// Client talks to the remotectl server API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// do sends one JSON request and decodes the response into out (when
// non-nil). Server error bodies become plain errors.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		return serverError(response)
	}
	if out != nil {
		if err := netutil.DecodeResponse(response.Body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// serverError extracts the error message from an API error body.
func serverError(response *http.Response) error {
	data, err := netutil.ReadResponse(response.Body)
	if err == nil {
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			return fmt.Errorf("server: %s", body.Error)
		}
	}
	return fmt.Errorf("server: status %d", response.StatusCode)
}

func (c *Client) CreateScript(ctx context.Context, request remote.CreateScriptRequest) (*remote.Script, error) {
	var script remote.Script
	if err := c.do(ctx, http.MethodPost, "/v1/scripts", request, &script); err != nil {
		return nil, err
	}
	return &script, nil
}

func (c *Client) GetScript(ctx context.Context, name string) (*remote.Script, error) {
	var script remote.Script
	if err := c.do(ctx, http.MethodGet, "/v1/scripts/"+url.PathEscape(name), nil, &script); err != nil {
		return nil, err
	}
	return &script, nil
}

func (c *Client) UpdateScript(ctx context.Context, name, content string) (*remote.Script, error) {
	var script remote.Script
	err := c.do(ctx, http.MethodPatch, "/v1/scripts/"+url.PathEscape(name),
		remote.UpdateScriptRequest{Content: content}, &script)
	if err != nil {
		return nil, err
	}
	return &script, nil
}

func (c *Client) DeleteScript(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/scripts/"+url.PathEscape(name), nil, nil)
}

func (c *Client) ListScripts(ctx context.Context) (*remote.ScriptList, error) {
	var list remote.ScriptList
	if err := c.do(ctx, http.MethodGet, "/v1/scripts", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) CreateJob(ctx context.Context, request remote.CreateJobRequest) (*remote.Job, error) {
	var job remote.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", request, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobListOptions are the query filters for ListJobs. Zero values are
// omitted.
type JobListOptions struct {
	ScriptName string
	CreatedBy  string
	From       string // RFC 3339
	To         string // RFC 3339
	RunStatus  string
	Limit      int
	Offset     int
}

func (c *Client) ListJobs(ctx context.Context, options JobListOptions) (*remote.JobList, error) {
	query := url.Values{}
	if options.ScriptName != "" {
		query.Set("script_name", options.ScriptName)
	}
	if options.CreatedBy != "" {
		query.Set("created_by", options.CreatedBy)
	}
	if options.From != "" {
		query.Set("from", options.From)
	}
	if options.To != "" {
		query.Set("to", options.To)
	}
	if options.RunStatus != "" {
		query.Set("run_status", options.RunStatus)
	}
	if options.Limit > 0 {
		query.Set("limit", strconv.Itoa(options.Limit))
	}
	if options.Offset > 0 {
		query.Set("offset", strconv.Itoa(options.Offset))
	}

	path := "/v1/jobs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var list remote.JobList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*remote.Job, error) {
	var job remote.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) ListRuns(ctx context.Context, jobID, status string) (*remote.RunList, error) {
	path := "/v1/jobs/" + url.PathEscape(jobID) + "/runs"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var list remote.RunList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) CancelJob(ctx context.Context, jobID string, targets []string) (*remote.CancelResponse, error) {
	var response remote.CancelResponse
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/cancel",
		remote.CancelRequest{Targets: targets}, &response)
	if err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) RefreshJob(ctx context.Context, jobID string, request remote.RefreshRequest) (*remote.RefreshResponse, error) {
	var response remote.RefreshResponse
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/refresh", request, &response)
	if err != nil {
		return nil, err
	}
	return &response, nil
}

// WatchJob subscribes to a job's event stream and calls fn for every
// run update until the stream ends or ctx is cancelled.
func (c *Client) WatchJob(ctx context.Context, jobID string, fn func(remote.RunEvent) error) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/jobs/"+url.PathEscape(jobID)+"/events", nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")

	// No client timeout: the stream lives until cancelled.
	streamClient := &http.Client{}
	response, err := streamClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return serverError(response)
	}

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventName == "run.updated" && data.Len() > 0 {
				var event remote.RunEvent
				if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
					return fmt.Errorf("decoding event: %w", err)
				}
				if err := fn(event); err != nil {
					return err
				}
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
		// Comment lines (heartbeats) fall through untouched.
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
