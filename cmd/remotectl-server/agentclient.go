// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/VNOI-Admin/remotectl/lib/netutil"
	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

// agentRequestTimeout bounds every HTTP request to an agent. Agents
// answer from an in-memory run table, so anything slower than this is
// a dead machine, and dispatch and refresh must not hang on it.
const agentRequestTimeout = 5 * time.Second

// AgentClient talks to the agent HTTP API on targets. Error text is
// preserved verbatim where it ends up in run logs and cancel messages.
type AgentClient struct {
	agentPort int
	client    *http.Client
}

// NewAgentClient returns a client that reaches agents on the given
// port.
func NewAgentClient(agentPort int) *AgentClient {
	return &AgentClient{
		agentPort: agentPort,
		client: &http.Client{
			Timeout: agentRequestTimeout,
		},
	}
}

func (c *AgentClient) baseURL(addr string) string {
	return "http://" + addr + ":" + strconv.Itoa(c.agentPort)
}

// Run asks the agent to start executing a job.
func (c *AgentClient) Run(ctx context.Context, addr string, request remote.AgentRunRequest) error {
	return c.post(ctx, addr, "/jobs/"+request.JobID+"/run", request, nil)
}

// Cancel asks the agent to kill a job's process group.
func (c *AgentClient) Cancel(ctx context.Context, addr, jobID string) error {
	return c.post(ctx, addr, "/jobs/"+jobID+"/cancel", nil, nil)
}

// Report asks the agent to re-push its current status for a job to
// the server callback.
func (c *AgentClient) Report(ctx context.Context, addr, jobID string, includeLog bool) error {
	return c.post(ctx, addr, "/jobs/"+jobID+"/report", remote.AgentReportRequest{IncludeLog: includeLog}, nil)
}

// Status pulls the agent's current view of a job.
func (c *AgentClient) Status(ctx context.Context, addr, jobID string, includeLog bool) (*remote.AgentStatusReport, error) {
	url := c.baseURL(addr) + "/jobs/" + jobID
	if includeLog {
		url += "?include_log=true"
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", addr, err)
	}
	response, err := c.client.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", addr, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent %s: status %d: %s",
			addr, response.StatusCode, netutil.ErrorBody(response.Body))
	}

	var report remote.AgentStatusReport
	if err := netutil.DecodeResponse(response.Body, &report); err != nil {
		return nil, fmt.Errorf("agent %s: %w", addr, err)
	}
	return &report, nil
}

// post sends a JSON POST and optionally decodes the response into out.
func (c *AgentClient) post(ctx context.Context, addr, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("agent %s: encode request: %w", addr, err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(addr)+path, reader)
	if err != nil {
		return fmt.Errorf("agent %s: %w", addr, err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := c.client.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("agent %s: %w", addr, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusAccepted {
		return fmt.Errorf("agent %s: status %d: %s",
			addr, response.StatusCode, netutil.ErrorBody(response.Body))
	}
	if out != nil {
		if err := netutil.DecodeResponse(response.Body, out); err != nil {
			return fmt.Errorf("agent %s: %w", addr, err)
		}
	}
	return nil
}
