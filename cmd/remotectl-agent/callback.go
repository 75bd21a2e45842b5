// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/VNOI-Admin/remotectl/lib/netutil"
	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

// callbackTimeout bounds a status push to the server. A slow server
// must not stall the runner's completion goroutine.
const callbackTimeout = 5 * time.Second

// CallbackClient pushes status updates to the server callback URL
// carried in each run request.
type CallbackClient struct {
	client *http.Client
}

// NewCallbackClient returns a client for status pushes.
func NewCallbackClient() *CallbackClient {
	return &CallbackClient{
		client: &http.Client{Timeout: callbackTimeout},
	}
}

// Push posts one status update for a job.
func (c *CallbackClient) Push(callbackURL, jobID string, update remote.AgentStatusUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}

	url := callbackURL + "/agent/jobs/" + jobID + "/updates"
	response, err := c.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("server: status %d: %s",
			response.StatusCode, netutil.ErrorBody(response.Body))
	}
	return nil
}
