package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/kyaro/vps-broker/internal/models"
)

// WorkerClient hands provisioning jobs to remote workers over HTTP.
// A single client is safe for concurrent use; it owns the outbound
// connection pool and holds no per-session state.
type WorkerClient struct {
	callbackBase  string
	dispatchToken string
	httpClient    *http.Client
	healthClient  *http.Client
}

// NewWorkerClient creates a worker client. requestTimeout bounds the whole
// dispatch call, connectTimeout just the TCP handshake.
func NewWorkerClient(callbackBase, dispatchToken string, requestTimeout, connectTimeout, healthTimeout time.Duration) *WorkerClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
	}
	return &WorkerClient{
		callbackBase:  trimSlash(callbackBase),
		dispatchToken: dispatchToken,
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
		healthClient: &http.Client{
			Timeout:   healthTimeout,
			Transport: transport,
		},
	}
}

// callbackURLs derives the three callback endpoints from the configured base.
func (c *WorkerClient) callbackURLs() models.JobCallbackURLs {
	return models.JobCallbackURLs{
		Status:    c.callbackBase + "/workers/callback/status",
		Checklist: c.callbackBase + "/workers/callback/checklist",
		Result:    c.callbackBase + "/workers/callback/result",
	}
}

// DispatchJob POSTs the job to the worker. Any transport error or non-2xx
// response is returned as an error; the caller must not leave the session
// in provisioning state in that case.
func (c *WorkerClient) DispatchJob(ctx context.Context, baseURL string, job *models.JobCreateRequest) error {
	job.CallbackURLs = c.callbackURLs()

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	url := trimSlash(baseURL) + "/job/create"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.dispatchToken)

	log.Printf("[WorkerClient] Dispatching job session=%s worker=%s", job.SessionID, job.WorkerID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("worker returned status %d: %s", resp.StatusCode, string(respBody))
	}

	log.Printf("[WorkerClient] Job accepted session=%s", job.SessionID)
	return nil
}

// Health probes {base}/health; any non-2xx or transport failure is an error.
func (c *WorkerClient) Health(ctx context.Context, baseURL string) error {
	url := trimSlash(baseURL) + "/health"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.healthClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func trimSlash(url string) string {
	for len(url) > 0 && url[len(url)-1] == '/' {
		url = url[:len(url)-1]
	}
	return url
}
