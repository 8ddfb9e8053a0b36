// Package client is a small fasthttp client for the engine's REST surface,
// used by the CLI.
package client

import (
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/vidinsight-labs/Axion/internal/codec"
	"github.com/vidinsight-labs/Axion/pkg/types"
)

// Client talks to a running axion server.
type Client struct {
	baseURL string
	hc      *fasthttp.Client
}

// New creates a client for baseURL (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		hc: &fasthttp.Client{
			ReadTimeout:  90 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// SubmitTask posts a task and returns its id.
func (c *Client) SubmitTask(env *types.TaskEnvelope) (string, error) {
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := c.post("/api/v1/tasks", env, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

// GetResult fetches the result of a task, waiting server-side up to
// timeout.
func (c *Client) GetResult(taskID string, timeout time.Duration) (*types.Result, error) {
	var env types.ResultEnvelope
	uri := fmt.Sprintf("/api/v1/tasks/%s/result?timeout=%s", taskID, timeout)
	if err := c.get(uri, &env); err != nil {
		return nil, err
	}
	return types.ResultFromEnvelope(&env), nil
}

// Status fetches the aggregated system status.
func (c *Client) Status() (*types.SystemStatus, error) {
	var status types.SystemStatus
	if err := c.get("/api/v1/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Health fetches the condensed health view.
func (c *Client) Health() (*types.SystemHealth, error) {
	var health types.SystemHealth
	if err := c.get("/api/v1/healthz", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *Client) post(path string, body any, out any) error {
	payload, err := codec.Marshal(body)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	if err := c.hc.Do(req, resp); err != nil {
		return err
	}
	return c.decode(resp, out)
}

func (c *Client) get(path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := c.hc.Do(req, resp); err != nil {
		return err
	}
	return c.decode(resp, out)
}

func (c *Client) decode(resp *fasthttp.Response, out any) error {
	if resp.StatusCode() >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := codec.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server error %d [%s]: %s", resp.StatusCode(), apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("server error %d", resp.StatusCode())
	}
	if out == nil {
		return nil
	}
	return codec.Unmarshal(resp.Body(), out)
}
