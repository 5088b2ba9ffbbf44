package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/toydogcat/model-server/pkg/types"
)

// client is a thin HTTP client for inferd's admin API. Errors from
// non-2xx responses carry the server's ErrorResponse body when present.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *client) do(method, path string, query url.Values, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, u, reqBody)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr types.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *client) listModels() (types.ListModelsResponse, error) {
	var out types.ListModelsResponse
	err := c.do(http.MethodGet, "/v1/models", nil, nil, &out)
	return out, err
}

func (c *client) getModel(name string) (types.ModelSummary, error) {
	var out types.ModelSummary
	err := c.do(http.MethodGet, "/v1/models/"+url.PathEscape(name), nil, nil, &out)
	return out, err
}

func (c *client) loadVersions(name string, body types.ModelConfigWire) error {
	return c.do(http.MethodPost, "/v1/models/"+url.PathEscape(name)+"/versions", nil, body, nil)
}

func (c *client) reloadVersions(name string, body types.ModelConfigWire) error {
	return c.do(http.MethodPut, "/v1/models/"+url.PathEscape(name)+"/versions", nil, body, nil)
}

func (c *client) retireVersions(name string, versions []int64) error {
	q := url.Values{}
	if len(versions) > 0 {
		strs := make([]string, len(versions))
		for i, v := range versions {
			strs[i] = strconv.FormatInt(v, 10)
		}
		q.Set("versions", strings.Join(strs, ","))
	}
	return c.do(http.MethodDelete, "/v1/models/"+url.PathEscape(name)+"/versions", q, nil, nil)
}

func (c *client) listPipelines() (map[string]any, error) {
	var out map[string]any
	err := c.do(http.MethodGet, "/v1/pipelines", nil, nil, &out)
	return out, err
}

func (c *client) registerPipeline(name string, body types.CreatePipelineRequest) error {
	q := url.Values{"name": []string{name}}
	return c.do(http.MethodPost, "/v1/pipelines", q, body, nil)
}

func (c *client) pipelinePredict(name string, body types.PredictHTTPRequest) (types.PredictHTTPResponse, error) {
	var out types.PredictHTTPResponse
	err := c.do(http.MethodPost, "/v1/pipelines/"+url.PathEscape(name)+"/predict", nil, body, &out)
	return out, err
}
