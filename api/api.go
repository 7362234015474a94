// Package api provides a client to the sge-autoscaler agent HTTP API.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
)

// Client provides a client to the autoscaler agent API.
type Client struct {
	config Config
}

// Config is the config used to embed into the API client.
type Config struct {
	// Address is the address of the autoscaler agent.
	Address string

	// HTTPClient is the client to use. A default one is built when unset.
	HTTPClient *http.Client
}

// NewClient returns a client to the agent listening at the given address.
func NewClient(address string) (*Client, error) {
	if _, err := url.Parse(address); err != nil {
		return nil, fmt.Errorf("invalid agent address %q: %v", address, err)
	}
	return &Client{config: Config{
		Address:    address,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}}, nil
}

// Status queries the agent status endpoint.
func (c *Client) Status() (*structs.StatusResponse, error) {
	var status structs.StatusResponse
	if err := c.query("/v1/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Workers queries the agent worker records endpoint.
func (c *Client) Workers() (*structs.WorkersResponse, error) {
	var workers structs.WorkersResponse
	if err := c.query("/v1/status/workers", &workers); err != nil {
		return nil, err
	}
	return &workers, nil
}

func (c *Client) query(endpoint string, out interface{}) error {
	resp, err := c.config.HTTPClient.Get(c.config.Address + endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var buf bytes.Buffer
		io.Copy(&buf, resp.Body)
		return fmt.Errorf("unexpected response code: %d (%s)",
			resp.StatusCode, buf.Bytes())
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
