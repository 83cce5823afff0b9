package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client dials the daemon's control socket.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

// Create starts a create run.
func (c *Client) Create(req CreateRequest) (*PipelineResponse, error) {
	var resp PipelineResponse
	if err := c.call("Create", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Amend starts an amend run.
func (c *Client) Amend(req AmendRequest) (*PipelineResponse, error) {
	var resp PipelineResponse
	if err := c.call("Amend", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Merge starts a merge run.
func (c *Client) Merge(req MergeRequest) (*PipelineResponse, error) {
	var resp PipelineResponse
	if err := c.call("Merge", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify starts a standalone verification run.
func (c *Client) Verify(req VerifyRequest) (*PipelineResponse, error) {
	var resp PipelineResponse
	if err := c.call("Verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Confirm approves the review gate a run is parked at.
func (c *Client) Confirm(req ConfirmRequest) (*PipelineResponse, error) {
	var resp PipelineResponse
	if err := c.call("Confirm", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel aborts a run.
func (c *Client) Cancel(req CancelRequest) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.call("Cancel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
