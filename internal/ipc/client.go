package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
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

// Start requests the daemon to begin processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Shelf.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Shelf.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Shelf.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordList returns the library records.
func (c *Client) RecordList() (*RecordListResponse, error) {
	var resp RecordListResponse
	if err := c.client.Call("Shelf.RecordList", RecordListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordAdd inserts a single record.
func (c *Client) RecordAdd(req RecordAddRequest) (*RecordAddResponse, error) {
	var resp RecordAddResponse
	if err := c.client.Call("Shelf.RecordAdd", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordRemove deletes a record by id.
func (c *Client) RecordRemove(id int64) (*RecordRemoveResponse, error) {
	var resp RecordRemoveResponse
	if err := c.client.Call("Shelf.RecordRemove", RecordRemoveRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Import loads records from a CSV file readable by the daemon.
func (c *Client) Import(path string) (*ImportResponse, error) {
	var resp ImportResponse
	if err := c.client.Call("Shelf.Import", ImportRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Enqueue queues records for enrichment.
func (c *Client) Enqueue(ids []int64, note string) (*EnqueueResponse, error) {
	var resp EnqueueResponse
	if err := c.client.Call("Shelf.Enqueue", EnqueueRequest{IDs: ids, Note: note}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns jobs, filtered by batch or statuses.
func (c *Client) JobList(req JobListRequest) (*JobListResponse, error) {
	var resp JobListResponse
	if err := c.client.Call("Shelf.JobList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchProgress returns per-status counts for a batch.
func (c *Client) BatchProgress(batchID string) (*BatchProgressResponse, error) {
	var resp BatchProgressResponse
	if err := c.client.Call("Shelf.BatchProgress", BatchProgressRequest{BatchID: batchID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels a batch's remaining jobs.
func (c *Client) Cancel(batchID string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.client.Call("Shelf.Cancel", CancelRequest{BatchID: batchID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Retry retries failed and review jobs.
func (c *Client) Retry(ids []int64) (*RetryResponse, error) {
	var resp RetryResponse
	if err := c.client.Call("Shelf.Retry", RetryRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reset returns in-flight jobs to pending.
func (c *Client) Reset() (*ResetResponse, error) {
	var resp ResetResponse
	if err := c.client.Call("Shelf.Reset", ResetRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearFinished removes finished jobs.
func (c *Client) ClearFinished() (*ClearFinishedResponse, error) {
	var resp ClearFinishedResponse
	if err := c.client.Call("Shelf.ClearFinished", ClearFinishedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Shelf.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProgressTail returns progress events after a cursor.
func (c *Client) ProgressTail(req ProgressTailRequest) (*ProgressTailResponse, error) {
	var resp ProgressTailResponse
	if err := c.client.Call("Shelf.ProgressTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Shelf.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
