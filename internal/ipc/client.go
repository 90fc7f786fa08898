package ipc

import (
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// DialTimeout bounds how long a client waits for the daemon socket.
const DialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	return DialContext(context.Background(), path)
}

// DialContext connects to the IPC server, giving up after DialTimeout or
// when ctx ends.
func DialContext(ctx context.Context, path string) (*Client, error) {
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	call := c.client.Go(ServiceName+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return done.Error
	}
}

// Dispatch hands a task to the daemon.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	var resp DispatchResponse
	if err := c.call(ctx, "Dispatch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Poll long-polls envelopes for the requested owners.
func (c *Client) Poll(ctx context.Context, req PollRequest) (*PollResponse, error) {
	var resp PollResponse
	if err := c.call(ctx, "Poll", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Focus asks the owner's page to come to the front.
func (c *Client) Focus(ownerID string) (*FocusResponse, error) {
	var resp FocusResponse
	if err := c.client.Call(ServiceName+".Focus", FocusRequest{OwnerID: ownerID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call(ServiceName+".Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing and exit.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call(ServiceName+".Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call(ServiceName+".TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
