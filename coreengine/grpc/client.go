package grpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/typeutil"
)

// Client calls a remote OrchestrationService.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client for target. Without opts the connection is
// plaintext and traced with otelgrpc.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("create grpc client: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run executes a request remotely.
func (c *Client) Run(ctx context.Context, req RunRequest) (*RunResponse, error) {
	in, err := req.ToStruct()
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, RunMethod, in, out); err != nil {
		return nil, err
	}
	return RunResponseFromStruct(out)
}

// ExportGraph returns the remote pipeline graph in mermaid form.
func (c *Client) ExportGraph(ctx context.Context) (string, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, ExportGraphMethod, &structpb.Struct{}, out); err != nil {
		return "", err
	}
	mermaid, _ := typeutil.String(out.AsMap(), "mermaid")
	return mermaid, nil
}
