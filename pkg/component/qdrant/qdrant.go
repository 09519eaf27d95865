// Package qdrant connects to Qdrant over gRPC.
package qdrant

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"
	"github.com/qdrant/go-client/qdrant"

	qdrantopts "github.com/kart-io/sentinel-rag/pkg/options/qdrant"
)

// Client wraps the Qdrant gRPC client together with its options.
type Client struct {
	*qdrant.Client
	opts *qdrantopts.Options
}

// New dials Qdrant and checks it answers a health check.
func New(ctx context.Context, opts *qdrantopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("qdrant options is nil")
	}

	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	client := &Client{Client: c, opts: opts}
	if err := client.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return client, nil
}

// Ping runs a health check bounded by the configured timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	reply, err := c.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("qdrant health check failed at %s:%d: %w", c.opts.Host, c.opts.Port, err)
	}
	logger.Infow("connected to qdrant", "host", c.opts.Host, "port", c.opts.Port, "version", reply.GetVersion())
	return nil
}
