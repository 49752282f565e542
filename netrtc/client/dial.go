package client

import (
	"context"
	"fmt"
	"net"
)

// Dial connects to a networked policy server at addr and returns a Client
// ready for the handshake (spec §4.7 "Handshake").
func Dial(ctx context.Context, addr string, cfg Config) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return New(conn, cfg), nil
}
