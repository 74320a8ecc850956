package client

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"livehub/pkg/protocol"
)

// Events subscribes to an event bus socket and hands every decoded event to
// fn until ctx ends or the connection drops. Undecodable messages are skipped.
func Events(ctx context.Context, dialer *websocket.Dialer, url string, fn func(protocol.BusEvent)) error {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		ev, err := protocol.DecodeBus(data)
		if err != nil {
			continue
		}
		fn(ev)
	}
}
