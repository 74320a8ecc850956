package bus

import (
	"context"
	"errors"
	"strconv"

	"livehub/pkg/protocol"
)

// NextID returns a process-unique id for pairing tool or stream events.
func (b *Bus) NextID() string {
	return "e" + strconv.FormatUint(b.seq.Add(1), 10)
}

func (b *Bus) ToolStart(ctx context.Context, id, tool string) error {
	_, err := b.Broadcast(ctx, protocol.NewToolStart(id, tool))
	return err
}

func (b *Bus) ToolComplete(ctx context.Context, id, tool string) error {
	_, err := b.Broadcast(ctx, protocol.NewToolComplete(id, tool))
	return err
}

func (b *Bus) ToolFailed(ctx context.Context, id, tool string, cause error) error {
	_, err := b.Broadcast(ctx, protocol.NewToolFailed(id, tool, cause))
	return err
}

func (b *Bus) Thinking(ctx context.Context, text string) error {
	_, err := b.Broadcast(ctx, protocol.NewAgentThinking(text))
	return err
}

// Tool brackets fn with tool_start and tool_complete or tool_failed and
// returns fn's error.
func (b *Bus) Tool(ctx context.Context, tool string, fn func(context.Context) error) error {
	id := b.NextID()
	if err := b.ToolStart(ctx, id, tool); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		_ = b.ToolFailed(ctx, id, tool, err)
		return err
	}
	return b.ToolComplete(ctx, id, tool)
}

var errStreamClosed = errors.New("bus: stream closed")

// Stream is an outgoing text stream. Each Write is one stream_chunk; Close
// sends stream_end. Not safe for concurrent use.
type Stream struct {
	bus    *Bus
	ctx    context.Context
	id     string
	closed bool
}

// Stream announces a new text stream and returns its writer.
func (b *Bus) Stream(ctx context.Context, messageID, role string) (*Stream, error) {
	if messageID == "" {
		messageID = b.NextID()
	}
	if _, err := b.Broadcast(ctx, protocol.NewStreamStart(messageID, role)); err != nil {
		return nil, err
	}
	return &Stream{bus: b, ctx: ctx, id: messageID}, nil
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errStreamClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := s.bus.Broadcast(s.ctx, protocol.NewStreamChunk(s.id, string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_, err := s.bus.Broadcast(s.ctx, protocol.NewStreamEnd(s.id))
	return err
}
