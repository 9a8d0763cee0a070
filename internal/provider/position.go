package provider

import (
	"context"
	"errors"

	"guardian-angel/internal/geo"
)

// ErrPermissionDenied is returned by position sources the user has not
// authorised.
var ErrPermissionDenied = errors.New("location permission denied")

// PositionSource yields position updates until ctx is done or the source
// closes the channel.
type PositionSource interface {
	Subscribe(ctx context.Context) (<-chan geo.Coordinate, error)
}

// ChannelSource relays coordinates pushed by the host (an HTTP handler,
// a device bridge or a test).
type ChannelSource struct {
	updates chan geo.Coordinate
}

func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{updates: make(chan geo.Coordinate, buffer)}
}

// Push queues an update, blocking until there is room or ctx is done.
func (s *ChannelSource) Push(ctx context.Context, c geo.Coordinate) error {
	select {
	case s.updates <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream.
func (s *ChannelSource) Close() {
	close(s.updates)
}

func (s *ChannelSource) Subscribe(ctx context.Context) (<-chan geo.Coordinate, error) {
	out := make(chan geo.Coordinate)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-s.updates:
				if !ok {
					return
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// FallbackSource wraps a source and, when subscribing fails (for example the
// permission was denied), yields a single fallback coordinate instead.
type FallbackSource struct {
	Source   PositionSource
	Fallback geo.Coordinate
	OnError  func(error)
}

func (s FallbackSource) Subscribe(ctx context.Context) (<-chan geo.Coordinate, error) {
	ch, err := s.Source.Subscribe(ctx)
	if err == nil {
		return ch, nil
	}
	if s.OnError != nil {
		s.OnError(err)
	}

	out := make(chan geo.Coordinate, 1)
	out <- s.Fallback
	close(out)
	return out, nil
}
