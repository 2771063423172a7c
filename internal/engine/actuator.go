package engine

import "context"

// ActuatorStatus reports the media surface's readiness and position.
type ActuatorStatus struct {
	Loaded     bool
	PositionMS int64
}

// PlaybackActuator is the controllable media surface the engine drives. The
// engine issues commands and reads positions; it never implements playback
// itself. Implementations may block on the underlying player and must honour
// context cancellation.
type PlaybackActuator interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionMS int64) error
	Position(ctx context.Context) (int64, error)
	Status(ctx context.Context) (ActuatorStatus, error)
}
