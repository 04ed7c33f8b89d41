package irrigation

import (
	"context"
)

// Outcome is what the hardware reported for one execution.
type Outcome struct {
	Success         bool
	DeliveredLiters float64
	Reason          string
}

// Actuator drives the irrigation hardware for a programme. A returned error
// means the actuation could not be attempted or its result is unknown.
type Actuator interface {
	Execute(ctx context.Context, p Programme) (Outcome, error)
}

// ActuatorFunc adapts a function to the Actuator interface.
type ActuatorFunc func(ctx context.Context, p Programme) (Outcome, error)

func (f ActuatorFunc) Execute(ctx context.Context, p Programme) (Outcome, error) {
	return f(ctx, p)
}

// PassThroughActuator reports the planned volume as delivered. It is the
// default when no hardware transport is configured.
type PassThroughActuator struct{}

func (PassThroughActuator) Execute(ctx context.Context, p Programme) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	return Outcome{Success: true, DeliveredLiters: p.VolumeLiters, Reason: "pass-through"}, nil
}
