package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the time source for window and period calculations.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// New returns a clock backed by time.Now in UTC.
func New() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(New),
)
