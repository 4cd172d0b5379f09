package sender

import (
	"time"

	"go.uber.org/zap"
)

// Policy decides when the orchestrator should skip a cycle or keep the
// network up between cycles.
type Policy interface {
	// SkipCycle reports whether the send cycle at now should be skipped
	// (sampling continues regardless).
	SkipCycle(now time.Time) bool
	// StayConnected suppresses the disconnect-for-power-saving step.
	StayConnected() bool
}

// AlwaysOn never skips and never disconnects.
type AlwaysOn struct{}

func (AlwaysOn) SkipCycle(time.Time) bool { return false }
func (AlwaysOn) StayConnected() bool      { return true }

// Continuous never skips a cycle; whether the link is dropped between
// cycles follows configuration.
type Continuous struct {
	Stay bool
}

func (c Continuous) SkipCycle(time.Time) bool { return false }
func (c Continuous) StayConnected() bool      { return c.Stay }

// NightPolicy skips send cycles during configured local quiet hours. A
// window like 22..4 wraps midnight.
type NightPolicy struct {
	startHour int
	endHour   int
	loc       *time.Location
	stay      bool
	log       *zap.Logger
}

// NewNightPolicy creates a policy for quiet hours in the given IANA zone.
func NewNightPolicy(startHour, endHour int, timezone string, stayConnected bool, log *zap.Logger) (*NightPolicy, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NightPolicy{
		startHour: startHour,
		endHour:   endHour,
		loc:       loc,
		stay:      stayConnected,
		log:       log,
	}, nil
}

func (p *NightPolicy) SkipCycle(now time.Time) bool {
	hour := now.In(p.loc).Hour()
	var night bool
	if p.startHour > p.endHour {
		night = hour >= p.startHour || hour < p.endHour
	} else {
		night = hour >= p.startHour && hour < p.endHour
	}
	if night {
		p.log.Debug("quiet hours, skipping send cycle",
			zap.Int("hour", hour),
			zap.Int("start", p.startHour),
			zap.Int("end", p.endHour))
	}
	return night
}

func (p *NightPolicy) StayConnected() bool { return p.stay }
