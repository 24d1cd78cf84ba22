package workflow

import (
	"math"
	"time"

	"rota/internal/domain"
)

// DefaultWarnDays is the inclusive upper bound of the yellow zone.
const DefaultWarnDays = 5

// TrafficLight classifies a process's urgency from whichever deadline clock is
// active. Closed processes are gray. While the process is in pendencia the
// applicant deadline drives the light and the agency deadline is ignored;
// otherwise the agency deadline drives it. No deadline means green.
//
// Callers must re-evaluate on every display refresh; the result depends on
// now and is never cached on the record.
func TrafficLight(p domain.Process, now time.Time) domain.Light {
	return TrafficLightWarn(p, now, DefaultWarnDays)
}

// TrafficLightWarn is TrafficLight with a configurable yellow threshold. The
// boundary is inclusive: exactly warnDays remaining is still yellow.
func TrafficLightWarn(p domain.Process, now time.Time, warnDays int) domain.Light {
	if p.Status.Terminal() {
		return domain.LightGray
	}
	target := p.AgencyDeadline
	if p.Status == domain.StatusPendencia {
		target = p.ApplicantDeadline
	}
	if target == nil {
		return domain.LightGreen
	}
	deadline, err := time.Parse(DateFormat, *target)
	if err != nil {
		return domain.LightGreen
	}
	days := daysUntil(deadline, now)
	switch {
	case days < 0:
		return domain.LightRed
	case days <= warnDays:
		return domain.LightYellow
	default:
		return domain.LightGreen
	}
}

// DaysRemaining returns the whole days left on the active deadline, rounding
// partial days up, and false when no clock is active.
func DaysRemaining(p domain.Process, now time.Time) (int, bool) {
	if p.Status.Terminal() {
		return 0, false
	}
	target := p.AgencyDeadline
	if p.Status == domain.StatusPendencia {
		target = p.ApplicantDeadline
	}
	if target == nil {
		return 0, false
	}
	deadline, err := time.Parse(DateFormat, *target)
	if err != nil {
		return 0, false
	}
	return daysUntil(deadline, now), true
}

func daysUntil(deadline, now time.Time) int {
	return int(math.Ceil(deadline.Sub(now).Hours() / 24))
}
