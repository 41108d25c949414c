package compartment

import (
	"go.uber.org/zap"

	"smartlocker/internal/logger"
)

// SafetyPolicy gates every motion command. Motion is allowed only while the
// safety sensor is asserted and no motor fault is present. The bypass is a
// configuration value so that disabling the interlock is always a visible,
// logged decision, never a build variant.
type SafetyPolicy struct {
	bypass bool
}

// NewSafetyPolicy builds the policy. Enabling the bypass is logged loudly.
func NewSafetyPolicy(bypass bool) *SafetyPolicy {
	if bypass {
		logger.Warn("safety interlock bypass ENABLED by configuration",
			zap.Bool("safety_bypass", true))
	}
	return &SafetyPolicy{bypass: bypass}
}

// Check returns ErrSafetyRejected when the interlock refuses motion.
func (p *SafetyPolicy) Check(s Sensors) error {
	if p.bypass {
		logger.Debug("safety interlock bypassed for motion command")
		return nil
	}
	if !s.SafetyOK || s.MotorFault {
		return ErrSafetyRejected
	}
	return nil
}
