package domain

import "time"

type SessionPhase string

const (
	PhaseIdle        SessionPhase = "IDLE"
	PhaseScanning    SessionPhase = "SCANNING"
	PhaseTrading     SessionPhase = "TRADING"
	PhaseLiquidating SessionPhase = "LIQUIDATING"
	PhaseClosed      SessionPhase = "CLOSED"
)

// SessionState is the per-market daily state owned by the scheduler.
// All flags roll over when a new session starts.
type SessionState struct {
	Phase                 SessionPhase
	LastScanAt            time.Time
	LastRiskCheckAt       time.Time
	LastOrderCleanupAt    time.Time
	LastLiquidationTryAt  time.Time
	LiquidationConfirmed  bool
	LiquidationIncomplete bool
	OvernightReviewed     bool
	ReportSent            bool

	// CircuitBreakerTripped latches when the gateway reports a holiday or
	// market-closed signature; it stays set for the rest of the session.
	CircuitBreakerTripped bool
}
