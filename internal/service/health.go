package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// healthActor attributes health summaries in the audit trail.
const healthActor = "health-check"

// failureRateAlertPct is the emission failure rate over the last hour above
// which the aggregator alerts.
const failureRateAlertPct = 5.0

// zombieVolumeAlert is the zombie count above which the backlog itself
// becomes an alert.
const zombieVolumeAlert = 10

// Alert is one severity-classified finding of the health aggregator.
type Alert struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// HealthReport is the aggregator's output.  The aggregator observes and
// reports; it never mutates session or stock state.
type HealthReport struct {
	CheckedAt           time.Time `json:"checked_at"`
	StuckEmitting       int       `json:"stuck_emitting"`
	EmissionFailureRate float64   `json:"emission_failure_rate_pct"`
	OrphanedReserved    int64     `json:"orphaned_reserved"`
	ZombieCount         int       `json:"zombie_count"`
	CounterMismatches   int       `json:"counter_mismatches"`
	Alerts              []Alert   `json:"alerts"`
}

// Healthy reports whether the check produced no warning or critical alerts.
func (r *HealthReport) Healthy() bool {
	for _, a := range r.Alerts {
		if a.Severity != SeverityInfo {
			return false
		}
	}
	return true
}

// HealthService periodically combines engine-level consistency signals into
// a severity-classified alert list for operators.
type HealthService struct {
	sessions   SessionStore
	items      ItemStore
	stock      StockLedger
	attempts   AttemptStore
	zombies    *ZombieService
	audit      *Auditor
	thresholds ZombieThresholds
	now        func() time.Time
}

// NewHealthService wires the aggregator.
func NewHealthService(sessions SessionStore, items ItemStore, stock StockLedger, attempts AttemptStore, zombies *ZombieService, audit *Auditor, thresholds ZombieThresholds) *HealthService {
	return &HealthService{
		sessions:   sessions,
		items:      items,
		stock:      stock,
		attempts:   attempts,
		zombies:    zombies,
		audit:      audit,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// Check runs all health probes and writes a summary audit event.  Probe
// failures degrade to critical alerts rather than aborting the whole
// check, so a single broken query still yields a usable report.
func (s *HealthService) Check(ctx context.Context) (*HealthReport, error) {
	now := s.now().UTC()
	report := &HealthReport{CheckedAt: now, Alerts: make([]Alert, 0)}

	// Sessions stuck in emitting beyond the sweep threshold.
	stuck, err := s.sessions.CountIdleSince(ctx, model.StatusEmitting, now.Add(-s.thresholds.Emitting))
	if err != nil {
		report.Alerts = append(report.Alerts, Alert{SeverityCritical, "probe_stuck_emitting", err.Error()})
	} else {
		report.StuckEmitting = stuck
		if stuck > 0 {
			report.Alerts = append(report.Alerts, Alert{
				SeverityWarning, "stuck_emitting",
				fmt.Sprintf("%d session(s) stuck in emitting beyond %s", stuck, s.thresholds.Emitting),
			})
		}
	}

	// Emission failure rate over the last hour.
	failed, total, err := s.attempts.FailureRateSince(ctx, now.Add(-time.Hour))
	if err != nil {
		report.Alerts = append(report.Alerts, Alert{SeverityCritical, "probe_failure_rate", err.Error()})
	} else if total > 0 {
		rate := float64(failed) / float64(total) * 100
		report.EmissionFailureRate = rate
		if rate > failureRateAlertPct {
			report.Alerts = append(report.Alerts, Alert{
				SeverityCritical, "emission_failure_rate",
				fmt.Sprintf("%.1f%% of %d emission attempts failed in the last hour", rate, total),
			})
		}
	}

	// Reserved stock no active session accounts for.
	orphaned, err := s.stock.OrphanedReserved(ctx)
	if err != nil {
		report.Alerts = append(report.Alerts, Alert{SeverityCritical, "probe_orphaned_reserved", err.Error()})
	} else {
		report.OrphanedReserved = orphaned
		if orphaned > 0 {
			report.Alerts = append(report.Alerts, Alert{
				SeverityCritical, "orphaned_reserved",
				fmt.Sprintf("%d unit(s) reserved with no active session referencing them", orphaned),
			})
		}
	}

	// Zombie backlog volume.
	candidates, err := s.zombies.DetectZombies(ctx)
	if err != nil {
		report.Alerts = append(report.Alerts, Alert{SeverityCritical, "probe_zombies", err.Error()})
	} else {
		report.ZombieCount = len(candidates)
		if len(candidates) > zombieVolumeAlert {
			report.Alerts = append(report.Alerts, Alert{
				SeverityWarning, "zombie_volume",
				fmt.Sprintf("%d zombie session(s) awaiting recovery", len(candidates)),
			})
		}
	}

	// Counter reconciliation: the cached per-session totals must equal the
	// recomputed sums over item rows.  A mismatch is a consistency bug;
	// it is reported, never auto-fixed.
	active, err := s.sessions.ListActive(ctx)
	if err != nil {
		report.Alerts = append(report.Alerts, Alert{SeverityCritical, "probe_reconciliation", err.Error()})
	} else {
		for _, sess := range active {
			qty, lines, err := s.items.Totals(ctx, sess.ID)
			if err != nil {
				report.Alerts = append(report.Alerts, Alert{SeverityCritical, "probe_reconciliation", err.Error()})
				break
			}
			if qty != sess.TotalQuantity || lines != sess.TotalLines {
				report.CounterMismatches++
				report.Alerts = append(report.Alerts, Alert{
					SeverityCritical, "counter_mismatch",
					fmt.Sprintf("session %s caches qty=%d lines=%d but items sum to qty=%d lines=%d",
						sess.ID, sess.TotalQuantity, sess.TotalLines, qty, lines),
				})
			}
		}
	}

	s.audit.Record(ctx, "", model.EventHealthSummary, "", healthActor,
		fmt.Sprintf(`{"alerts":%d,"stuckEmitting":%d,"failureRatePct":%.1f,"orphanedReserved":%d,"zombies":%d,"counterMismatches":%d}`,
			len(report.Alerts), report.StuckEmitting, report.EmissionFailureRate,
			report.OrphanedReserved, report.ZombieCount, report.CounterMismatches))
	return report, nil
}
