package observability

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects Prometheus metrics from engine lifecycle events.
type Metrics struct {
	phaseTransitions *prometheus.CounterVec
	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	stepRetries      *prometheus.CounterVec
	rollbacksTotal   *prometheus.CounterVec
}

// NewMetrics creates the metric set and registers it with reg. Pass
// prometheus.DefaultRegisterer to expose via the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		phaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espalier_phase_transitions_total",
				Help: "Total number of plan status transitions",
			},
			[]string{"from", "to"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espalier_steps_total",
				Help: "Total number of step completions by status",
			},
			[]string{"skill", "action", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "espalier_step_duration_seconds",
				Help: "Duration of step handler executions",
			},
			[]string{"skill", "action"},
		),
		stepRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espalier_step_retries_total",
				Help: "Total number of step retry attempts",
			},
			[]string{"skill", "action"},
		),
		rollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espalier_rollback_steps_total",
				Help: "Total number of compensation attempts by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.phaseTransitions,
		m.stepsTotal,
		m.stepDuration,
		m.stepRetries,
		m.rollbacksTotal,
	)
	return m
}

// StepsTotal exposes the step completion counter.
func (m *Metrics) StepsTotal() *prometheus.CounterVec { return m.stepsTotal }

// StepRetries exposes the retry counter.
func (m *Metrics) StepRetries() *prometheus.CounterVec { return m.stepRetries }

// Hooks returns lifecycle hooks that feed these metrics.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnPhaseChange: func(ctx context.Context, e *domain.PhaseEvent) {
			m.phaseTransitions.WithLabelValues(string(e.From), string(e.To)).Inc()
		},
		OnStepFinish: func(ctx context.Context, e *domain.StepEvent) {
			m.stepsTotal.WithLabelValues(e.Skill, e.Action, string(e.Status)).Inc()
			m.stepDuration.WithLabelValues(e.Skill, e.Action).Observe(e.Duration.Seconds())
			if e.Attempt > 1 {
				m.stepRetries.WithLabelValues(e.Skill, e.Action).Add(float64(e.Attempt - 1))
			}
		},
		OnRollbackStep: func(ctx context.Context, e *domain.RollbackEvent) {
			m.rollbacksTotal.WithLabelValues(string(e.Outcome)).Inc()
		},
	}
}

// MergeHooks chains hook sets so metrics and host callbacks can coexist.
// Hooks fire in argument order.
func MergeHooks(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var merged domain.LifecycleHooks
	for _, h := range sets {
		if h.OnPhaseChange != nil {
			prev := merged.OnPhaseChange
			merged.OnPhaseChange = func(ctx context.Context, e *domain.PhaseEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnPhaseChange(ctx, e)
			}
		}
		if h.OnStepStart != nil {
			prev := merged.OnStepStart
			merged.OnStepStart = func(ctx context.Context, e *domain.StepEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnStepStart(ctx, e)
			}
		}
		if h.OnStepFinish != nil {
			prev := merged.OnStepFinish
			merged.OnStepFinish = func(ctx context.Context, e *domain.StepEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnStepFinish(ctx, e)
			}
		}
		if h.OnRollbackStep != nil {
			prev := merged.OnRollbackStep
			merged.OnRollbackStep = func(ctx context.Context, e *domain.RollbackEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnRollbackStep(ctx, e)
			}
		}
	}
	return merged
}
