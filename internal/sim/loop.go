package sim

import (
	"time"

	"orbfall/server/internal/telemetry"
	"orbfall/server/logging"
)

// LoopConfig tunes the fixed-timestep runner.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
}

// LoopHooks let the embedding layer observe the loop without owning it.
type LoopHooks struct {
	AfterStep func(StepResult)
}

// Loop drives the engine at a fixed tick rate. All pipeline stages run on
// the loop goroutine; the transport only stages commands.
type Loop struct {
	engine  *Engine
	hooks   LoopHooks
	config  LoopConfig
	clock   logging.Clock
	metrics telemetry.Metrics
	tick    uint64
}

// NewLoop wraps the engine with a fixed-timestep runner.
func NewLoop(engine *Engine, cfg LoopConfig, hooks LoopHooks, clock logging.Clock, metrics telemetry.Metrics) *Loop {
	if engine == nil {
		return nil
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Loop{
		engine:  engine,
		hooks:   hooks,
		config:  cfg,
		clock:   clock,
		metrics: metrics,
	}
}

// Engine exposes the wrapped engine.
func (l *Loop) Engine() *Engine {
	if l == nil {
		return nil
	}
	return l.engine
}

// Advance executes a single tick immediately. Tests drive the pipeline
// through this instead of the wall-clock runner.
func (l *Loop) Advance(now time.Time, dt float64) StepResult {
	if l == nil {
		return StepResult{}
	}
	l.tick++
	start := l.clock.Now()
	result := l.engine.Step(TickContext{Tick: l.tick, Now: now, Delta: dt})
	result.Duration = l.clock.Now().Sub(start)
	l.metrics.Store(telemetry.MetricTickDurationMicros, uint64(result.Duration.Microseconds()))
	if l.hooks.AfterStep != nil {
		l.hooks.AfterStep(result)
	}
	return result
}

// Run drives the fixed-timestep loop until the stop channel closes.
func (l *Loop) Run(stop <-chan struct{}) {
	if l == nil {
		return
	}
	tickRate := l.config.TickRate
	if tickRate <= 0 {
		tickRate = 15
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	last := l.clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := l.clock.Now()
			dt := now.Sub(last).Seconds()
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
			}
			last = now
			l.Advance(now, dt)
		}
	}
}
