package sim

import (
	"time"

	"orbfall/server/internal/authority"
	"orbfall/server/internal/session"
	"orbfall/server/internal/state"
	"orbfall/server/internal/telemetry"
)

// TickContext carries the timing data for one deterministic step.
type TickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// Policy is an external authority-transfer heuristic invoked during the
// policy stage of each tick. Policies decide when authority moves; the
// registry only executes and publishes the decision.
type Policy interface {
	Apply(ctx TickContext, world *session.Session)
}

// PolicyFunc adapts plain functions into the Policy interface.
type PolicyFunc func(ctx TickContext, world *session.Session)

func (f PolicyFunc) Apply(ctx TickContext, world *session.Session) {
	if f != nil {
		f(ctx, world)
	}
}

// EngineConfig tunes the gameplay shell around the authority pipeline.
type EngineConfig struct {
	WorldWidth       float64
	WorldHeight      float64
	MoveSpeed        float64
	SpawnX           float64
	SpawnY           float64
	HeartbeatTimeout time.Duration
}

// StepResult summarizes one completed tick for downstream broadcast.
type StepResult struct {
	Tick           uint64
	Now            time.Time
	Delta          float64
	Duration       time.Duration
	Snapshot       session.Snapshot
	RemovedPeers   []state.PeerID
	SpawnedAvatars []state.ObjectID
}

// Engine runs the ordered tick pipeline over one session: intake and input
// application, policy, authority transfers, control-assignment bookkeeping,
// then disconnect cascade. Stages never interleave; everything runs on the
// loop goroutine.
type Engine struct {
	world    *session.Session
	buffer   *CommandBuffer
	policies []Policy
	cfg      EngineConfig
	logger   telemetry.Logger
	metrics  telemetry.Metrics

	tintPalette []string
	tintCursor  int

	// staged within the current tick, drained by their stage
	pendingControl     []Command
	pendingDisconnects []Command
}

// NewEngine wires the pipeline around a session.
func NewEngine(world *session.Session, cfg EngineConfig, buffer *CommandBuffer, logger telemetry.Logger, metrics telemetry.Metrics) *Engine {
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if cfg.MoveSpeed <= 0 {
		cfg.MoveSpeed = 160
	}
	if cfg.WorldWidth <= 0 {
		cfg.WorldWidth = 800
	}
	if cfg.WorldHeight <= 0 {
		cfg.WorldHeight = 600
	}
	return &Engine{
		world:       world,
		buffer:      buffer,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		tintPalette: []string{"#4cc9f0", "#f72585", "#b5e48c", "#ffd166", "#9d4edd", "#ff6b6b"},
	}
}

// World exposes the session for queries outside tick boundaries.
func (e *Engine) World() *session.Session { return e.world }

// AddPolicy registers an authority-transfer heuristic.
func (e *Engine) AddPolicy(policy Policy) {
	if policy != nil {
		e.policies = append(e.policies, policy)
	}
}

// Enqueue stages a command for the next tick. Safe for concurrent callers.
func (e *Engine) Enqueue(cmd Command) bool {
	return e.buffer.Push(cmd)
}

// Step executes one tick: (a) drain staged events and apply inputs,
// (b) run transfer policies, (c) apply control-assignment bookkeeping,
// (d) cascade disconnects. The cascade runs last so observers of the raw
// disconnect signal act before controlled objects vanish, and nothing a
// disconnected peer controlled survives into the next tick.
func (e *Engine) Step(ctx TickContext) StepResult {
	result := StepResult{Tick: ctx.Tick, Now: ctx.Now, Delta: ctx.Delta}

	e.intake(ctx, &result)
	e.integrateMovement(ctx)

	for _, policy := range e.policies {
		policy.Apply(ctx, e.world)
	}

	for _, cmd := range e.pendingControl {
		if cmd.SetControl == nil {
			continue
		}
		if !e.world.SetControlledBy(ctx.Tick, cmd.SetControl.Object, cmd.SetControl.Target) {
			e.logf("set-control ignored for unknown object %s", cmd.SetControl.Object)
		}
	}
	e.pendingControl = e.pendingControl[:0]

	e.cascade(ctx, &result)

	e.metrics.Add(telemetry.MetricTickCount, 1)
	result.Snapshot = e.world.Snapshot(ctx.Tick)
	return result
}

func (e *Engine) intake(ctx TickContext, result *StepResult) {
	for _, cmd := range e.buffer.Drain() {
		switch cmd.Type {
		case CommandConnect:
			e.handleConnect(ctx, cmd, result)
		case CommandDisconnect:
			e.pendingDisconnects = append(e.pendingDisconnects, cmd)
		case CommandMove:
			if cmd.Move == nil {
				continue
			}
			if !e.world.SetIntent(cmd.Peer, cmd.Move.DX, cmd.Move.DY) {
				e.logf("input ignored for unknown peer %s", cmd.Peer)
			}
		case CommandHeartbeat:
			at := ctx.Now
			if cmd.Heartbeat != nil && !cmd.Heartbeat.ReceivedAt.IsZero() {
				at = cmd.Heartbeat.ReceivedAt
			}
			e.world.Heartbeat(cmd.Peer, at)
		case CommandSetControl:
			e.pendingControl = append(e.pendingControl, cmd)
		default:
			e.logf("unknown command type %q from %s", cmd.Type, cmd.Peer)
		}
	}
}

func (e *Engine) handleConnect(ctx TickContext, cmd Command, result *StepResult) {
	connectionID := noConnectionFilter
	if cmd.Connect != nil {
		connectionID = cmd.Connect.ConnectionID
	}
	if _, created := e.world.Connect(ctx.Tick, cmd.Peer, connectionID); !created {
		// Reconnect over a fresh socket: adopt the new connection id so the
		// old socket's close cannot tear the live session down.
		if connectionID != noConnectionFilter {
			e.world.RefreshConnection(cmd.Peer, connectionID)
		}
		return
	}
	avatar := spawnAvatar(ctx.Tick, e.world, cmd.Peer, state.Position{X: e.cfg.SpawnX, Y: e.cfg.SpawnY}, e.nextTint())
	e.world.BindAvatar(cmd.Peer, avatar)
	result.SpawnedAvatars = append(result.SpawnedAvatars, avatar)
}

func (e *Engine) nextTint() string {
	tint := e.tintPalette[e.tintCursor%len(e.tintPalette)]
	e.tintCursor++
	return tint
}

// integrateMovement applies avatar intents and drifts server-owned objects
// by their velocity, bouncing off the world bounds.
func (e *Engine) integrateMovement(ctx TickContext) {
	dt := ctx.Delta
	if dt <= 0 {
		return
	}
	for _, peer := range e.world.Roster() {
		dx, dy, ok := e.world.Intent(peer)
		if !ok || (dx == 0 && dy == 0) {
			continue
		}
		avatar, bound := e.world.AvatarOf(peer)
		if !bound {
			continue
		}
		e.world.WithObject(avatar, func(record *session.ObjectRecord) {
			record.Position.X = clamp(record.Position.X+dx*e.cfg.MoveSpeed*dt, 0, e.cfg.WorldWidth)
			record.Position.Y = clamp(record.Position.Y+dy*e.cfg.MoveSpeed*dt, 0, e.cfg.WorldHeight)
		})
	}

	owners := e.world.Authority().Snapshot()
	e.world.EachObject(func(record *session.ObjectRecord) {
		if record.Velocity.X == 0 && record.Velocity.Y == 0 {
			return
		}
		if owner, ok := owners[record.ID]; !ok || owner.Kind() != authority.OwnerServer {
			// A peer-authored object integrates on the owning peer; the
			// server only replays its updates.
			return
		}
		record.Position.X += record.Velocity.X * dt
		record.Position.Y += record.Velocity.Y * dt
		if record.Position.X < 0 || record.Position.X > e.cfg.WorldWidth {
			record.Velocity.X = -record.Velocity.X
			record.Position.X = clamp(record.Position.X, 0, e.cfg.WorldWidth)
		}
		if record.Position.Y < 0 || record.Position.Y > e.cfg.WorldHeight {
			record.Velocity.Y = -record.Velocity.Y
			record.Position.Y = clamp(record.Position.Y, 0, e.cfg.WorldHeight)
		}
	})
}

func (e *Engine) cascade(ctx TickContext, result *StepResult) {
	if e.cfg.HeartbeatTimeout > 0 {
		for _, peer := range e.world.StalePeers(ctx.Now, e.cfg.HeartbeatTimeout) {
			e.logf("disconnecting %s due to heartbeat timeout", peer)
			if _, ok := e.world.Disconnect(ctx.Tick, peer, noConnectionFilter, "heartbeat_timeout"); ok {
				result.RemovedPeers = append(result.RemovedPeers, peer)
			}
		}
	}
	for _, cmd := range e.pendingDisconnects {
		connectionID := noConnectionFilter
		reason := "transport_closed"
		if cmd.Disconnect != nil {
			connectionID = cmd.Disconnect.ConnectionID
			if cmd.Disconnect.Reason != "" {
				reason = cmd.Disconnect.Reason
			}
		}
		if _, ok := e.world.Disconnect(ctx.Tick, cmd.Peer, connectionID, reason); ok {
			result.RemovedPeers = append(result.RemovedPeers, cmd.Peer)
		}
	}
	e.pendingDisconnects = e.pendingDisconnects[:0]
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
