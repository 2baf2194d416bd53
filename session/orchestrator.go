// Package session implements the durable per-session orchestration core:
// one cooperative actor per session id, driving a checkpointed step
// sequence that can suspend indefinitely on typed interrupts and stream
// progress events to observers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/scoutflow/scoutflow/broker"
	"github.com/scoutflow/scoutflow/checkpoint"
	"github.com/scoutflow/scoutflow/internal/metrics"
	"github.com/scoutflow/scoutflow/task"
	"github.com/scoutflow/scoutflow/tool"
	"github.com/scoutflow/scoutflow/types"
)

const (
	defaultMailboxSize       = 32
	defaultQuietPeriod       = 2 * time.Minute
	defaultMaxEditIterations = 5
	defaultHeartbeatInterval = 15 * time.Second
)

// errActorGone tells Send the actor terminated before accepting the
// signal; Send transparently retries against a fresh actor.
var errActorGone = errors.New("session actor terminated")

// ErrManagerClosed is returned by Send after Close.
var ErrManagerClosed = errors.New("session manager closed")

// Options configures a Manager.
type Options struct {
	// Steps is the step sequence every run of a session executes.
	Steps []Step

	// Checkpoints persists instance snapshots. Required.
	Checkpoints checkpoint.Store

	// Broker fans out progress events. Required.
	Broker broker.Broker

	// Registry classifies and resolves tools. Required.
	Registry *tool.Registry

	// Tasks invokes steps and tool fan-outs. Required.
	Tasks *task.Executor

	// Archive receives session-buffer bulk flushes. Optional; without it
	// the inactivity flush only clears the in-memory buffer.
	Archive Archiver

	// External collaborators, all optional.
	Model    ModelTask
	Evidence EvidenceRetriever
	Entities EntityWriter

	// Metrics records orchestration instrumentation. Optional.
	Metrics *metrics.Collector

	// Logger defaults to a nop logger.
	Logger *zap.Logger

	// MailboxSize is the per-actor signal queue capacity (default 32).
	MailboxSize int

	// QuietPeriod is the idle duration after which an input-waiting actor
	// bulk-persists its buffer and terminates (default 2m).
	QuietPeriod time.Duration

	// MaxEditIterations bounds approve/reject/edit cycles per step and
	// interrupt kind (default 5).
	MaxEditIterations int

	// HeartbeatInterval paces keepalive events on idle running or
	// approval-waiting sessions (default 15s).
	HeartbeatInterval time.Duration
}

// Manager owns the session actors. All signals enter through Send, which
// serializes them per session id; across sessions, actors run fully in
// parallel with no shared mutable state beyond the checkpoint store and
// the broker.
type Manager struct {
	steps    []Step
	store    checkpoint.Store
	broker   broker.Broker
	registry *tool.Registry
	tasks    *task.Executor
	archive  Archiver
	model    ModelTask
	evidence EvidenceRetriever
	entities EntityWriter
	metrics  *metrics.Collector
	logger   *zap.Logger

	mailboxSize       int
	quietPeriod       time.Duration
	maxEditIterations int
	heartbeatInterval time.Duration

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
}

// NewManager validates the options and creates a Manager with no live
// actors; actors spawn on the first signal for their session id.
func NewManager(opts Options) (*Manager, error) {
	if len(opts.Steps) == 0 {
		return nil, fmt.Errorf("session: at least one step is required")
	}
	if opts.Checkpoints == nil {
		return nil, fmt.Errorf("session: checkpoint store is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("session: broker is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("session: tool registry is required")
	}
	if opts.Tasks == nil {
		return nil, fmt.Errorf("session: task executor is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = defaultQuietPeriod
	}
	if opts.MaxEditIterations <= 0 {
		opts.MaxEditIterations = defaultMaxEditIterations
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}

	return &Manager{
		steps:             opts.Steps,
		store:             opts.Checkpoints,
		broker:            opts.Broker,
		registry:          opts.Registry,
		tasks:             opts.Tasks,
		archive:           opts.Archive,
		model:             opts.Model,
		evidence:          opts.Evidence,
		entities:          opts.Entities,
		metrics:           opts.Metrics,
		logger:            logger.With(zap.String("component", "session_manager")),
		mailboxSize:       opts.MailboxSize,
		quietPeriod:       opts.QuietPeriod,
		maxEditIterations: opts.MaxEditIterations,
		heartbeatInterval: opts.HeartbeatInterval,
		actors:            make(map[string]*actor),
	}, nil
}

// Send delivers a signal to the session, creating or recreating its actor
// as needed. Send returns once the signal is fully handled: a NewMessage
// returns after the run completes, suspends, or fails; an invalid Resume
// returns its rejection synchronously.
func (m *Manager) Send(ctx context.Context, sessionID string, sig Signal) error {
	if sessionID == "" {
		return fmt.Errorf("session: empty session id")
	}
	for {
		a, err := m.actorFor(sessionID)
		if err != nil {
			return err
		}
		if c, ok := sig.(Cancel); ok {
			// Cancellation is cooperative: flag first so a run in flight
			// sees it between steps, then deliver for the idle cases.
			a.storeCancelReason(c.Reason)
			a.cancelled.Store(true)
		}
		err = a.deliver(ctx, sig)
		if errors.Is(err, errActorGone) {
			continue
		}
		if err != nil {
			if _, ok := sig.(Cancel); ok {
				// The cancel envelope never reached the actor; clear the
				// flag so it cannot abort a later unrelated run.
				a.cancelled.Store(false)
			}
		}
		return err
	}
}

// Status answers the reconnect status query: the current lifecycle state
// of a session, from the live actor when one exists, else from the latest
// checkpoint.
func (m *Manager) Status(ctx context.Context, sessionID string) (Status, error) {
	m.mu.Lock()
	a, live := m.actors[sessionID]
	m.mu.Unlock()
	if live {
		return a.snapshot(), nil
	}

	cp, err := m.store.Latest(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	inst, err := restoreInstance(sessionID, cp.State)
	if err != nil {
		return Status{}, fmt.Errorf("restore instance: %w", err)
	}
	st := Status{
		SessionID:      sessionID,
		Lifecycle:      inst.Lifecycle,
		StepIndex:      inst.StepIndex,
		LastActivityAt: inst.LastActivityAt,
	}
	if inst.Blob.Pending != nil {
		st.PendingKind = inst.Blob.Pending.Kind
	}
	return st, nil
}

// Close stops all actors. In-flight signals finish; subsequent Sends fail
// with ErrManagerClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	actors := make([]*actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	for _, a := range actors {
		a.stop()
	}
	for _, a := range actors {
		<-a.done
	}
	return nil
}

func (m *Manager) actorFor(sessionID string) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if a, ok := m.actors[sessionID]; ok {
		return a, nil
	}
	a := newActor(m, sessionID)
	m.actors[sessionID] = a
	go a.loop()
	return a, nil
}

// remove drops the actor from the routing map; called by the actor itself
// on termination.
func (m *Manager) remove(a *actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.actors[a.id]; ok && current == a {
		delete(m.actors, a.id)
	}
}

type envelope struct {
	signal Signal
	reply  chan error
}

// actor is the single-writer owner of one session's instance. Its mailbox
// serializes signals; nothing else ever touches the instance.
type actor struct {
	id      string
	mgr     *Manager
	logger  *zap.Logger
	mailbox chan envelope
	stopCh  chan struct{}
	done    chan struct{}

	// cancelled is set out-of-band by Send so a running step sequence can
	// observe it between steps.
	cancelled    atomic.Bool
	cancelReason atomic.Value

	// seq hands out event sequence numbers; synced with the blob at
	// checkpoint boundaries.
	seq atomic.Uint64

	// pubMu keeps sequence assignment and broker publish atomic so the
	// heartbeat goroutine cannot reorder events.
	pubMu sync.Mutex

	// statusMu guards the snapshot read by Status and the heartbeat loop.
	statusMu    sync.Mutex
	stLifecycle Lifecycle
	stStepIndex int
	stPending   InterruptKind
	stActivity  time.Time
	lastEventAt time.Time

	// inst is owned by the actor goroutine exclusively.
	inst   *Instance
	buffer *Buffer
}

func newActor(m *Manager, sessionID string) *actor {
	return &actor{
		id:      sessionID,
		mgr:     m,
		logger:  m.logger.With(zap.String("session_id", sessionID)),
		mailbox: make(chan envelope, m.mailboxSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		buffer:  NewBuffer(),
	}
}

func (a *actor) storeCancelReason(reason string) {
	a.cancelReason.Store(reason)
}

func (a *actor) loadCancelReason() string {
	if v := a.cancelReason.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// deliver enqueues a signal and waits for its handling result.
func (a *actor) deliver(ctx context.Context, sig Signal) error {
	env := envelope{signal: sig, reply: make(chan error, 1)}
	select {
	case a.mailbox <- env:
	case <-a.done:
		return errActorGone
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-env.reply:
		return err
	case <-a.done:
		// The actor exited; it either handled the envelope or drained it
		// with errActorGone. Either way the reply is buffered.
		select {
		case err := <-env.reply:
			return err
		default:
			return errActorGone
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *actor) stop() {
	close(a.stopCh)
}

// loop is the actor goroutine: restore, recover an interrupted run, then
// drain the mailbox until the quiet period or a shutdown terminates it.
func (a *actor) loop() {
	defer close(a.done)
	defer a.mgr.remove(a)
	defer a.drainMailbox()

	a.mgr.metrics.SessionStarted()
	defer a.mgr.metrics.SessionStopped()

	ctx := context.Background()
	if err := a.restore(ctx); err != nil {
		a.logger.Error("restore failed", zap.Error(err))
		return
	}

	heartbeatDone := make(chan struct{})
	go a.heartbeatLoop(heartbeatDone)
	defer close(heartbeatDone)

	// Crash recovery: a checkpoint left in Running means the process died
	// mid-run after a step boundary; continue from that boundary before
	// accepting new signals.
	if a.inst.Lifecycle == LifecycleRunning {
		a.logger.Info("recovering interrupted run",
			zap.Int("step_index", a.inst.StepIndex),
		)
		if err := a.runSteps(ctx); err != nil {
			a.logger.Warn("recovered run failed", zap.Error(err))
		}
	}

	quiet := time.NewTimer(a.mgr.quietPeriod)
	defer quiet.Stop()

	for {
		select {
		case env := <-a.mailbox:
			err := a.handle(ctx, env.signal)
			env.reply <- err
			if a.inst.Lifecycle == LifecycleTerminated {
				return
			}
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(a.mgr.quietPeriod)
		case <-quiet.C:
			if a.inst.Lifecycle == LifecycleWaitingForInput || a.inst.Lifecycle == LifecycleInitialized {
				a.bulkPersist(ctx)
				return
			}
			quiet.Reset(a.mgr.quietPeriod)
		case <-a.stopCh:
			return
		}
	}
}

// drainMailbox bounces queued envelopes back to their senders, who retry
// against a fresh actor.
func (a *actor) drainMailbox() {
	for {
		select {
		case env := <-a.mailbox:
			env.reply <- errActorGone
		default:
			return
		}
	}
}

// restore loads the latest checkpoint, or initializes a fresh instance
// when none exists.
func (a *actor) restore(ctx context.Context) error {
	cp, err := a.mgr.store.Latest(ctx, a.id)
	if errors.Is(err, checkpoint.ErrNotFound) {
		a.inst = newInstance(a.id)
		a.syncSnapshot()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	inst, err := restoreInstance(a.id, cp.State)
	if err != nil {
		return fmt.Errorf("restore instance: %w", err)
	}
	// A checkpoint written during bulk persist or termination restores to
	// a clean idle state; the durable archive already holds the buffer.
	if inst.Lifecycle == LifecycleBulkPersist || inst.Lifecycle == LifecycleTerminated {
		inst.Lifecycle = LifecycleWaitingForInput
	}
	a.inst = inst
	a.seq.Store(inst.Blob.NextSeq)
	a.syncSnapshot()
	a.logger.Info("session restored",
		zap.String("lifecycle", string(inst.Lifecycle)),
		zap.Int("step_index", inst.StepIndex),
	)
	return nil
}

// handle processes one signal. It runs on the actor goroutine, so the
// whole body is serialized per session.
func (a *actor) handle(ctx context.Context, sig Signal) error {
	a.inst.LastActivityAt = time.Now()

	switch s := sig.(type) {
	case NewMessage:
		err := a.handleNewMessage(ctx, s)
		a.mgr.metrics.Signal("new_message", resultLabel(err))
		return err
	case Resume:
		err := a.handleResume(ctx, s)
		a.mgr.metrics.Signal("resume", resultLabel(err))
		return err
	case BufferAppend:
		fresh := a.buffer.Append(s.Content, s.RunID, s.ParentMessageID)
		if !fresh {
			a.logger.Debug("coalesced duplicate buffer append")
		}
		a.mgr.metrics.Signal("buffer_append", "ok")
		a.syncSnapshot()
		return nil
	case Cancel:
		err := a.handleCancel(ctx, s)
		a.mgr.metrics.Signal("cancel", resultLabel(err))
		return err
	default:
		return fmt.Errorf("unknown signal %T", sig)
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (a *actor) handleNewMessage(ctx context.Context, s NewMessage) error {
	// At-least-once delivery: a redelivered run id is acknowledged, not
	// replayed.
	if s.RunID != "" && a.inst.Blob.SeenRunIDs[s.RunID] {
		a.logger.Debug("dropping duplicate new message", zap.String("run_id", s.RunID))
		return nil
	}

	if a.inst.Lifecycle == LifecycleWaitingForApproval {
		// Only a matching Resume advances a suspended session; the input
		// is buffered so it is not lost. Its run id is recorded now so a
		// redelivery after the buffer is consumed cannot start a second
		// run with the same content.
		a.buffer.Append(s.Content, s.RunID, s.ParentMessageID)
		if s.RunID != "" {
			a.inst.Blob.SeenRunIDs[s.RunID] = true
		}
		a.syncSnapshot()
		return nil
	}

	if s.RunID != "" {
		a.inst.Blob.SeenRunIDs[s.RunID] = true
	}

	// A new running phase flushes the buffer first (§ buffer policy:
	// inactivity or run start, whichever comes first); the buffered
	// entries join this run's inputs.
	buffered := a.flushBuffer(ctx)

	now := time.Now()
	inputs := make([]InboundMessage, 0, len(buffered)+1)
	for _, e := range buffered {
		// Entries appended via BufferAppend carry run ids that were never
		// checked against SeenRunIDs; mark them as they join the run.
		if e.RunID != "" {
			a.inst.Blob.SeenRunIDs[e.RunID] = true
		}
		inputs = append(inputs, InboundMessage{
			Content:         e.Content,
			RunID:           e.RunID,
			ParentMessageID: e.ParentMessageID,
			ReceivedAt:      e.BufferedAt,
		})
	}
	inputs = append(inputs, InboundMessage{
		Content:         s.Content,
		RunID:           s.RunID,
		ParentMessageID: s.ParentMessageID,
		ReceivedAt:      now,
	})

	a.inst.Blob.Inputs = inputs
	a.inst.Blob.Result = nil
	a.inst.Blob.Pending = nil
	a.inst.Blob.Decision = nil
	a.inst.StepIndex = 0

	return a.runSteps(ctx)
}

func (a *actor) handleResume(ctx context.Context, s Resume) error {
	if a.inst.Lifecycle != LifecycleWaitingForApproval {
		a.mgr.metrics.Resume("invalid")
		return types.Errorf(types.KindInvalidResume,
			"session is %s, not awaiting approval", a.inst.Lifecycle)
	}

	resolution, err := validateResume(a.inst.Blob.Pending, s.Payload)
	if err != nil {
		a.mgr.metrics.Resume("invalid")
		a.logger.Warn("rejected resume",
			zap.String("resume_type", string(s.Payload.Type)),
			zap.Error(err),
		)
		return err
	}
	a.mgr.metrics.Resume("ok")

	a.inst.Blob.Decision = &resolution
	a.inst.StepIndex = a.inst.Blob.Pending.StepIndex
	return a.runSteps(ctx)
}

func (a *actor) handleCancel(ctx context.Context, s Cancel) error {
	switch a.inst.Lifecycle {
	case LifecycleWaitingForApproval:
		// Cancel the pending run; the session returns to a clean idle
		// state and a new message restarts it. The terminal error event
		// belongs to the session, not to the cancelling caller.
		a.cancelled.Store(false)
		a.terminalError(ctx, types.Errorf(types.KindCancelled,
			"cancelled while awaiting approval: %s", s.Reason))
		return nil
	case LifecycleWaitingForInput, LifecycleInitialized:
		// Nothing in flight; clear the flag so the next run is unaffected.
		a.cancelled.Store(false)
		return nil
	default:
		return nil
	}
}

// runSteps drives the step sequence from the current step index until
// completion, suspension, or failure. The crash-safety contract: a
// checkpoint exists before the first step runs, after every completed
// step, and before any suspension is surfaced.
func (a *actor) runSteps(ctx context.Context) error {
	a.setLifecycle(LifecycleRunning)
	if err := a.writeCheckpoint(ctx); err != nil {
		return a.terminalError(ctx, types.NewError(types.KindInternal,
			"checkpoint write failed at run entry").WithCause(err))
	}

	for a.inst.StepIndex < len(a.mgr.steps) {
		if a.cancelled.Swap(false) {
			return a.terminalError(ctx, types.Errorf(types.KindCancelled,
				"cancelled: %s", a.loadCancelReason()))
		}

		step := a.mgr.steps[a.inst.StepIndex]
		sc := &StepContext{actor: a, SessionID: a.id, Blob: a.inst.Blob}

		start := time.Now()
		err := a.mgr.tasks.Run(ctx, step.Name, func(ctx context.Context) error {
			return step.Run(ctx, sc)
		})
		elapsed := time.Since(start)

		if err == nil {
			a.mgr.metrics.Step(step.Name, "ok", elapsed)
			a.inst.StepIndex++
			a.inst.LastActivityAt = time.Now()
			if cerr := a.writeCheckpoint(ctx); cerr != nil {
				return a.terminalError(ctx, types.NewError(types.KindInternal,
					"checkpoint write failed after step").WithCause(cerr))
			}
			a.publish(ctx, broker.EventStepUpdate, map[string]any{
				"step":       step.Name,
				"step_index": a.inst.StepIndex,
				"total":      len(a.mgr.steps),
			})
			continue
		}

		var susp *suspendError
		if errors.As(err, &susp) {
			a.mgr.metrics.Step(step.Name, "suspended", elapsed)
			return a.suspend(ctx, susp.interrupt, step.Name)
		}

		if types.KindOf(err) == types.KindNeedsRepair {
			// Retries exhausted but the tool proposed corrective actions:
			// convert into a new approval-gated pause instead of aborting.
			var repair *tool.NeedsRepairError
			if errors.As(err, &repair) {
				a.mgr.metrics.Step(step.Name, "needs_repair", elapsed)
				a.logger.Info("converting repair proposals into tool approval",
					zap.String("step", step.Name),
					zap.String("tool", repair.ToolName),
					zap.Int("proposals", len(repair.Proposals)),
				)
				return a.suspend(ctx, ToolApproval{Tools: repair.Proposals}, step.Name)
			}
		}

		a.mgr.metrics.Step(step.Name, "error", elapsed)
		return a.terminalError(ctx, err)
	}

	return a.complete(ctx)
}

// suspend parks the session on an interrupt. The checkpoint is written
// before the interrupt event is published, so a crash between the two
// redelivers the interrupt rather than losing it.
func (a *actor) suspend(ctx context.Context, in Interrupt, stepName string) error {
	// Only re-raises of the same interrupt at the same step count toward
	// the edit-loop bound; the initial raise is iteration zero.
	key := fmt.Sprintf("%d:%s", a.inst.StepIndex, in.Kind())
	if _, seen := a.inst.Blob.EditIterations[key]; seen {
		a.inst.Blob.EditIterations[key]++
		if a.inst.Blob.EditIterations[key] > a.mgr.maxEditIterations {
			return a.terminalError(ctx, types.Errorf(types.KindEditLoopExceeded,
				"interrupt %s at step %s re-raised %d times, limit %d",
				in.Kind(), stepName, a.inst.Blob.EditIterations[key], a.mgr.maxEditIterations))
		}
	} else {
		a.inst.Blob.EditIterations[key] = 0
	}

	pending, err := newPendingInterrupt(in, a.inst.StepIndex)
	if err != nil {
		return a.terminalError(ctx, types.NewError(types.KindInternal,
			"serialize interrupt").WithCause(err))
	}
	a.inst.Blob.Pending = pending
	a.inst.Blob.Decision = nil
	a.setLifecycle(LifecycleWaitingForApproval)

	if cerr := a.writeCheckpoint(ctx); cerr != nil {
		return a.terminalError(ctx, types.NewError(types.KindInternal,
			"checkpoint write failed before suspension").WithCause(cerr))
	}

	a.mgr.metrics.Interrupt(string(in.Kind()))
	a.publish(ctx, broker.EventInterrupt, map[string]any{
		"kind":    string(in.Kind()),
		"step":    stepName,
		"payload": in,
	})
	a.logger.Info("session suspended",
		zap.String("interrupt", string(in.Kind())),
		zap.String("step", stepName),
	)
	return nil
}

// complete finishes a run: final event, result persisted, back to idle.
func (a *actor) complete(ctx context.Context) error {
	a.publish(ctx, broker.EventFinal, map[string]any{
		"result": a.inst.Blob.Result,
	})

	a.inst.Blob.Pending = nil
	a.inst.Blob.Decision = nil
	a.inst.Blob.Inputs = nil
	a.inst.Blob.EditIterations = make(map[string]int)
	a.inst.StepIndex = 0
	a.setLifecycle(LifecycleWaitingForInput)

	if err := a.writeCheckpoint(ctx); err != nil {
		a.logger.Error("checkpoint write failed after completion", zap.Error(err))
		return err
	}
	a.logger.Info("run completed")
	return nil
}

// terminalError publishes exactly one error event for the failure and
// resets the session to a clean idle state. The last step-boundary
// checkpoint stays valid, so a fresh NewMessage restarts the session
// rather than leaving it stuck.
func (a *actor) terminalError(ctx context.Context, cause error) error {
	a.publish(ctx, broker.EventError, map[string]any{
		"kind":    string(types.KindOf(cause)),
		"message": cause.Error(),
	})

	a.inst.Blob.Pending = nil
	a.inst.Blob.Decision = nil
	a.inst.Blob.Inputs = nil
	a.inst.Blob.EditIterations = make(map[string]int)
	a.inst.StepIndex = 0
	a.setLifecycle(LifecycleWaitingForInput)

	if err := a.writeCheckpoint(ctx); err != nil {
		a.logger.Error("checkpoint write failed after terminal error", zap.Error(err))
	}
	a.logger.Warn("run terminated",
		zap.String("kind", string(types.KindOf(cause))),
		zap.Error(cause),
	)
	return cause
}

// bulkPersist is the inactivity transition: flush the buffer to durable
// storage, checkpoint the terminated state, and let the actor die. A later
// NewMessage recreates the session from the checkpoint.
func (a *actor) bulkPersist(ctx context.Context) {
	if a.buffer.Len() > 0 {
		a.setLifecycle(LifecycleBulkPersist)
		a.flushBuffer(ctx)
	}
	a.setLifecycle(LifecycleTerminated)
	if err := a.writeCheckpoint(ctx); err != nil {
		a.logger.Error("checkpoint write failed at termination", zap.Error(err))
	}
	a.logger.Info("session terminated after quiet period")
}

// flushBuffer drains the buffer into the archive. On archive failure the
// entries are re-queued so nothing is silently dropped.
func (a *actor) flushBuffer(ctx context.Context) []BufferedEntry {
	entries := a.buffer.Drain()
	if len(entries) == 0 {
		return nil
	}
	if a.mgr.archive != nil {
		if err := a.mgr.archive.SaveBatch(ctx, a.id, entries); err != nil {
			a.logger.Error("buffer flush failed, re-queueing", zap.Error(err))
			for _, e := range entries {
				a.buffer.Append(e.Content, e.RunID, e.ParentMessageID)
			}
			return nil
		}
	}
	a.mgr.metrics.BufferFlush()
	a.logger.Debug("buffer flushed", zap.Int("entries", len(entries)))
	return entries
}

// writeCheckpoint snapshots the instance. The event sequence counter is
// folded into the blob here so a restart resumes numbering from the last
// durable point.
func (a *actor) writeCheckpoint(ctx context.Context) error {
	a.inst.Blob.NextSeq = a.seq.Load()
	state, err := a.inst.encodeState()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return a.mgr.store.Put(ctx, &checkpoint.Checkpoint{
		InstanceID: a.id,
		StepIndex:  a.inst.StepIndex,
		State:      state,
		WrittenAt:  time.Now(),
	})
}

// publish assigns the next sequence number and sends the event. Publish
// failures are logged, not fatal: the broker is best-effort and consumers
// recover via the status query.
func (a *actor) publish(ctx context.Context, eventType broker.EventType, payload any) {
	a.pubMu.Lock()
	defer a.pubMu.Unlock()

	seq := a.seq.Add(1) - 1
	ev, err := broker.NewEvent(eventType, a.id, seq, payload)
	if err != nil {
		a.logger.Error("encode event", zap.Error(err))
		return
	}
	if err := a.mgr.broker.Publish(ctx, a.id, ev); err != nil {
		a.logger.Warn("publish event", zap.Error(err))
	}
	a.mgr.metrics.Event(string(eventType))

	a.statusMu.Lock()
	a.lastEventAt = time.Now()
	a.statusMu.Unlock()
}

func (a *actor) setLifecycle(l Lifecycle) {
	a.inst.Lifecycle = l
	a.syncSnapshot()
}

// syncSnapshot copies the fields Status and the heartbeat loop read into
// the mutex-guarded snapshot.
func (a *actor) syncSnapshot() {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.stLifecycle = a.inst.Lifecycle
	a.stStepIndex = a.inst.StepIndex
	a.stPending = ""
	if a.inst.Blob.Pending != nil {
		a.stPending = a.inst.Blob.Pending.Kind
	}
	a.stActivity = a.inst.LastActivityAt
}

func (a *actor) snapshot() Status {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	return Status{
		SessionID:      a.id,
		Lifecycle:      a.stLifecycle,
		StepIndex:      a.stStepIndex,
		PendingKind:    a.stPending,
		LastActivityAt: a.stActivity,
	}
}

// heartbeatLoop publishes keepalives while the session is running or
// awaiting approval and no other event went out for a full interval, so
// long-lived consumer connections stay open without implying progress.
func (a *actor) heartbeatLoop(done <-chan struct{}) {
	ticker := time.NewTicker(a.mgr.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-a.done:
			return
		case <-ticker.C:
			a.statusMu.Lock()
			lifecycle := a.stLifecycle
			idle := time.Since(a.lastEventAt) >= a.mgr.heartbeatInterval
			a.statusMu.Unlock()

			if idle && (lifecycle == LifecycleRunning || lifecycle == LifecycleWaitingForApproval) {
				a.publish(context.Background(), broker.EventHeartbeat, nil)
			}
		}
	}
}
