package autelis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Engine defaults.
const (
	DefaultPollInterval  = 60 * time.Second
	DefaultSettleWindow  = 2 * time.Second
	DefaultDegradedAfter = 3

	// DefaultConfirmGrace is added to the poll interval to form the default
	// command timeout: the next poll must start and finish inside it.
	DefaultConfirmGrace = defaultRequestTimeout + 5*time.Second
)

// CycleState is the engine's position in the poll cycle.
type CycleState string

const (
	StateIdle    CycleState = "IDLE"
	StatePolling CycleState = "POLLING"
	StateDiffing CycleState = "DIFFING"
	StatePushing CycleState = "PUSHING"
	StateStopped CycleState = "STOPPED"
)

// Observer receives engine events for metrics. Optional.
type Observer interface {
	// PollCompleted is called after every poll attempt.
	PollCompleted(duration time.Duration, err error)

	// CommandFinished is called at each command outcome
	// (queued, deferred, dispatched, noop, confirmed, failed, timeout).
	CommandFinished(nodeID, outcome string)
}

// EngineOptions holds configuration for creating an engine.
type EngineOptions struct {
	// Client is the appliance client. Required.
	Client DeviceClient

	// Catalog defaults to DefaultCatalog.
	Catalog *Catalog

	// Host receives node and health events. Optional.
	Host Host

	// Observer receives poll and command events. Optional.
	Observer Observer

	// Logger is optional structured logger.
	Logger Logger

	// PollInterval is the time between polls. Default: 60s.
	PollInterval time.Duration

	// IgnoreSolar drops solar-heat identifiers from every snapshot.
	IgnoreSolar bool

	// SettleWindow is the minimum spacing between dispatches sharing a
	// lock key. Default: 2s.
	SettleWindow time.Duration

	// CommandTimeout bounds how long a dispatched command waits for poll
	// confirmation. Default: PollInterval + DefaultConfirmGrace.
	CommandTimeout time.Duration

	// DegradedAfter is the number of consecutive poll failures that
	// degrade health. Default: 3.
	DegradedAfter int
}

// Engine polls the appliance, reconciles node state and serialises
// outgoing commands.
//
// A single loop goroutine owns the registry writes and the pending command
// set. The appliance calls run on worker goroutines and report back over
// channels, so commands are accepted while a poll is outstanding.
type Engine struct {
	client   DeviceClient
	catalog  *Catalog
	registry *Registry
	host     Host
	observer Observer

	interval      time.Duration
	settle        time.Duration
	cmdTimeout    time.Duration
	degradedAfter int
	ignoreSolar   bool

	commands        chan commandRequest
	pollResults     chan pollResult
	dispatchResults chan dispatchResult
	fullReport      atomic.Bool
	state           atomic.Value

	// Loop-owned state.
	polling      bool
	unit         TempUnit
	unitUnstable bool
	lastSystem   *SystemStatus
	inflight     map[string]*PendingCommand
	deferred     map[string][]*PendingCommand
	queued       []*PendingCommand
	lastDispatch map[string]time.Time

	health   Health
	healthMu sync.RWMutex

	running  atomic.Bool
	started  atomic.Bool
	exited   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

type pollResult struct {
	snap     *Snapshot
	err      error
	duration time.Duration
}

// NewEngine creates an engine. Call Start to begin polling.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("device client is required")
	}

	catalog := opts.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	host := opts.Host
	if host == nil {
		host = NopHost{}
	}

	e := &Engine{
		client:          opts.Client,
		catalog:         catalog,
		registry:        NewRegistry(host),
		host:            host,
		observer:        opts.Observer,
		interval:        orDefault(opts.PollInterval, DefaultPollInterval),
		settle:          orDefault(opts.SettleWindow, DefaultSettleWindow),
		cmdTimeout:      opts.CommandTimeout,
		degradedAfter:   opts.DegradedAfter,
		ignoreSolar:     opts.IgnoreSolar,
		commands:        make(chan commandRequest),
		pollResults:     make(chan pollResult, 1),
		dispatchResults: make(chan dispatchResult),
		inflight:        make(map[string]*PendingCommand),
		deferred:        make(map[string][]*PendingCommand),
		lastDispatch:    make(map[string]time.Time),
		health:          Health{Status: HealthStarting},
		exited:          make(chan struct{}),
		logger:          opts.Logger,
	}
	if e.degradedAfter <= 0 {
		e.degradedAfter = DefaultDegradedAfter
	}
	if e.cmdTimeout <= 0 {
		e.cmdTimeout = e.interval + DefaultConfirmGrace
	}
	e.state.Store(StateIdle)
	return e, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Start begins the poll loop. The first poll runs immediately.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running.Store(true)

	e.wg.Add(1)
	go e.run(loopCtx)

	e.logInfo("engine started",
		"poll_interval", e.interval,
		"settle_window", e.settle,
		"ignore_solar", e.ignoreSolar)
	return nil
}

// Stop cancels polling and abandons pending commands. Safe to call
// multiple times.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.running.Store(false)
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		e.logInfo("engine stopped")
	})
}

// Registry returns the node registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Catalog returns the equipment catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// State returns the current cycle state.
func (e *Engine) State() CycleState {
	s, _ := e.state.Load().(CycleState)
	return s
}

// NodeCount returns the number of discovered nodes.
func (e *Engine) NodeCount() int {
	return e.registry.Len()
}

// Health returns the current health view.
func (e *Engine) Health() Health {
	e.healthMu.RLock()
	defer e.healthMu.RUnlock()
	return e.health
}

// RequestFullReport makes the next successful poll push every node and
// the controller status, changed or not.
func (e *Engine) RequestFullReport() {
	e.fullReport.Store(true)
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	defer close(e.exited)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	wake := time.NewTimer(time.Hour)
	wake.Stop()
	defer wake.Stop()

	e.beginPoll(ctx)

	for {
		if at, ok := e.nextWake(); ok {
			wake.Reset(time.Until(at))
		} else {
			wake.Stop()
		}

		select {
		case <-ctx.Done():
			e.running.Store(false)
			e.abandonPending()
			e.state.Store(StateStopped)
			return

		case <-ticker.C:
			if e.polling {
				e.logDebug("poll skipped, previous poll still running")
				continue
			}
			e.beginPoll(ctx)

		case res := <-e.pollResults:
			e.finishPoll(ctx, res)

		case cr := <-e.commands:
			e.accept(ctx, cr)

		case r := <-e.dispatchResults:
			e.handleDispatchResult(r)

		case <-wake.C:
			now := time.Now()
			e.expirePending(now)
			e.releaseDeferred(ctx, now)
		}
	}
}

// beginPoll starts a fetch on a worker goroutine.
func (e *Engine) beginPoll(ctx context.Context) {
	e.polling = true
	e.state.Store(StatePolling)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		start := time.Now()
		snap, err := e.client.FetchStatus(ctx)
		select {
		case e.pollResults <- pollResult{snap: snap, err: err, duration: time.Since(start)}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) finishPoll(ctx context.Context, res pollResult) {
	e.polling = false
	if e.observer != nil {
		e.observer.PollCompleted(res.duration, res.err)
	}

	if res.err != nil {
		e.recordFailure(ctx, res.err)
		e.state.Store(StateIdle)
	} else {
		e.recordSuccess(ctx)
		e.applySnapshot(ctx, res.snap)
	}

	e.releaseQueued(ctx)
	now := time.Now()
	e.expirePending(now)
	e.releaseDeferred(ctx, now)
}

// applySnapshot runs the DIFFING and PUSHING phases for one snapshot.
func (e *Engine) applySnapshot(ctx context.Context, snap *Snapshot) {
	e.state.Store(StateDiffing)

	if e.ignoreSolar && snap.SolarPresent {
		e.logDebug("ignoring solar heat reported by appliance")
	}

	var changed []string
	for _, d := range e.catalog.Descriptors() {
		if d.Solar && e.ignoreSolar {
			continue
		}
		reading, ok := d.Read(snap)
		if !ok {
			continue
		}
		res, err := e.registry.Upsert(ctx, d, reading, snap.Taken)
		if err != nil {
			e.logError("declaring node failed", fmt.Errorf("%s: %w", d.ID, err))
		}
		if res.Created {
			e.logInfo("node discovered", "node", d.ID, "class", d.Class)
		}
		if res.Changed {
			changed = append(changed, d.ID)
		}
	}

	hold, force := e.trackUnit(snap.Unit)
	full := e.fullReport.Swap(false)

	e.state.Store(StatePushing)
	ids := e.selectPush(changed, hold, force, full)
	if len(ids) > 0 {
		if err := e.registry.Push(ctx, ids); err != nil {
			e.logError("reporting node state failed", err)
		}
	}

	if full || e.lastSystem == nil || *e.lastSystem != snap.System {
		sys := snap.System
		e.lastSystem = &sys
		if err := e.host.ReportController(ctx, sys); err != nil {
			e.logError("reporting controller state failed", err)
		}
	}

	e.confirmPending()
	e.state.Store(StateIdle)
}

// trackUnit follows the temperature unit across polls. A change opens an
// unstable window: temperature pushes are held for that poll, and the next
// poll with the same unit forces one push of every temperature node.
func (e *Engine) trackUnit(unit TempUnit) (hold, force bool) {
	switch {
	case e.unit == "":
		e.unit = unit
		return false, false
	case unit != e.unit:
		e.logInfo("temperature unit changed", "from", e.unit, "to", unit)
		e.unit = unit
		e.unitUnstable = true
		return true, false
	case e.unitUnstable:
		e.unitUnstable = false
		return false, true
	default:
		return false, false
	}
}

// selectPush picks the nodes reported in this PUSHING phase. Temperature
// nodes are held during a unit flip, full report included.
func (e *Engine) selectPush(changed []string, hold, force, full bool) []string {
	if full {
		nodes := e.registry.List()
		ids := make([]string, 0, len(nodes))
		for _, n := range nodes {
			if hold && n.Class.HasTemperature() {
				continue
			}
			ids = append(ids, n.ID)
		}
		return ids
	}

	seen := make(map[string]bool, len(changed))
	ids := make([]string, 0, len(changed))
	for _, id := range changed {
		n, ok := e.registry.Get(id)
		if !ok {
			continue
		}
		if hold && n.Class.HasTemperature() {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if force {
		for _, n := range e.registry.List() {
			if n.Class.HasTemperature() && !seen[n.ID] {
				ids = append(ids, n.ID)
			}
		}
	}
	return ids
}

func (e *Engine) recordFailure(ctx context.Context, err error) {
	e.healthMu.Lock()
	e.health.ConsecutiveFailures++
	e.health.LastError = err.Error()
	e.health.LastAttempt = time.Now()
	failures := e.health.ConsecutiveFailures
	degrade := failures >= e.degradedAfter && e.health.Status != HealthDegraded
	if degrade {
		e.health.Status = HealthDegraded
	}
	snapshot := e.health
	e.healthMu.Unlock()

	e.logWarn("poll failed", "error", err, "consecutive_failures", failures)

	if degrade {
		e.logWarn("appliance health degraded", "consecutive_failures", failures)
		e.reportHealth(ctx, snapshot)
	}
}

func (e *Engine) recordSuccess(ctx context.Context) {
	now := time.Now()

	e.healthMu.Lock()
	recovered := e.health.Status != HealthHealthy
	e.health.Status = HealthHealthy
	e.health.ConsecutiveFailures = 0
	e.health.LastError = ""
	e.health.LastAttempt = now
	e.health.LastSuccess = now
	snapshot := e.health
	e.healthMu.Unlock()

	if recovered {
		e.logInfo("appliance reachable")
		e.reportHealth(ctx, snapshot)
	}
}

func (e *Engine) reportHealth(ctx context.Context, h Health) {
	if err := e.host.ReportHealth(ctx, h); err != nil {
		e.logError("reporting health failed", err)
	}
}

func (e *Engine) observeCommand(p *PendingCommand, outcome string) {
	if e.observer != nil {
		e.observer.CommandFinished(p.NodeID, outcome)
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

func (e *Engine) getLogger() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

// logInfo logs an info message if logger is set.
func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (e *Engine) logWarn(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (e *Engine) logError(msg string, err error) {
	if logger := e.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
