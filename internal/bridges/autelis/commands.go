package autelis

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Verb is a host-issued command semantic.
type Verb string

const (
	VerbOn             Verb = "on"
	VerbOff            Verb = "off"
	VerbSetTemperature Verb = "set_temperature"
)

// Request is a validated command ready for the engine.
type Request struct {
	// NodeID is the target node.
	NodeID string

	// Class is the target node's capability class.
	Class CapabilityClass

	// Verb is the requested semantic.
	Verb Verb

	// Element is the appliance element written by set.cgi.
	Element string

	// Value is the value written to Element.
	Value int

	// LockKey serialises commands sharing a relay pair.
	LockKey string
}

// satisfiedBy reports whether a node value already reflects the request.
// Relays are on at exactly 1; heaters at any non-zero state.
func (r Request) satisfiedBy(v Value) bool {
	switch r.Verb {
	case VerbOn:
		if r.Class == ClassHeater {
			return v.State != 0
		}
		return v.State == 1
	case VerbOff:
		return v.State == 0
	case VerbSetTemperature:
		return v.Setpoint == r.Value
	default:
		return false
	}
}

func (r Request) sameAs(o Request) bool {
	return r.NodeID == o.NodeID && r.Element == o.Element && r.Value == o.Value
}

// PendingCommand tracks one command from acceptance until confirmation,
// timeout, failure or shutdown.
type PendingCommand struct {
	Request

	// EnqueuedAt is when the engine accepted the command.
	EnqueuedAt time.Time

	dispatchedAt time.Time // owned by the engine loop

	done chan struct{}
	once sync.Once
	err  error
}

func newPendingCommand(req Request, now time.Time) *PendingCommand {
	return &PendingCommand{
		Request:    req,
		EnqueuedAt: now,
		done:       make(chan struct{}),
	}
}

// Done is closed once the command reaches a final outcome.
func (p *PendingCommand) Done() <-chan struct{} {
	return p.done
}

// Err returns the final outcome. It is nil until Done is closed, and nil
// afterwards when a poll confirmed the command or it was a no-op.
func (p *PendingCommand) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the command is confirmed or fails.
func (p *PendingCommand) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PendingCommand) finish(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// ReceiptStatus is the synchronous outcome of submitting a command.
type ReceiptStatus string

const (
	// ReceiptDispatched means the command was sent to the appliance.
	ReceiptDispatched ReceiptStatus = "dispatched"

	// ReceiptQueued means a poll was in progress; the command is routed
	// when it completes.
	ReceiptQueued ReceiptStatus = "queued"

	// ReceiptDeferred means another command holds the lock key or the
	// settle window has not elapsed.
	ReceiptDeferred ReceiptStatus = "deferred"

	// ReceiptNoOp means the node already has the desired value.
	ReceiptNoOp ReceiptStatus = "noop"

	// ReceiptPending means an identical command is already pending; the
	// receipt carries that command.
	ReceiptPending ReceiptStatus = "pending"

	// ReceiptFailed means the appliance call failed.
	ReceiptFailed ReceiptStatus = "failed"
)

// Receipt is returned to the issuer when a command is submitted.
// Command.Wait reports the asynchronous confirmation.
type Receipt struct {
	Status  ReceiptStatus
	Command *PendingCommand
}

type submitReply struct {
	receipt Receipt
	err     error
}

type commandRequest struct {
	req   Request
	reply chan submitReply
}

type dispatchResult struct {
	cmd   *PendingCommand
	err   error
	reply chan<- submitReply
}

// Submit hands a validated command to the engine loop and returns its
// synchronous outcome. Use Gateway.Execute for host-issued commands.
func (e *Engine) Submit(ctx context.Context, req Request) (Receipt, error) {
	if !e.running.Load() {
		return Receipt{}, ErrNotRunning
	}

	cr := commandRequest{req: req, reply: make(chan submitReply, 1)}
	select {
	case e.commands <- cr:
	case <-e.exited:
		return Receipt{}, ErrNotRunning
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	}

	select {
	case r := <-cr.reply:
		return r.receipt, r.err
	case <-e.exited:
		return Receipt{}, ErrNotRunning
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	}
}

// accept handles a freshly submitted command on the loop goroutine.
func (e *Engine) accept(ctx context.Context, cr commandRequest) {
	now := time.Now()

	if p := e.findPending(cr.req); p != nil {
		cr.reply <- submitReply{receipt: Receipt{Status: ReceiptPending, Command: p}}
		return
	}

	p := newPendingCommand(cr.req, now)
	if e.polling {
		e.queued = append(e.queued, p)
		e.observeCommand(p, string(ReceiptQueued))
		cr.reply <- submitReply{receipt: Receipt{Status: ReceiptQueued, Command: p}}
		return
	}
	e.route(ctx, p, cr.reply, now)
}

// route decides between no-op, deferral and dispatch.
func (e *Engine) route(ctx context.Context, p *PendingCommand, reply chan<- submitReply, now time.Time) {
	if !e.hasPendingFor(p.NodeID) {
		if node, ok := e.registry.Get(p.NodeID); ok && p.satisfiedBy(node.Value) {
			p.finish(nil)
			e.observeCommand(p, string(ReceiptNoOp))
			sendReply(reply, Receipt{Status: ReceiptNoOp, Command: p}, nil)
			return
		}
	}

	if e.mustDefer(p.LockKey, now) {
		e.deferred[p.LockKey] = append(e.deferred[p.LockKey], p)
		e.observeCommand(p, string(ReceiptDeferred))
		e.logDebug("command deferred", "node", p.NodeID, "lock_key", p.LockKey)
		sendReply(reply, Receipt{Status: ReceiptDeferred, Command: p}, nil)
		return
	}

	e.dispatch(ctx, p, reply, now)
}

func (e *Engine) mustDefer(key string, now time.Time) bool {
	if _, busy := e.inflight[key]; busy {
		return true
	}
	if len(e.deferred[key]) > 0 {
		return true
	}
	last, ok := e.lastDispatch[key]
	return ok && now.Before(last.Add(e.settle))
}

// dispatch sends the command on a worker goroutine so the loop keeps
// accepting commands. The lock key is held from this point.
func (e *Engine) dispatch(ctx context.Context, p *PendingCommand, reply chan<- submitReply, now time.Time) {
	p.dispatchedAt = now
	e.inflight[p.LockKey] = p
	e.lastDispatch[p.LockKey] = now

	e.logInfo("dispatching command", "node", p.NodeID, "element", p.Element, "value", p.Value)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.client.SendCommand(ctx, p.Element, p.Value)
		select {
		case e.dispatchResults <- dispatchResult{cmd: p, err: err, reply: reply}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) handleDispatchResult(r dispatchResult) {
	p := r.cmd
	if r.err != nil {
		err := fmt.Errorf("dispatch %s: %w", p.NodeID, r.err)
		if e.inflight[p.LockKey] == p {
			delete(e.inflight, p.LockKey)
		}
		p.finish(err)
		e.observeCommand(p, string(ReceiptFailed))
		e.logError("command dispatch failed", err)
		sendReply(r.reply, Receipt{Status: ReceiptFailed, Command: p}, err)
		return
	}
	e.observeCommand(p, string(ReceiptDispatched))
	sendReply(r.reply, Receipt{Status: ReceiptDispatched, Command: p}, nil)
}

// confirmPending clears in-flight commands the latest snapshot satisfies.
func (e *Engine) confirmPending() {
	for key, p := range e.inflight {
		node, ok := e.registry.Get(p.NodeID)
		if !ok || !p.satisfiedBy(node.Value) {
			continue
		}
		delete(e.inflight, key)
		p.finish(nil)
		e.observeCommand(p, "confirmed")
		e.logDebug("command confirmed", "node", p.NodeID,
			"latency", time.Since(p.dispatchedAt))
	}
}

// expirePending fails in-flight commands older than the command timeout.
func (e *Engine) expirePending(now time.Time) {
	for key, p := range e.inflight {
		if now.Before(p.dispatchedAt.Add(e.cmdTimeout)) {
			continue
		}
		delete(e.inflight, key)
		p.finish(fmt.Errorf("%w: %s after %s", ErrCommandTimeout, p.NodeID, e.cmdTimeout))
		e.observeCommand(p, "timeout")
		e.logWarn("command timed out", "node", p.NodeID, "timeout", e.cmdTimeout)
	}
}

// releaseDeferred dispatches the head of each deferred queue whose lock key
// is free and whose settle window has elapsed.
func (e *Engine) releaseDeferred(ctx context.Context, now time.Time) {
	if e.polling {
		return
	}
	for key, queue := range e.deferred {
		for len(queue) > 0 {
			if _, busy := e.inflight[key]; busy {
				break
			}
			if last, ok := e.lastDispatch[key]; ok && now.Before(last.Add(e.settle)) {
				break
			}
			p := queue[0]
			queue = queue[1:]

			if node, ok := e.registry.Get(p.NodeID); ok && p.satisfiedBy(node.Value) && !e.queueHasNode(queue, p.NodeID) {
				p.finish(nil)
				e.observeCommand(p, string(ReceiptNoOp))
				continue
			}
			e.dispatch(ctx, p, nil, now)
		}
		if len(queue) == 0 {
			delete(e.deferred, key)
		} else {
			e.deferred[key] = queue
		}
	}
}

// releaseQueued routes commands accepted while a poll was running.
func (e *Engine) releaseQueued(ctx context.Context) {
	queued := e.queued
	e.queued = nil
	for _, p := range queued {
		e.route(ctx, p, nil, time.Now())
	}
}

// abandonPending fails everything still pending at shutdown.
func (e *Engine) abandonPending() {
	for key, p := range e.inflight {
		delete(e.inflight, key)
		p.finish(ErrStopped)
	}
	for key, queue := range e.deferred {
		delete(e.deferred, key)
		for _, p := range queue {
			p.finish(ErrStopped)
		}
	}
	for _, p := range e.queued {
		p.finish(ErrStopped)
	}
	e.queued = nil
}

// nextWake returns when the loop next needs to expire or release commands.
func (e *Engine) nextWake() (time.Time, bool) {
	var next time.Time
	consider := func(t time.Time) {
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}

	for _, p := range e.inflight {
		consider(p.dispatchedAt.Add(e.cmdTimeout))
	}
	if !e.polling {
		for key, queue := range e.deferred {
			if len(queue) == 0 {
				continue
			}
			if _, busy := e.inflight[key]; busy {
				continue
			}
			consider(e.lastDispatch[key].Add(e.settle))
		}
	}
	return next, !next.IsZero()
}

func (e *Engine) findPending(req Request) *PendingCommand {
	if p, ok := e.inflight[req.LockKey]; ok && p.sameAs(req) {
		return p
	}
	for _, p := range e.deferred[req.LockKey] {
		if p.sameAs(req) {
			return p
		}
	}
	for _, p := range e.queued {
		if p.sameAs(req) {
			return p
		}
	}
	return nil
}

func (e *Engine) hasPendingFor(nodeID string) bool {
	for _, p := range e.inflight {
		if p.NodeID == nodeID {
			return true
		}
	}
	for _, queue := range e.deferred {
		if e.queueHasNode(queue, nodeID) {
			return true
		}
	}
	return false
}

func (e *Engine) queueHasNode(queue []*PendingCommand, nodeID string) bool {
	for _, p := range queue {
		if p.NodeID == nodeID {
			return true
		}
	}
	return false
}

func sendReply(reply chan<- submitReply, receipt Receipt, err error) {
	if reply == nil {
		return
	}
	reply <- submitReply{receipt: receipt, err: err}
}
