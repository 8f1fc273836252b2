package autelis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bridge operation constants.
const (
	// topicParts is the number of parts in a command or request topic.
	topicParts = 3

	// submitMargin is added to the appliance request timeout to bound how
	// long an MQTT command waits for the engine's synchronous outcome, which
	// includes the set.cgi call for an immediate dispatch.
	submitMargin = time.Second
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health and discovery messages.
	BridgeID string

	// Version is the software version reported in health messages.
	Version string

	// ApplianceAddress is shown in health messages.
	ApplianceAddress string

	// HealthInterval is how often health is republished. Default: 30s.
	HealthInterval time.Duration

	// RequestTimeout is the appliance client's per-request timeout. Command
	// submission waits this long plus a margin. Default: 10s.
	RequestTimeout time.Duration

	// MQTTClient is the MQTT client implementation. Required.
	MQTTClient MQTTClient

	// Engine configures the synchronization engine. Engine.Host is
	// combined with the MQTT publisher.
	Engine EngineOptions
}

// Bridge connects the synchronization engine to MQTT. It publishes node
// state, discovery, controller and health messages, and accepts commands
// and requests from the host.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id        string
	mqtt      MQTTClient
	engine    *Engine
	gateway   *Gateway
	health    *HealthReporter
	publisher *Publisher
	submitFor time.Duration

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge id is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	catalog := opts.Engine.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	health := NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Address:   opts.ApplianceAddress,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
	})
	publisher := NewPublisher(opts.BridgeID, opts.MQTTClient, catalog, health)

	engineOpts := opts.Engine
	engineOpts.Catalog = catalog
	engineOpts.Host = Hosts(publisher, opts.Engine.Host)
	engine, err := NewEngine(engineOpts)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	health.source = engine

	ctx, ctxCancel := context.WithCancel(context.Background())

	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	b := &Bridge{
		id:        opts.BridgeID,
		submitFor: requestTimeout + submitMargin,
		mqtt:      opts.MQTTClient,
		engine:    engine,
		gateway:   NewGateway(engine),
		health:    health,
		publisher: publisher,
		ctx:       ctx,
		ctxCancel: ctxCancel,
	}
	if opts.Engine.Logger != nil {
		b.SetLogger(opts.Engine.Logger)
	}
	return b, nil
}

// Engine returns the synchronization engine.
func (b *Bridge) Engine() *Engine {
	return b.engine
}

// Gateway returns the command gateway.
func (b *Bridge) Gateway() *Gateway {
	return b.gateway
}

// Health returns the health reporter (for LWT configuration).
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start subscribes to command and request topics, starts health reporting
// and starts the engine.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	if err := b.engine.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	b.health.Start(ctx)

	b.logInfo("bridge started", "bridge_id", b.id)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.engine.Stop()
		b.wg.Wait()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[0] != TopicPrefix {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(parts[2], payload)
	case "request":
		b.handleRequest(parts[2], payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message from the host.
func (b *Bridge) handleCommand(node string, payload []byte) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if msg.NodeID == "" {
		msg.NodeID = node
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", msg.ID,
		"node_id", msg.NodeID,
		"command", msg.Command,
		"source", msg.Source)

	cmd := Command{NodeID: msg.NodeID, Verb: msg.Command}
	if v, ok := msg.Parameters["value"]; ok {
		n, ok := v.(float64)
		if !ok {
			b.publishAckError(msg, ErrCodeInvalidParameters, "'value' must be a number")
			return
		}
		if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
			b.publishAckError(msg, ErrCodeInvalidParameters, "'value' must be a whole number")
			return
		}
		iv := int(n)
		cmd.Value = &iv
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.submitFor)
	receipt, err := b.gateway.Execute(ctx, cmd)
	cancel()
	if err != nil {
		b.publishAckError(msg, ackCode(err), err.Error())
		return
	}

	b.publishAck(msg, ackStatus(receipt.Status))
	if receipt.Status == ReceiptNoOp {
		return
	}

	if b.ctx.Err() != nil {
		return
	}
	b.wg.Add(1)
	go b.awaitConfirmation(msg, receipt.Command)
}

// awaitConfirmation publishes the final ack once a poll confirms the
// command or it times out.
func (b *Bridge) awaitConfirmation(msg CommandMessage, p *PendingCommand) {
	defer b.wg.Done()

	err := p.Wait(b.ctx)
	switch {
	case err == nil:
		b.publishAck(msg, AckConfirmed)
	case errors.Is(err, ErrStopped), errors.Is(err, context.Canceled):
		// Shutdown abandons pending commands without a final ack.
	default:
		b.publishAckError(msg, ackCode(err), err.Error())
	}
}

func ackStatus(s ReceiptStatus) AckStatus {
	switch s {
	case ReceiptDispatched:
		return AckAccepted
	case ReceiptDeferred:
		return AckDeferred
	case ReceiptNoOp:
		return AckNoOp
	default:
		return AckQueued
	}
}

// ackCode maps engine errors to ack error codes.
func ackCode(err error) string {
	switch {
	case errors.Is(err, ErrNodeNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrUnsupportedCommand):
		return ErrCodeUnsupportedCommand
	case errors.Is(err, ErrInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrConnectivity):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrProtocol):
		return ErrCodeProtocolError
	case errors.Is(err, ErrCommandTimeout):
		return ErrCodeTimeout
	default:
		return ErrCodeBridgeError
	}
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(msg CommandMessage, status AckStatus) {
	b.publishAckMessage(NewAckMessage(msg, status))
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(msg CommandMessage, code, message string) {
	b.publishAckMessage(NewAckError(msg, code, message))
	b.logError("command failed",
		fmt.Errorf("%s: %s (node=%s, command_id=%s)", code, message, msg.NodeID, msg.ID))
}

func (b *Bridge) publishAckMessage(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.NodeID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest processes a request message from the host.
func (b *Bridge) handleRequest(requestID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	b.logInfo("received request", "request_id", req.RequestID, "action", req.Action)

	resp := ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
	}

	switch req.Action {
	case "read_state":
		node, ok := b.engine.Registry().Get(req.NodeID)
		if !ok {
			resp.Error = &AckError{Code: ErrCodeNotConfigured, Message: fmt.Sprintf("node %s not found", req.NodeID)}
			break
		}
		resp.Success = true
		resp.Data = map[string]any{"node": node}
	case "read_all":
		resp.Success = true
		resp.Data = map[string]any{"nodes": b.engine.Registry().List()}
	case "query":
		b.engine.RequestFullReport()
		resp.Success = true
	default:
		resp.Error = &AckError{Code: ErrCodeInvalidCommand, Message: fmt.Sprintf("unknown action: %s", req.Action)}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), payload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// SetLogger sets the logger for the bridge and its components.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
	b.engine.SetLogger(logger)
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
