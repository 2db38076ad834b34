package broker

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"
)

// ConnectionState is the lifecycle state of an AMQP connection, driven by
// the protocol handshake (start/start-ok/tune/tune-ok/open/open-ok) and
// eventual close/close-ok exchange.
type ConnectionState int

const (
	ConnectionStateHandshake ConnectionState = iota
	ConnectionStateOpen
	ConnectionStateClosing
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateHandshake:
		return "handshake"
	case ConnectionStateOpen:
		return "open"
	case ConnectionStateClosing:
		return "closing"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TuningParams are the negotiated connection.tune values.
type TuningParams struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

// DefaultTuningParams matches what most broker implementations offer;
// clients may negotiate these down in tune-ok but never up.
var DefaultTuningParams = TuningParams{
	ChannelMax: 2047,
	FrameMax:   131072,
	Heartbeat:  60,
}

// Connection is one accepted AMQP socket: its frame stream, negotiated
// tuning, and the set of channels opened on it.
type Connection struct {
	ID     uint64
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	log    logr.Logger
	broker *Broker

	mu       sync.Mutex
	state    ConnectionState
	tuning   TuningParams
	channels map[uint16]*Channel

	writeMu sync.Mutex // serializes frame writes across goroutines (delivery loops + request/response)
}

// NewConnection wraps an accepted socket. Call Serve to run its lifecycle.
func NewConnection(id uint64, conn net.Conn, b *Broker, log logr.Logger) *Connection {
	return &Connection{
		ID:       id,
		conn:     conn,
		r:        bufio.NewReader(conn),
		w:        bufio.NewWriter(conn),
		log:      log.WithValues("connectionID", id),
		broker:   b,
		state:    ConnectionStateHandshake,
		tuning:   DefaultTuningParams,
		channels: map[uint16]*Channel{},
	}
}

// Serve runs the handshake and then the frame-dispatch loop until the
// connection closes or ctx is cancelled.
func (c *Connection) Serve(ctx context.Context) error {
	defer c.conn.Close()

	if err := c.handshake(); err != nil {
		c.log.V(1).Info("handshake failed", "error", err.Error())
		return err
	}

	return c.handle(ctx)
}

// handshake performs the AMQP 0.9.1 connection.start / start-ok / tune /
// tune-ok / open / open-ok exchange.
func (c *Connection) handshake() error {
	var preamble [8]byte
	if _, err := c.r.Read(preamble[:]); err != nil {
		return fmt.Errorf("reading protocol header: %w", err)
	}
	if preamble != wire.ProtocolHeader {
		// RabbitMQ and every other broker that rejects a protocol mismatch
		// write the header back with the version it actually speaks, so a
		// client probing for the right dialect can read it off the wire
		// instead of just seeing the connection drop.
		c.writeMu.Lock()
		_, _ = c.conn.Write(wire.ProtocolHeader[:])
		c.writeMu.Unlock()
		return fmt.Errorf("%w: unsupported protocol header", ErrProtocolViolation)
	}

	if err := c.sendMethod(0, wire.ClassConnection, wire.MethodConnectionStart, buildConnectionStart()); err != nil {
		return err
	}

	f, err := wire.ReadFrame(c.r)
	if err != nil {
		return fmt.Errorf("reading connection.start-ok: %w", err)
	}
	hdr, _, err := wire.DecodeMethodHeader(f.Payload)
	if err != nil {
		return err
	}
	if hdr.ClassID != wire.ClassConnection || hdr.MethodID != wire.MethodConnectionStartOk {
		return fmt.Errorf("%w: expected connection.start-ok", ErrProtocolViolation)
	}

	if err := c.sendMethod(0, wire.ClassConnection, wire.MethodConnectionTune, buildConnectionTune(c.tuning)); err != nil {
		return err
	}

	f, err = wire.ReadFrame(c.r)
	if err != nil {
		return fmt.Errorf("reading connection.tune-ok: %w", err)
	}
	hdr, tuneArgs, err := wire.DecodeMethodHeader(f.Payload)
	if err != nil {
		return err
	}
	if hdr.ClassID != wire.ClassConnection || hdr.MethodID != wire.MethodConnectionTuneOk {
		return fmt.Errorf("%w: expected connection.tune-ok", ErrProtocolViolation)
	}
	c.applyTuneOk(tuneArgs)

	f, err = wire.ReadFrame(c.r)
	if err != nil {
		return fmt.Errorf("reading connection.open: %w", err)
	}
	hdr, _, err = wire.DecodeMethodHeader(f.Payload)
	if err != nil {
		return err
	}
	if hdr.ClassID != wire.ClassConnection || hdr.MethodID != wire.MethodConnectionOpen {
		return fmt.Errorf("%w: expected connection.open", ErrProtocolViolation)
	}

	if err := c.sendMethod(0, wire.ClassConnection, wire.MethodConnectionOpenOk, []byte{0}); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = ConnectionStateOpen
	c.mu.Unlock()
	return nil
}

func buildConnectionStart() []byte {
	serverProps := wire.EncodeTable(wire.Table{
		"product":  "MockForge",
		"version":  "1.0",
		"platform": "Go",
		"capabilities": wire.Table{
			"publisher_confirms":           true,
			"exchange_exchange_bindings":   false,
			"basic.nack":                   true,
			"consumer_cancel_notify":       true,
			"connection.blocked":           false,
			"authentication_failure_close": true,
		},
	})
	out := []byte{0, 9} // version-major, version-minor
	out = append(out, serverProps...)
	out = append(out, encodeLongStringBytes("PLAIN AMQPLAIN")...)
	out = append(out, encodeLongStringBytes("en_US")...)
	return out
}

func encodeLongStringBytes(s string) []byte {
	out := make([]byte, 4+len(s))
	out[0], out[1], out[2], out[3] = byte(len(s)>>24), byte(len(s)>>16), byte(len(s)>>8), byte(len(s))
	copy(out[4:], s)
	return out
}

func buildConnectionTune(t TuningParams) []byte {
	out := make([]byte, 8)
	out[0], out[1] = byte(t.ChannelMax>>8), byte(t.ChannelMax)
	out[2], out[3], out[4], out[5] = byte(t.FrameMax>>24), byte(t.FrameMax>>16), byte(t.FrameMax>>8), byte(t.FrameMax)
	out[6], out[7] = byte(t.Heartbeat>>8), byte(t.Heartbeat)
	return out
}

func (c *Connection) applyTuneOk(args []byte) {
	if len(args) < 8 {
		return
	}
	channelMax := uint16(args[0])<<8 | uint16(args[1])
	frameMax := uint32(args[2])<<24 | uint32(args[3])<<16 | uint32(args[4])<<8 | uint32(args[5])
	heartbeat := uint16(args[6])<<8 | uint16(args[7])

	c.mu.Lock()
	defer c.mu.Unlock()
	// A client may only negotiate these down from our offer, never up.
	if channelMax != 0 && (c.tuning.ChannelMax == 0 || channelMax < c.tuning.ChannelMax) {
		c.tuning.ChannelMax = channelMax
	}
	if frameMax != 0 && (c.tuning.FrameMax == 0 || frameMax < c.tuning.FrameMax) {
		c.tuning.FrameMax = frameMax
	}
	if heartbeat < c.tuning.Heartbeat {
		c.tuning.Heartbeat = heartbeat
	}
}

// sendMethod writes a complete method frame.
func (c *Connection) sendMethod(channel uint16, classID, methodID uint16, args []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.w, &wire.Frame{
		Type:    wire.FrameMethod,
		Channel: channel,
		Payload: wire.EncodeMethodHeader(classID, methodID, args),
	})
}

func (c *Connection) sendContent(channel uint16, classID uint16, body []byte, props wire.BasicProperties) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wire.WriteFrame(c.w, &wire.Frame{
		Type:    wire.FrameHeader,
		Channel: channel,
		Payload: wire.EncodeContentHeader(classID, uint64(len(body)), props),
	}); err != nil {
		return err
	}
	return wire.WriteFrame(c.w, &wire.Frame{
		Type:    wire.FrameBody,
		Channel: channel,
		Payload: body,
	})
}

// handle is the main frame-dispatch loop: read a frame, route it to the
// connection- or channel-level handler, repeat until EOF/close/ctx done.
func (c *Connection) handle(ctx context.Context) error {
	defer c.teardown()

	frames := make(chan *wire.Frame)
	errs := make(chan error, 1)
	go func() {
		for {
			f, err := wire.ReadFrame(c.r)
			if err != nil {
				errs <- err
				return
			}
			frames <- f
		}
	}()

	// A nil channel never fires, so a zero heartbeat sends no heartbeats.
	var heartbeatC <-chan time.Time
	if c.tuning.Heartbeat > 0 {
		heartbeat := time.NewTicker(time.Duration(c.tuning.Heartbeat) * time.Second)
		defer heartbeat.Stop()
		heartbeatC = heartbeat.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case f := <-frames:
			if err := c.dispatchFrame(f); err != nil {
				if cerr, ok := asConnectionClose(err); ok {
					c.sendConnectionClose(cerr)
					return nil
				}
				if cs, ok := err.(*channelCloseSignal); ok {
					cs.ch.setState(ChannelStateClosed)
					_ = c.sendConnectionCloseOnChannel(cs.ch.ID, cs.err)
					continue
				}
				c.log.V(1).Info("dispatch error", "error", err.Error())
				return err
			}
			c.mu.Lock()
			closing := c.state == ConnectionStateClosed
			c.mu.Unlock()
			if closing {
				return nil
			}
		case <-heartbeatC:
			if c.tuning.Heartbeat == 0 {
				continue
			}
			c.writeMu.Lock()
			_ = wire.WriteFrame(c.w, &wire.Frame{Type: wire.FrameHeartbeat})
			c.writeMu.Unlock()
		}
	}
}

func (c *Connection) dispatchFrame(f *wire.Frame) error {
	switch f.Type {
	case wire.FrameHeartbeat:
		return nil
	case wire.FrameMethod:
		return c.dispatchMethod(f)
	case wire.FrameHeader, wire.FrameBody:
		return c.dispatchContent(f)
	default:
		return fmt.Errorf("%w: unknown frame type %d", ErrProtocolViolation, f.Type)
	}
}

func (c *Connection) dispatchMethod(f *wire.Frame) error {
	hdr, args, err := wire.DecodeMethodHeader(f.Payload)
	if err != nil {
		return err
	}

	if f.Channel == 0 && hdr.ClassID == wire.ClassConnection {
		return c.handleConnectionMethod(hdr.MethodID, args)
	}

	if hdr.ClassID == wire.ClassChannel && hdr.MethodID == wire.MethodChannelOpen {
		ch, err := c.ensureChannel(f.Channel)
		if err != nil {
			return err
		}
		return c.handleChannelMethod(ch, hdr.MethodID, args)
	}

	ch, err := c.channelOrError(f.Channel)
	if err != nil {
		return err
	}

	switch hdr.ClassID {
	case wire.ClassChannel:
		return c.handleChannelMethod(ch, hdr.MethodID, args)
	case wire.ClassExchange:
		return c.handleExchangeMethod(ch, hdr.MethodID, args)
	case wire.ClassQueue:
		return c.handleQueueMethod(ch, hdr.MethodID, args)
	case wire.ClassBasic:
		return c.handleBasicMethod(ch, hdr.MethodID, args)
	case wire.ClassTx:
		return c.handleTxMethod(ch, hdr.MethodID, args)
	case wire.ClassConfirm:
		return c.handleConfirmMethod(ch, hdr.MethodID, args)
	default:
		return fmt.Errorf("%w: unknown class %d", ErrProtocolViolation, hdr.ClassID)
	}
}

func (c *Connection) channelOrError(id uint16) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[id]
	if !ok || ch.State() == ChannelStateClosed {
		return nil, fmt.Errorf("%w: channel %d", ErrChannelClosed, id)
	}
	return ch, nil
}

func (c *Connection) dispatchContent(f *wire.Frame) error {
	ch, err := c.channelOrError(f.Channel)
	if err != nil {
		return err
	}
	if f.Type == wire.FrameHeader {
		h, err := wire.DecodeContentHeader(f.Payload)
		if err != nil {
			return err
		}
		return c.applyContentHeader(ch, h)
	}
	return c.applyContentBody(ch, f.Payload)
}

func (c *Connection) teardown() {
	c.mu.Lock()
	c.state = ConnectionStateClosed
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		for _, con := range ch.allConsumers() {
			close(con.cancel)
		}
		// Unacked messages are not auto-requeued on disconnect; they simply
		// stay outstanding once the channel tracking them is gone.
	}
	c.log.V(1).Info("connection closed")
}

type connectionCloseSignal struct {
	err *AMQPError
}

func (s *connectionCloseSignal) Error() string { return s.err.Error() }

func asConnectionClose(err error) (*AMQPError, bool) {
	if s, ok := err.(*connectionCloseSignal); ok {
		return s.err, true
	}
	return nil, false
}

func (c *Connection) sendConnectionClose(e *AMQPError) {
	args := make([]byte, 0, 32)
	args = append(args, byte(e.Code>>8), byte(e.Code))
	args = append(args, encodeShortStringLocal(e.Text)...)
	args = append(args, byte(e.ClassID>>8), byte(e.ClassID), byte(e.MethodID>>8), byte(e.MethodID))
	_ = c.sendMethod(0, wire.ClassConnection, wire.MethodConnectionClose, args)

	c.mu.Lock()
	c.state = ConnectionStateClosed
	c.mu.Unlock()
}

func (c *Connection) sendConnectionCloseOnChannel(channel uint16, e *AMQPError) error {
	args := make([]byte, 0, 32)
	args = append(args, byte(e.Code>>8), byte(e.Code))
	args = append(args, encodeShortStringLocal(e.Text)...)
	args = append(args, byte(e.ClassID>>8), byte(e.ClassID), byte(e.MethodID>>8), byte(e.MethodID))
	return c.sendMethod(channel, wire.ClassChannel, wire.MethodChannelClose, args)
}

func encodeShortStringLocal(s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	out := make([]byte, 1+len(s))
	out[0] = byte(len(s))
	copy(out[1:], s)
	return out
}
