package broker

import "github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"

func (c *Connection) handleChannelMethod(ch *Channel, methodID uint16, args []byte) error {
	switch methodID {
	case wire.MethodChannelOpen:
		ch.setState(ChannelStateOpen)
		return c.sendMethod(ch.ID, wire.ClassChannel, wire.MethodChannelOpenOk, encodeLongStringBytes(""))
	case wire.MethodChannelFlow:
		active := len(args) > 0 && args[0] != 0
		out := []byte{0}
		if active {
			out[0] = 1
		}
		return c.sendMethod(ch.ID, wire.ClassChannel, wire.MethodChannelFlowOk, out)
	case wire.MethodChannelClose:
		ch.setState(ChannelStateClosed)
		return c.sendMethod(ch.ID, wire.ClassChannel, wire.MethodChannelCloseOk, nil)
	case wire.MethodChannelCloseOk:
		ch.setState(ChannelStateClosed)
		return nil
	default:
		return closeChannelError(ch, ReplyCommandInvalid, "unexpected channel method", wire.ClassChannel, methodID)
	}
}

// ensureChannel registers a brand-new channel on first use of its number.
func (c *Connection) ensureChannel(id uint16) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[id]; ok {
		return ch, nil
	}
	ch := NewChannel(id, c.log)
	c.channels[id] = ch
	return ch, nil
}

// closeChannelError builds the error the frame-dispatch loop translates
// into a channel.close frame sent to the peer, without tearing down the
// whole connection.
func closeChannelError(ch *Channel, code ReplyCode, text string, classID, methodID uint16) error {
	return &channelCloseSignal{ch: ch, err: NewAMQPError(code, text, classID, methodID)}
}

type channelCloseSignal struct {
	ch  *Channel
	err *AMQPError
}

func (s *channelCloseSignal) Error() string { return s.err.Error() }
