package broker

import "github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"

// handleConnectionMethod handles connection-class methods received after
// the handshake has already completed (i.e. just connection.close /
// connection.close-ok; start/tune/open are consumed inline by handshake).
func (c *Connection) handleConnectionMethod(methodID uint16, args []byte) error {
	switch methodID {
	case wire.MethodConnectionClose:
		_ = c.sendMethod(0, wire.ClassConnection, wire.MethodConnectionCloseOk, nil)
		c.mu.Lock()
		c.state = ConnectionStateClosed
		c.mu.Unlock()
		return nil
	case wire.MethodConnectionCloseOk:
		c.mu.Lock()
		c.state = ConnectionStateClosed
		c.mu.Unlock()
		return nil
	default:
		return &connectionCloseSignal{NewAMQPError(ReplyCommandInvalid, "unexpected connection method", wire.ClassConnection, methodID)}
	}
}
