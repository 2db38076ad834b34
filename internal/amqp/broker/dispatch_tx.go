package broker

import "github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"

func (c *Connection) handleTxMethod(ch *Channel, methodID uint16, args []byte) error {
	switch methodID {
	case wire.MethodTxSelect:
		ch.txMode = true
		return c.sendMethod(ch.ID, wire.ClassTx, wire.MethodTxSelectOk, nil)
	case wire.MethodTxCommit:
		return c.handleTxCommit(ch)
	case wire.MethodTxRollback:
		ch.txPublish = nil
		ch.txAcks = nil
		return c.sendMethod(ch.ID, wire.ClassTx, wire.MethodTxRollbackOk, nil)
	default:
		return closeChannelError(ch, ReplyNotImplemented, "tx method not implemented", wire.ClassTx, methodID)
	}
}

func (c *Connection) handleTxCommit(ch *Channel) error {
	pending := ch.txPublish
	acks := ch.txAcks
	ch.txPublish = nil
	ch.txAcks = nil

	for _, tag := range acks {
		ch.ackUpTo(tag, false)
	}

	for _, msg := range pending {
		ex, err := c.broker.Exchanges.Get(msg.Exchange)
		if err != nil {
			continue
		}
		queues := ex.route(msg.RoutingKey, msg.Properties.Headers)
		c.deliverToQueues(queues, msg)
		if msg.Mandatory && len(queues) == 0 {
			c.sendBasicReturn(ch, msg, ReplyNoRoute, "NO_ROUTE")
		}
	}

	return c.sendMethod(ch.ID, wire.ClassTx, wire.MethodTxCommitOk, nil)
}
