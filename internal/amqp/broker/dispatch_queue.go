package broker

import (
	"encoding/binary"

	"github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"
)

func (c *Connection) handleQueueMethod(ch *Channel, methodID uint16, args []byte) error {
	switch methodID {
	case wire.MethodQueueDeclare:
		return c.handleQueueDeclare(ch, args)
	case wire.MethodQueueBind:
		return c.handleQueueBind(ch, args)
	case wire.MethodQueueUnbind:
		return c.handleQueueUnbind(ch, args)
	case wire.MethodQueuePurge:
		return c.handleQueuePurge(ch, args)
	case wire.MethodQueueDelete:
		return c.handleQueueDelete(ch, args)
	default:
		return closeChannelError(ch, ReplyNotImplemented, "queue method not implemented", wire.ClassQueue, methodID)
	}
}

func (c *Connection) handleQueueDeclare(ch *Channel, args []byte) error {
	if len(args) < 2 {
		return closeChannelError(ch, ReplyFrameError, "queue.declare too short", wire.ClassQueue, wire.MethodQueueDeclare)
	}
	args = args[2:] // reserved-1

	name, args, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassQueue, wire.MethodQueueDeclare)
	}
	if len(args) < 1 {
		return closeChannelError(ch, ReplyFrameError, "missing queue.declare flags", wire.ClassQueue, wire.MethodQueueDeclare)
	}
	flags := args[0]
	args = args[1:]
	passive := flags&0x01 != 0
	durable := flags&0x02 != 0
	exclusive := flags&0x04 != 0
	autoDelete := flags&0x08 != 0
	noWait := flags&0x10 != 0

	table, _, _ := wire.DecodeTable(args)

	var q *Queue
	var count int
	if passive {
		q, err = c.broker.Queues.Get(name)
		if err != nil {
			return closeChannelError(ch, ReplyNotFound, "queue not found", wire.ClassQueue, wire.MethodQueueDeclare)
		}
		count = q.Len()
	} else {
		q, count, err = c.broker.Queues.Declare(name, durable, exclusive, autoDelete, table)
		if err != nil {
			return closeChannelError(ch, ReplyPreconditionFailed, err.Error(), wire.ClassQueue, wire.MethodQueueDeclare)
		}
		// Every queue is reachable through the default exchange under its
		// own name; bind it there once.
		if def, derr := c.broker.Exchanges.Get(""); derr == nil {
			def.mu.Lock()
			bound := false
			for _, b := range def.bindings {
				bound = bound || b.Queue == q.Name
			}
			if !bound {
				def.bindings = append(def.bindings, &Binding{Queue: q.Name, RoutingKey: q.Name})
			}
			def.mu.Unlock()
		}
	}

	if noWait {
		return nil
	}

	resp := make([]byte, 0, 1+len(q.Name)+8)
	resp = append(resp, wire.EncodeShortString(q.Name)...)
	countBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(countBuf, uint32(count))
	resp = append(resp, countBuf...)
	consumersBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(consumersBuf, 0)
	resp = append(resp, consumersBuf...)
	return c.sendMethod(ch.ID, wire.ClassQueue, wire.MethodQueueDeclareOk, resp)
}

func (c *Connection) handleQueueBind(ch *Channel, args []byte) error {
	if len(args) < 2 {
		return closeChannelError(ch, ReplyFrameError, "queue.bind too short", wire.ClassQueue, wire.MethodQueueBind)
	}
	args = args[2:]
	queue, args, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassQueue, wire.MethodQueueBind)
	}
	exchange, args, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassQueue, wire.MethodQueueBind)
	}
	routingKey, args, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassQueue, wire.MethodQueueBind)
	}
	if len(args) < 1 {
		return closeChannelError(ch, ReplyFrameError, "missing queue.bind flags", wire.ClassQueue, wire.MethodQueueBind)
	}
	noWait := args[0]&0x01 != 0
	args = args[1:]
	table, _, _ := wire.DecodeTable(args)

	if _, err := c.broker.Queues.Get(queue); err != nil {
		return closeChannelError(ch, ReplyNotFound, "queue not found", wire.ClassQueue, wire.MethodQueueBind)
	}

	// Binding to an exchange that doesn't exist is a lenient no-op, matching
	// queue.unbind's precondition stance: the binding is silently dropped
	// rather than closing the channel.
	if ex, err := c.broker.Exchanges.Get(exchange); err == nil {
		ex.bind(&Binding{Queue: queue, RoutingKey: routingKey, Args: table})
	}

	if noWait {
		return nil
	}
	return c.sendMethod(ch.ID, wire.ClassQueue, wire.MethodQueueBindOk, nil)
}

func (c *Connection) handleQueueUnbind(ch *Channel, args []byte) error {
	if len(args) < 2 {
		return closeChannelError(ch, ReplyFrameError, "queue.unbind too short", wire.ClassQueue, wire.MethodQueueUnbind)
	}
	args = args[2:]
	queue, args, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassQueue, wire.MethodQueueUnbind)
	}
	exchange, args, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassQueue, wire.MethodQueueUnbind)
	}
	routingKey, _, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassQueue, wire.MethodQueueUnbind)
	}

	// Unbinding a binding that doesn't exist is a lenient no-op, matching
	// the exchange/queue manager's precondition stance elsewhere.
	if ex, err := c.broker.Exchanges.Get(exchange); err == nil {
		ex.unbind(queue, routingKey)
	}
	return c.sendMethod(ch.ID, wire.ClassQueue, wire.MethodQueueUnbindOk, nil)
}

func (c *Connection) handleQueuePurge(ch *Channel, args []byte) error {
	if len(args) < 2 {
		return closeChannelError(ch, ReplyFrameError, "queue.purge too short", wire.ClassQueue, wire.MethodQueuePurge)
	}
	args = args[2:]
	name, args, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassQueue, wire.MethodQueuePurge)
	}
	noWait := len(args) > 0 && args[0]&0x01 != 0

	q, err := c.broker.Queues.Get(name)
	if err != nil {
		return closeChannelError(ch, ReplyNotFound, "queue not found", wire.ClassQueue, wire.MethodQueuePurge)
	}
	count := q.Purge()

	if noWait {
		return nil
	}
	resp := make([]byte, 4)
	binary.BigEndian.PutUint32(resp, uint32(count))
	return c.sendMethod(ch.ID, wire.ClassQueue, wire.MethodQueuePurgeOk, resp)
}

func (c *Connection) handleQueueDelete(ch *Channel, args []byte) error {
	if len(args) < 2 {
		return closeChannelError(ch, ReplyFrameError, "queue.delete too short", wire.ClassQueue, wire.MethodQueueDelete)
	}
	args = args[2:]
	name, args, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassQueue, wire.MethodQueueDelete)
	}
	if len(args) < 1 {
		return closeChannelError(ch, ReplyFrameError, "missing queue.delete flags", wire.ClassQueue, wire.MethodQueueDelete)
	}
	flags := args[0]
	ifUnused := flags&0x01 != 0
	ifEmpty := flags&0x02 != 0
	noWait := flags&0x04 != 0

	count, err := c.broker.Queues.Delete(name, ifUnused, ifEmpty)
	if err != nil {
		return closeChannelError(ch, ReplyNotFound, err.Error(), wire.ClassQueue, wire.MethodQueueDelete)
	}
	c.broker.Exchanges.UnbindQueueFromAll(name)

	if noWait {
		return nil
	}
	resp := make([]byte, 4)
	binary.BigEndian.PutUint32(resp, uint32(count))
	return c.sendMethod(ch.ID, wire.ClassQueue, wire.MethodQueueDeleteOk, resp)
}
