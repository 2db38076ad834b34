package broker

import (
	"github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"
)

func (c *Connection) handleExchangeMethod(ch *Channel, methodID uint16, args []byte) error {
	switch methodID {
	case wire.MethodExchangeDeclare:
		return c.handleExchangeDeclare(ch, args)
	case wire.MethodExchangeDelete:
		return c.handleExchangeDelete(ch, args)
	default:
		return closeChannelError(ch, ReplyNotImplemented, "exchange method not implemented", wire.ClassExchange, methodID)
	}
}

func (c *Connection) handleExchangeDeclare(ch *Channel, args []byte) error {
	// exchange.declare: reserved-1 (short), exchange (shortstr), type
	// (shortstr), passive/durable/auto-delete/internal/nowait bit flags
	// (one octet), arguments (table).
	if len(args) < 2 {
		return closeChannelError(ch, ReplyFrameError, "exchange.declare too short", wire.ClassExchange, wire.MethodExchangeDeclare)
	}
	args = args[2:] // skip reserved-1

	name, args, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassExchange, wire.MethodExchangeDeclare)
	}
	kind, args, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassExchange, wire.MethodExchangeDeclare)
	}
	if len(args) < 1 {
		return closeChannelError(ch, ReplyFrameError, "missing exchange.declare flags", wire.ClassExchange, wire.MethodExchangeDeclare)
	}
	flags := args[0]
	args = args[1:]
	passive := flags&0x01 != 0
	durable := flags&0x02 != 0
	autoDelete := flags&0x04 != 0
	internal := flags&0x08 != 0
	noWait := flags&0x10 != 0

	table, _, _ := wire.DecodeTable(args)

	if passive {
		if _, err := c.broker.Exchanges.Get(name); err != nil {
			return closeChannelError(ch, ReplyNotFound, "exchange not found", wire.ClassExchange, wire.MethodExchangeDeclare)
		}
	} else if _, err := c.broker.Exchanges.Declare(name, kind, durable, autoDelete, internal, table); err != nil {
		return closeChannelError(ch, ReplyPreconditionFailed, err.Error(), wire.ClassExchange, wire.MethodExchangeDeclare)
	}

	if noWait {
		return nil
	}
	return c.sendMethod(ch.ID, wire.ClassExchange, wire.MethodExchangeDeclareOk, nil)
}

func (c *Connection) handleExchangeDelete(ch *Channel, args []byte) error {
	if len(args) < 2 {
		return closeChannelError(ch, ReplyFrameError, "exchange.delete too short", wire.ClassExchange, wire.MethodExchangeDelete)
	}
	args = args[2:]
	name, args, err := wire.DecodeShortString(args)
	if err != nil {
		return closeChannelError(ch, ReplyFrameError, err.Error(), wire.ClassExchange, wire.MethodExchangeDelete)
	}
	if len(args) < 1 {
		return closeChannelError(ch, ReplyFrameError, "missing exchange.delete flags", wire.ClassExchange, wire.MethodExchangeDelete)
	}
	flags := args[0]
	ifUnused := flags&0x01 != 0
	noWait := flags&0x02 != 0

	if err := c.broker.Exchanges.Delete(name, ifUnused); err != nil {
		return closeChannelError(ch, ReplyNotFound, err.Error(), wire.ClassExchange, wire.MethodExchangeDelete)
	}

	if noWait {
		return nil
	}
	return c.sendMethod(ch.ID, wire.ClassExchange, wire.MethodExchangeDeleteOk, nil)
}
