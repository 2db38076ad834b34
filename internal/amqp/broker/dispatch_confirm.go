package broker

import "github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"

func (c *Connection) handleConfirmMethod(ch *Channel, methodID uint16, args []byte) error {
	switch methodID {
	case wire.MethodConfirmSelect:
		ch.confirmMode = true
		noWait := len(args) > 0 && args[0]&0x01 != 0
		if noWait {
			return nil
		}
		return c.sendMethod(ch.ID, wire.ClassConfirm, wire.MethodConfirmSelectOk, nil)
	default:
		return closeChannelError(ch, ReplyNotImplemented, "confirm method not implemented", wire.ClassConfirm, methodID)
	}
}
