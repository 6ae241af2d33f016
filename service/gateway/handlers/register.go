package handlers

import (
	"PPoker/service/gateway"
	"PPoker/service/presence"
)

// Register 把所有客户端事件挂到 dispatcher 上
func Register(d *gateway.Dispatcher, p *presence.Protocol) {
	d.Register(
		NewJoinHandler(p),
		NewRejoinHandler(p),
		NewLeaveHandler(p),
		NewSyncHandler(p),
		NewVoteHandler(p),
		NewAdminHandler(p),
		NewTypingHandler(p, true),
		NewTypingHandler(p, false),
	)
}
