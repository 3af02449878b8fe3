package ws

import "sync/atomic"

// Stats 服务计数
// 只用于观测，不参与响应路径的判断
type Stats struct {
	accepted         atomic.Int64
	rejected         atomic.Int64
	active           atomic.Int64
	messagesReceived atomic.Int64
	responsesSent    atomic.Int64
	dropped          atomic.Int64
	sendFailures     atomic.Int64
	receiveFailures  atomic.Int64
	storeFailures    atomic.Int64
}

// StatsSnapshot 计数快照
type StatsSnapshot struct {
	Accepted         int64 `json:"accepted"`
	Rejected         int64 `json:"rejected"`
	Active           int64 `json:"active"`
	MessagesReceived int64 `json:"messages_received"`
	ResponsesSent    int64 `json:"responses_sent"` // 已写出到连接的消息
	Dropped          int64 `json:"dropped"`
	SendFailures     int64 `json:"send_failures"`
	ReceiveFailures  int64 `json:"receive_failures"`
	StoreFailures    int64 `json:"store_failures"`
}

// Snapshot 读取当前计数
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:         s.accepted.Load(),
		Rejected:         s.rejected.Load(),
		Active:           s.active.Load(),
		MessagesReceived: s.messagesReceived.Load(),
		ResponsesSent:    s.responsesSent.Load(),
		Dropped:          s.dropped.Load(),
		SendFailures:     s.sendFailures.Load(),
		ReceiveFailures:  s.receiveFailures.Load(),
		StoreFailures:    s.storeFailures.Load(),
	}
}
