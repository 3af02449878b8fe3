package ws

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// acceptSeq 接入序号，用于快照排序
var acceptSeq atomic.Uint64

// newConnID 生成连接 ID
func newConnID() string {
	return uuid.NewString()
}

// nextSeq 下一个接入序号
func nextSeq() uint64 {
	return acceptSeq.Add(1)
}
