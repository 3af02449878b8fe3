package harness

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Report 压测结果
type Report struct {
	Connections         int            `json:"connections"`
	Connected           int64          `json:"connected"`
	MessagesSent        int64          `json:"messages_sent"`
	ResponsesReceived   int64          `json:"responses_received"`
	Mismatched          int64          `json:"mismatched"`
	Errors              map[Kind]int64 `json:"errors"`
	MaxInFlightConnects int64          `json:"max_in_flight_connects"`
	MaxInFlightSessions int64          `json:"max_in_flight_sessions"`
	Elapsed             time.Duration  `json:"elapsed"`
}

// TotalErrors 错误总数
func (r *Report) TotalErrors() int64 {
	var total int64
	for _, n := range r.Errors {
		total += n
	}
	return total
}

// Throughput 每秒收到的响应数
func (r *Report) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.ResponsesReceived) / r.Elapsed.Seconds()
}

// String 文本摘要
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "connections: %d (connected %d)\n", r.Connections, r.Connected)
	fmt.Fprintf(&b, "messages:    sent %d, received %d, mismatched %d\n", r.MessagesSent, r.ResponsesReceived, r.Mismatched)
	fmt.Fprintf(&b, "in flight:   connects %d, sessions %d\n", r.MaxInFlightConnects, r.MaxInFlightSessions)
	fmt.Fprintf(&b, "elapsed:     %s (%.1f resp/s)\n", r.Elapsed.Round(time.Millisecond), r.Throughput())

	kinds := make([]Kind, 0, len(r.Errors))
	for k := range r.Errors {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	fmt.Fprintf(&b, "errors:      %d", r.TotalErrors())
	for _, k := range kinds {
		fmt.Fprintf(&b, "\n  %-20s %d", k, r.Errors[k])
	}
	return b.String()
}

// recorder 并发安全的结果收集器
type recorder struct {
	connected atomic.Int64
	sent      atomic.Int64
	received  atomic.Int64
	mismatch  atomic.Int64

	connects gauge
	sessions gauge

	mu     sync.Mutex
	errors map[Kind]int64
}

func newRecorder() *recorder {
	return &recorder{errors: make(map[Kind]int64)}
}

func (r *recorder) fail(kind Kind) {
	r.mu.Lock()
	r.errors[kind]++
	r.mu.Unlock()
}

func (r *recorder) report(connections int, elapsed time.Duration) *Report {
	r.mu.Lock()
	errs := make(map[Kind]int64, len(r.errors))
	for k, v := range r.errors {
		errs[k] = v
	}
	r.mu.Unlock()

	return &Report{
		Connections:         connections,
		Connected:           r.connected.Load(),
		MessagesSent:        r.sent.Load(),
		ResponsesReceived:   r.received.Load(),
		Mismatched:          r.mismatch.Load(),
		Errors:              errs,
		MaxInFlightConnects: r.connects.max.Load(),
		MaxInFlightSessions: r.sessions.max.Load(),
		Elapsed:             elapsed,
	}
}

// gauge 当前值与峰值
type gauge struct {
	cur atomic.Int64
	max atomic.Int64
}

func (g *gauge) inc() {
	n := g.cur.Add(1)
	for {
		m := g.max.Load()
		if n <= m || g.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (g *gauge) dec() {
	g.cur.Add(-1)
}
