// Package harness 并发压测客户端
//
// 以有界 worker 池建立大量连接，每个连接按序发送消息并校验回显。
package harness

import (
	"context"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tokmz/wsecho/pkg/errors"
	"github.com/tokmz/wsecho/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const echoPrefix = "Echo: "

// closeWait 发送关闭帧后等待服务端回执的时间
const closeWait = time.Second

// Run 执行压测，所有连接结束后返回结果
// ctx 取消或超时时停止调度并关闭所有打开的连接，返回的 error 包含 ErrCancelled
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	log := cfg.Logger.Named("harness")

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	r := &runner{
		cfg:    cfg,
		rec:    newRecorder(),
		log:    log,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}

	log.Info("harness started",
		zap.String("url", cfg.URL),
		zap.Int("connections", cfg.Connections),
		zap.Int("messages_per_connection", cfg.MessagesPerConnection),
		zap.Int("concurrency", cfg.Concurrency),
	)

	start := time.Now()

	var g errgroup.Group
	g.SetLimit(cfg.Concurrency)
	for i := 0; i < cfg.Connections; i++ {
		if ctx.Err() != nil {
			// 未调度的连接记为取消
			for j := i; j < cfg.Connections; j++ {
				r.rec.fail(KindCancelled)
			}
			break
		}
		// 连接编号从 1 开始
		client := i + 1
		g.Go(func() error {
			r.session(ctx, client)
			return nil
		})
	}
	_ = g.Wait()

	report := r.rec.report(cfg.Connections, time.Since(start))
	log.Info("harness finished",
		zap.Int64("connected", report.Connected),
		zap.Int64("responses", report.ResponsesReceived),
		zap.Int64("errors", report.TotalErrors()),
		zap.Duration("elapsed", report.Elapsed),
	)

	if err := ctx.Err(); err != nil {
		return report, ErrCancelled.WithError(err)
	}
	return report, nil
}

type runner struct {
	cfg    Config
	rec    *recorder
	log    logger.Logger
	dialer *websocket.Dialer
}

// session 单个连接会话：建连、逐条发送并等待回显、关闭
func (r *runner) session(ctx context.Context, client int) {
	r.rec.sessions.inc()
	defer r.rec.sessions.dec()

	if ctx.Err() != nil {
		r.rec.fail(KindCancelled)
		return
	}

	conn, err := r.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			r.rec.fail(KindCancelled)
			return
		}
		r.rec.fail(KindHandshakeFailed)
		r.log.Debug("handshake failed", zap.Int("client", client), zap.Error(ErrHandshakeFailed.WithError(err)))
		return
	}
	r.rec.connected.Add(1)

	// 取消时立即关闭底层连接，阻塞中的读写随之返回
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	for m := 0; m < r.cfg.MessagesPerConnection; m++ {
		payload := FormatMessage(r.cfg.MessageFormat, client, m)

		_ = conn.SetWriteDeadline(time.Now().Add(r.cfg.ResponseTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			r.rec.fail(r.classify(ctx, err, KindSendFailed))
			r.log.Debug("send failed", zap.Int("client", client), zap.Error(ErrSendFailed.WithError(err)))
			return
		}
		r.rec.sent.Add(1)

		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.ResponseTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.rec.fail(r.classify(ctx, err, KindReceiveFailed))
			r.log.Debug("receive failed", zap.Int("client", client), zap.Error(ErrReceiveFailed.WithError(err)))
			return
		}

		if string(data) != echoPrefix+payload {
			r.rec.mismatch.Add(1)
			r.rec.fail(KindUnexpectedResponse)
			continue
		}
		r.rec.received.Add(1)
	}

	r.closeGracefully(conn)
}

// connect 建立连接，期间计入在途建连数
func (r *runner) connect(ctx context.Context) (*websocket.Conn, error) {
	r.rec.connects.inc()
	defer r.rec.connects.dec()

	conn, resp, err := r.dialer.DialContext(ctx, r.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// closeGracefully 发送 1000 并等待服务端回执
func (r *runner) closeGracefully(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(closeWait))
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// classify 区分取消、超时与普通收发错误
func (r *runner) classify(ctx context.Context, err error, fallback Kind) Kind {
	if ctx.Err() != nil {
		return KindCancelled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return fallback
}
