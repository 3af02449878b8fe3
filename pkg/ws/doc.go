// Package ws provides the connection lifecycle and message dispatch engine of the echo service.
//
// # Features
//
//   - Connection registry with a configurable limit and point-in-time snapshots
//   - One reader and one writer goroutine per connection, ordered delivery per connection
//   - Pluggable response policy; the default echoes "Echo: " + payload
//   - Optional per-message store side effect that never blocks the echo
//   - Event bus for connection-level errors
//   - Graceful shutdown with close code 1001 and a forced close after the grace period
//
// # Basic Usage
//
//	gw, err := store.New(store.DefaultConfig(), log)
//	if err != nil {
//	    return err
//	}
//
//	srv, err := ws.NewServer(gw,
//	    ws.WithMaxConnections(10000),
//	    ws.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//
//	// Create schema and seed data before accepting connections
//	if err := srv.OnStart(ctx); err != nil {
//	    return err
//	}
//
//	r.GET("/ws", func(c *gin.Context) {
//	    _ = srv.HandleUpgrade(c.Writer, c.Request)
//	})
//
//	// Graceful shutdown
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	srv.Shutdown(ctx)
//
// # Connection States
//
//	Connecting -> Open -> Closing -> Closed
//
// Messages received in any state other than Open are discarded. A connection is
// removed from the registry exactly once, after its writer goroutine has exited.
//
// # Event Handling
//
//	srv.Subscribe(ws.EventStoreFailed, func(e ws.Event) {
//	    log.Warn("store failed", zap.String("conn_id", e.ConnID), zap.Error(e.Err))
//	})
//
//	srv.Subscribe(ws.EventConnectionClosed, func(e ws.Event) {
//	    log.Info("closed", zap.String("remote_addr", e.RemoteAddr), zap.String("reason", e.Reason))
//	})
package ws
