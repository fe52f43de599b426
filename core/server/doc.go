// Package server provides an HTTP server wrapper with graceful shutdown,
// environment-driven configuration and optional TLS.
//
// Basic usage:
//
//	srv := server.New(":8080",
//		server.WithLogger(log),
//		server.WithShutdownTimeout(15*time.Second),
//	)
//
//	if err := srv.Start(ctx, handler); err != nil {
//		log.Error("server failed", "error", err)
//	}
//
// Environment configuration:
//
//	var cfg server.Config
//	config.MustLoad(&cfg)
//	srv, err := server.NewFromConfig(cfg, server.WithLogger(log))
//
// For coordinated shutdown with other components, Run returns a closure
// for errgroup:
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, handler))
//	g.Go(sweeper.Run(ctx))
//	if err := g.Wait(); err != nil { ... }
package server
