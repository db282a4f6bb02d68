package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"security-intel/internal/config"
	"security-intel/internal/factory"
	"security-intel/internal/util"
)

func main() {
	// Initialize factory (loads config, connects clients, hydrates the store)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := f.Router()

	// Ingest consumer and archive sinks
	bgCtx, stopBackground := context.WithCancel(context.Background())
	bgDone := make(chan error, 1)
	go func() { bgDone <- f.RunBackground(bgCtx) }()

	var serverAddr string
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	} else {
		serverAddr = cfg.GetServerAddress()
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	servers := []*http.Server{server}
	if cfg.Server.EnableTLS {
		tlsManager := f.TLSManager()
		server.TLSConfig = tlsManager.GetTLSConfig()

		// In production with AutoCert, port 80 answers ACME challenges
		if cfg.IsProduction() && cfg.Server.AutoCert {
			servers = append(servers, startChallengeServer(f))
		}

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	serverErr := startServer(server, cfg)

	waitForShutdown(serverErr, bgDone)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}

	// Stop ingest first so the sinks flush everything that was accepted
	stopBackground()
	if err := <-bgDone; err != nil {
		util.Error("Background workers stopped with error", util.ErrorField(err))
	}
}

func startChallengeServer(f *factory.Factory) *http.Server {
	autoCertManager := f.TLSManager().GetAutocertManager()
	if autoCertManager == nil {
		util.Fatal("AutoCert manager is not available in production")
	}

	httpServer := &http.Server{
		Addr:    ":80",
		Handler: autoCertManager.HTTPHandler(nil),
	}
	go func() {
		util.Info("Starting HTTP redirect server on port 80")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("HTTP redirect server failed", util.ErrorField(err))
		}
	}()
	return httpServer
}

func startServer(server *http.Server, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			// Certificates come from TLSConfig.GetCertificate
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)
	return errCh
}

// waitForShutdown blocks until a signal arrives, the server fails or the
// background workers stop on their own.
func waitForShutdown(serverErr <-chan error, bgDone chan error) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-signalChan:
		util.Info("Received shutdown signal", util.String("signal", sig.String()))
	case err := <-serverErr:
		util.Error("Server failed", util.ErrorField(err))
	case err := <-bgDone:
		util.Error("Background workers stopped", util.ErrorField(err))
		// Put it back for the shutdown path in main
		bgDone <- err
	}
}
