package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/RafliFerdian25/go-signaling/internal/router"
	"github.com/RafliFerdian25/go-signaling/internal/server/middleware"
	"github.com/RafliFerdian25/go-signaling/internal/signal"
	"github.com/RafliFerdian25/go-signaling/pkg/config"
	"github.com/RafliFerdian25/go-signaling/pkg/state"
	"github.com/RafliFerdian25/go-signaling/pkg/state/statemanager"
	"github.com/RafliFerdian25/go-signaling/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	signal       *signal.Service
	eventRouter  *router.EventRouter
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	stateManager := statemanager.NewInMemoryManager(logger)
	signalService := signal.NewService(logger, stateManager)
	eventRouter := router.NewEventRouter(logger, stateManager, signalService.Routes())

	app := &App{
		logger:       logger,
		stateManager: stateManager,
		signal:       signalService,
		eventRouter:  eventRouter,
		config:       cfg,
		ctx:          rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	// Create a cycler function that closes over the state manager and logger.
	connCycler := func(ipAddr string) {
		oldest, found := stateManager.FindOldestConnectionByIP(ipAddr)
		if found {
			logger.Info("Cycling connection: closing oldest", "ip", ipAddr, "connID", oldest.ID)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				logger,
				stateManager.ConnectionCountByIP,
				connCycler,
				app.config.Server.ConnectionLimit,
			),
		),
	)

	app.http = &http.Server{Addr: app.config.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	// The transport connect event: the registry learns about the connection
	// before any message can arrive.
	if _, err := a.stateManager.RegisterConnection(conn, reqMeta.IP); err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Cleaning up connection after closure", slog.String("connID", id.String()))
		a.signal.HandleDisconnect(id)
	})

	connLogger.Info("Client connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.stateManager.AllConnections() {
		conn.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
