package trader

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"tradingcore/src/database"
	"tradingcore/src/server"
	"tradingcore/src/system"
)

// Trader runs the full pipeline: database, trading system and HTTP API, then
// shuts everything down in order on SIGINT/SIGTERM.
type Trader struct {
	Log *logger.Entry
}

func (t *Trader) Start() error {
	t.Log = logger.WithField("cmd", "trader")

	if err := database.InitMainDB(); err != nil {
		return err
	}

	sys, err := system.New(system.GetConfig())
	if err != nil {
		return err
	}
	if err := sys.Start(context.Background()); err != nil {
		return err
	}

	srv := server.New(server.GetConfig(), server.Deps{
		Bus:      sys.Bus,
		Store:    sys.Store,
		Manager:  sys.Manager,
		Runtime:  sys.Runtime,
		Reporter: sys,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		t.Log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			t.Log.WithError(err).Error("server crashed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), system.GetConfig().ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Log.WithError(err).Error("server shutdown")
	}
	return sys.Stop()
}
