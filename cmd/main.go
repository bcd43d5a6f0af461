package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradingcore/cmd/ingest"
	"tradingcore/cmd/trader"
	"tradingcore/src/database"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Tradingcore CMD"
	app.Usage = "The tradingcore command line interface"

	app.Commands = []cli.Command{
		traderCMD,
		ingestCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	traderCMD = cli.Command{
		Name:        "trader",
		Usage:       "run the trading system",
		Action:      traderAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the full trading pipeline with the HTTP API`,
	}
	ingestCMD = cli.Command{
		Name:        "ingest",
		Usage:       "run the market data feeder",
		Action:      ingestAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Poll exchange trades and normalize them into candles`,
	}
)

func traderAction(_ *cli.Context) error {
	logrus.Info("Starting trader CMD")

	t := &trader.Trader{}
	if err := t.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func ingestAction(_ *cli.Context) error {
	logrus.Info("Starting ingest CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Connecting to database")
		return err
	}

	ing := &ingest.Ingest{}
	if err := ing.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}
