package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lightningnetwork/payoutd"
	"github.com/lightningnetwork/payoutd/build"
	"github.com/urfave/cli"
)

const defaultCallTimeout = 2 * time.Minute

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[payoutcli] %v\n", err)
	os.Exit(1)
}

// getWallet builds a wallet from the daemon's configuration file. The
// returned cleanup function must be called once the wallet is no longer
// needed.
func getWallet(ctx *cli.Context) (*payoutd.Wallet, func()) {
	cfg, err := payoutd.LoadConfigFile(ctx.GlobalString("configfile"))
	if err != nil {
		fatal(fmt.Errorf("unable to load config: %w", err))
	}

	if err := payoutd.SetDebugLevel(ctx.GlobalString("debuglevel")); err != nil {
		fatal(err)
	}

	wallet, cleanup, err := payoutd.NewWalletFromConfig(cfg, nil)
	if err != nil {
		fatal(fmt.Errorf("unable to create wallet: %w", err))
	}

	return wallet, cleanup
}

// callContext returns the context bounding a single command.
func callContext(ctx *cli.Context) (context.Context, func()) {
	return context.WithTimeout(
		context.Background(), ctx.GlobalDuration("timeout"),
	)
}

func main() {
	app := cli.NewApp()
	app.Name = "payoutcli"
	app.Version = build.Version() + " commit=" + build.Commit
	app.Usage = "operate the wallet of the payout daemon (payoutd)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "configfile",
			Value:     payoutd.DefaultConfigFile,
			Usage:     "The path to payoutd's configuration file.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Value: "off",
			Usage: "The logging level of the wallet, as accepted by " +
				"payoutd's --debuglevel.",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: defaultCallTimeout,
			Usage: "The maximum time a command may take.",
		},
	}
	app.Commands = []cli.Command{
		sendCoinsCommand,
		balanceCommand,
		newAddressCommand,
		checkDepositCommand,
		listTransactionsCommand,
		splitCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
