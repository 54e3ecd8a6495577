package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/urfave/cli"
)

var sendCoinsCommand = cli.Command{
	Name:      "sendcoins",
	Category:  "Payments",
	Usage:     "Pay an amount out of the pool account.",
	ArgsUsage: "addr amt",
	Description: `
	Pay amt satoshis to addr out of the pool account. A failed send is
	only retried after the recent transactions of addr show that the
	payment was not made, so a single invocation never pays twice.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "addr",
			Usage: "the address to send coins to",
		},
		cli.Int64Flag{
			Name:  "amt",
			Usage: "the number of satoshis to send",
		},
	},
	Action: sendCoins,
}

func sendCoins(ctx *cli.Context) error {
	var (
		addr string
		amt  int64
		err  error
	)
	args := ctx.Args()

	switch {
	case ctx.IsSet("addr"):
		addr = ctx.String("addr")
	case args.Present():
		addr = args.First()
		args = args.Tail()
	default:
		return fmt.Errorf("address argument missing")
	}

	switch {
	case ctx.IsSet("amt"):
		amt = ctx.Int64("amt")
	case args.Present():
		amt, err = strconv.ParseInt(args.First(), 10, 64)
		if err != nil {
			return fmt.Errorf("unable to decode amount: %w", err)
		}
	default:
		return fmt.Errorf("amount argument missing")
	}

	wallet, cleanup := getWallet(ctx)
	defer cleanup()

	ctxc, cancel := callContext(ctx)
	defer cancel()

	hash, err := wallet.SendCoins(ctxc, addr, btcutil.Amount(amt))
	if err != nil {
		return err
	}

	fmt.Println(hash)

	return nil
}

var balanceCommand = cli.Command{
	Name:      "balance",
	Category:  "Accounts",
	Usage:     "Show the balance of one or more accounts.",
	ArgsUsage: "[account...]",
	Description: `
	Show the balance of the given accounts at the configured confirmation
	threshold. Without arguments the pool, funding and deposit accounts
	are shown.
	`,
	Action: balance,
}

func balance(ctx *cli.Context) error {
	accounts := []string(ctx.Args())
	if len(accounts) == 0 {
		accounts = []string{
			ledger.PoolAccount, ledger.FundingAccount,
			ledger.DepositAccount,
		}
	}

	wallet, cleanup := getWallet(ctx)
	defer cleanup()

	ctxc, cancel := callContext(ctx)
	defer cancel()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Account", "Balance"})

	for _, account := range accounts {
		amt, err := wallet.Balance(ctxc, account)
		if err != nil {
			return fmt.Errorf("unable to query %v: %w", account,
				err)
		}

		t.AppendRow(table.Row{account, amt})
	}
	t.Render()

	return nil
}

var newAddressCommand = cli.Command{
	Name:      "newaddress",
	Category:  "Accounts",
	Usage:     "Create a new address in an account.",
	ArgsUsage: "[account]",
	Action:    newAddress,
}

func newAddress(ctx *cli.Context) error {
	account := ledger.DepositAccount
	if ctx.Args().Present() {
		account = ctx.Args().First()
	}

	wallet, cleanup := getWallet(ctx)
	defer cleanup()

	ctxc, cancel := callContext(ctx)
	defer cancel()

	addr, err := wallet.NewAddress(ctxc, account)
	if err != nil {
		return err
	}

	fmt.Println(addr)

	return nil
}

var checkDepositCommand = cli.Command{
	Name:      "checkdeposit",
	Category:  "Accounts",
	Usage:     "Show the amount received at a deposit address.",
	ArgsUsage: "addr",
	Action:    checkDeposit,
}

func checkDeposit(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return cli.ShowCommandHelp(ctx, "checkdeposit")
	}

	wallet, cleanup := getWallet(ctx)
	defer cleanup()

	ctxc, cancel := callContext(ctx)
	defer cancel()

	amt, err := wallet.CheckDeposit(ctxc, ctx.Args().First())
	if err != nil {
		return err
	}

	fmt.Println(amt)

	return nil
}

var listTransactionsCommand = cli.Command{
	Name:      "listtransactions",
	Category:  "Payments",
	Usage:     "List the recent transactions paying to an address.",
	ArgsUsage: "addr",
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "limit",
			Value: 10,
			Usage: "the maximum number of transactions to list",
		},
	},
	Action: listTransactions,
}

func listTransactions(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return cli.ShowCommandHelp(ctx, "listtransactions")
	}
	addr := ctx.Args().First()

	wallet, cleanup := getWallet(ctx)
	defer cleanup()

	ctxc, cancel := callContext(ctx)
	defer cancel()

	txns, err := wallet.ListTransactions(ctxc, addr, ctx.Int("limit"))
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Hash", "Confirmations", "Amount"})

	for _, tx := range txns {
		var amt btcutil.Amount
		for _, out := range tx.Outputs {
			if out.Address == addr {
				amt += out.Amount
			}
		}

		t.AppendRow(table.Row{tx.Hash, tx.Confirmations, amt})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d txns", len(txns))})
	t.Render()

	return nil
}

var splitCommand = cli.Command{
	Name:      "split",
	Category:  "Accounts",
	Usage:     "Split a funded account into the pool.",
	ArgsUsage: "[account]",
	Description: `
	Poll the account once. If its balance reached the split threshold it
	is split into many outputs in the pool account, as the daemon does on
	every polling round.
	`,
	Action: split,
}

func split(ctx *cli.Context) error {
	account := ledger.FundingAccount
	if ctx.Args().Present() {
		account = ctx.Args().First()
	}

	wallet, cleanup := getWallet(ctx)
	defer cleanup()

	ctxc, cancel := callContext(ctx)
	defer cancel()

	bal, didSplit, err := wallet.MonitorAccount(ctxc, account)
	if err != nil {
		return err
	}

	if !didSplit {
		fmt.Printf("Balance of %v is %v, below the split threshold\n",
			account, bal)

		return nil
	}

	fmt.Printf("Split %v of %v into %v\n", bal, account,
		ledger.PoolAccount)

	return nil
}
