// Command fttd is the acceptor daemon: it loads an RSA identity and a
// connect-key whitelist, then listens for inbound transfers until
// interrupted (spec.md §5, the "parallel-task server" deployment).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/sweetrush/stl-finapp/auditstore"
	"github.com/sweetrush/stl-finapp/authstore"
	"github.com/sweetrush/stl-finapp/cryptoprim"
	"github.com/sweetrush/stl-finapp/server"
	"github.com/sweetrush/stl-finapp/sink"
)

var (
	keysDirFlag = cli.StringFlag{
		Name:  "keysdir",
		Usage: "directory holding private_key.pem (generated by the keygen command if absent)",
		Value: "./keys",
	}
	whitelistFlag = cli.StringFlag{
		Name:  "whitelist",
		Usage: "path to the connect-key whitelist file",
		Value: "./whitelist.txt",
	}
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "address to listen on",
		Value: "0.0.0.0:7443",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "directory received blobs are written into",
		Value: "./received",
	}
	auditDirFlag = cli.StringFlag{
		Name:  "audit-dir",
		Usage: "directory for the Badger-backed audit trail; omit to disable it",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "fttd"
	app.Usage = "secure peer-to-peer file transfer acceptor daemon"
	app.Flags = []cli.Flag{keysDirFlag, whitelistFlag, listenFlag, dataDirFlag, auditDirFlag}
	app.Action = run
	app.Commands = []cli.Command{
		{
			Name:   "keygen",
			Usage:  "generate a new RSA-2048 identity under --keysdir",
			Flags:  []cli.Flag{keysDirFlag},
			Action: keygen,
		},
	}

	log.Root().SetHandler(log.StreamHandler(os.Stderr, log.TerminalFormat(false)))

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func keygen(ctx *cli.Context) error {
	dir := ctx.String(keysDirFlag.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	priv, pub, err := cryptoprim.GenerateKeyPair()
	if err != nil {
		return err
	}
	if err := cryptoprim.SavePrivateKey(priv, filepath.Join(dir, "private_key.pem")); err != nil {
		return err
	}
	if err := cryptoprim.SavePublicKey(pub, filepath.Join(dir, "public_key.pem")); err != nil {
		return err
	}
	log.Info("generated identity", "dir", dir)
	return nil
}

func run(cliCtx *cli.Context) error {
	keysDir := cliCtx.String(keysDirFlag.Name)
	priv, err := cryptoprim.LoadPrivateKey(filepath.Join(keysDir, "private_key.pem"))
	if err != nil {
		return fmt.Errorf("load identity (run 'fttd keygen' first?): %w", err)
	}

	store, err := authstore.Load(cliCtx.String(whitelistFlag.Name))
	if err != nil {
		return fmt.Errorf("load whitelist: %w", err)
	}

	fsSink, err := sink.NewFileSink(cliCtx.String(dataDirFlag.Name))
	if err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	audit := auditstore.NewLog(auditstore.Noop{})
	if dir := cliCtx.String(auditDirFlag.Name); dir != "" {
		badgerStore, err := auditstore.OpenBadger(dir)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer badgerStore.Close()
		audit = auditstore.NewLog(auditstore.NewProfiled(badgerStore))
	}

	ln, err := server.NewListener(cliCtx.String(listenFlag.Name), priv, store, fsSink, audit)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("fttd listening", "addr", ln.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info("shutting down", "signal", s.String())
		cancel()
	}()

	return ln.Serve(ctx)
}
