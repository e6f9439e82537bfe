// Command ftt is the connector-side one-shot sender: given a peer
// address, a connect key, and a file, it performs a single session
// (seal, transmit, await verdict) and exits (spec.md §4.5).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/sweetrush/stl-finapp/cryptoprim"
	"github.com/sweetrush/stl-finapp/server"
)

var (
	peerFlag = cli.StringFlag{
		Name:  "peer",
		Usage: "acceptor address, host:port",
	}
	connectKeyFlag = cli.StringFlag{
		Name:  "connect-key",
		Usage: "the shared connect key proving authorization to send",
	}
	keysDirFlag = cli.StringFlag{
		Name:  "keysdir",
		Usage: "directory holding this sender's private_key.pem",
		Value: "./keys",
	}
	fileFlag = cli.StringFlag{
		Name:  "file",
		Usage: "path to the file to transfer",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "ftt"
	app.Usage = "secure peer-to-peer file transfer sender"
	app.Flags = []cli.Flag{peerFlag, connectKeyFlag, keysDirFlag, fileFlag}
	app.Action = run

	log.Root().SetHandler(log.StreamHandler(os.Stderr, log.TerminalFormat(false)))

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	peer := ctx.String(peerFlag.Name)
	connectKey := ctx.String(connectKeyFlag.Name)
	file := ctx.String(fileFlag.Name)
	if peer == "" || connectKey == "" || file == "" {
		return fmt.Errorf("--peer, --connect-key, and --file are required")
	}

	priv, err := cryptoprim.LoadPrivateKey(filepath.Join(ctx.String(keysDirFlag.Name), "private_key.pem"))
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	blob, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	if err := server.Send(peer, priv, connectKey, blob, filepath.Base(file)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Println("transfer complete")
	return nil
}
