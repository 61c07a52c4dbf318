// Package main implements a CLI that attaches one chat node to a medium
// emulator over TCP and drives it from the terminal.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/meshchat/node/internal/logging"
	"github.com/meshchat/node/node"
	"github.com/meshchat/node/node/impl"
	"github.com/meshchat/node/transport/wire"
	urfave "github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
)

var log = logging.New("chatnode")

func main() {
	app := &urfave.App{
		Name:  "chatnode",
		Usage: "Please use the start command",

		Commands: []*urfave.Command{
			{
				Name:  "start",
				Usage: "attaches to the medium and starts chatting",
				Flags: []urfave.Flag{
					&urfave.StringFlag{
						Name:  "mediumhost",
						Usage: "host of the medium emulator",
						Value: "127.0.0.1",
					},
					&urfave.UintFlag{
						Name:  "mediumport",
						Usage: "port of the medium emulator",
						Value: 9000,
					},
					&urfave.DurationFlag{
						Name:  "frequency",
						Usage: "expected medium tick frequency, logged for diagnostics",
						Value: 0,
					},
				},
				Action: start,
			},
		},

		Action: func(c *urfave.Context) error {
			urfave.ShowAppHelpAndExit(c, 1)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Msg(err.Error())
	}
}

func start(c *urfave.Context) error {
	cfg := wire.Config{
		Host:      c.String("mediumhost"),
		Port:      int(c.Uint("mediumport")),
		Frequency: c.Duration("frequency"),
	}

	trans := wire.NewTransport(cfg, log)

	sock, err := trans.CreateSocket("")
	if err != nil {
		return xerrors.Errorf("failed to attach to medium: %v", err)
	}
	defer sock.Close()

	n := impl.NewNode(node.Configuration{
		Socket: sock,
		Logger: log,
	})
	if err := n.Start(); err != nil {
		return xerrors.Errorf("failed to start node: %v", err)
	}
	defer n.Stop()

	fmt.Println("joining the network, waiting for a node id...")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	n.AwaitReadyToSend(ctx)
	cancel()
	fmt.Printf("ready, node id %d\n", n.UserID())

	go printIncoming(n)

	return readAndSend(n)
}

func printIncoming(n node.Node) {
	for msg := range n.ChatMessages() {
		fmt.Printf("\n[%d] %s\n> ", msg.SenderID, msg.Text)
	}
}

func readAndSend(n node.Node) error {
	fmt.Print("> ")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			fmt.Print("> ")
			continue
		}
		if !n.SendChatMessage(text) {
			fmt.Println("message too long, try something shorter")
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}
