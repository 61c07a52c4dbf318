// Package main runs N chat nodes in one process over an in-memory broadcast
// medium and exposes an interactive prompt to drive them.
//
// Set NUM_NODES to change the node count:
//
//	NUM_NODES=6 go run ./cmd/simnet
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/meshchat/node/internal/logging"
	"github.com/meshchat/node/node"
	"github.com/meshchat/node/node/impl"
	"github.com/meshchat/node/transport/channel"
	"golang.org/x/xerrors"
)

const defaultNumNodes = 4

func main() {
	numNodes := getNumNodes()
	fmt.Printf("starting %d nodes on a shared medium\n", numNodes)

	medium := channel.NewTransport()
	nodes := make([]node.Node, numNodes)

	for i := range nodes {
		sock, err := medium.CreateSocket("node:0")
		if err != nil {
			fmt.Printf("failed to attach node %d: %v\n", i, err)
			os.Exit(1)
		}

		n := impl.NewNode(node.Configuration{
			Socket: sock,
			Logger: logging.New(fmt.Sprintf("node-%d", i)),
		})
		if err := n.Start(); err != nil {
			fmt.Printf("failed to start node %d: %v\n", i, err)
			os.Exit(1)
		}

		nodes[i] = n
	}

	fmt.Println("waiting for every node to find its id...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	for i, n := range nodes {
		n.AwaitReadyToSend(ctx)
		fmt.Printf("node %d ready, id %d\n", i, n.UserID())
	}
	cancel()

	prompt := &survey.Select{
		Message: "What do you want to do ?",
		Options: []string{
			"💬 Send a chat message",
			"📜 Show received messages",
			"🗺 Show topology",
			"👉 exit",
		},
	}

	var action string
	for {
		if err := survey.AskOne(prompt, &action); err != nil {
			fmt.Println(err)
			return
		}

		switch action {
		case "💬 Send a chat message":
			if err := chat(nodes); err != nil {
				fmt.Printf("failed to chat: %v\n", err)
			}
		case "📜 Show received messages":
			showMessages(nodes)
		case "🗺 Show topology":
			showTopology(nodes)
		case "👉 exit":
			fmt.Println("bye 👋")
			for _, n := range nodes {
				_ = n.Stop()
			}
			os.Exit(0)
		}
	}
}

func chat(nodes []node.Node) error {
	answers := struct {
		NodeIndex string
		Message   string
	}{}

	nodeValidator := func(ans interface{}) error {
		str, _ := ans.(string)
		idx, err := strconv.Atoi(str)
		if err != nil || idx < 0 || idx >= len(nodes) {
			return xerrors.Errorf("please enter a number 0 <= N < %d", len(nodes))
		}
		return nil
	}

	err := survey.Ask([]*survey.Question{
		{
			Name:     "nodeindex",
			Prompt:   &survey.Input{Message: fmt.Sprintf("Enter the node index, from 0 to %d", len(nodes)-1)},
			Validate: nodeValidator,
		},
		{
			Name:   "message",
			Prompt: &survey.Input{Message: "Enter your message"},
		},
	}, &answers)
	if err != nil {
		return xerrors.Errorf("failed to get the answers: %v", err)
	}

	idx, _ := strconv.Atoi(answers.NodeIndex)

	fmt.Printf("sending %q from node %d\n", answers.Message, idx)

	if !nodes[idx].SendChatMessage(answers.Message) {
		return xerrors.Errorf("message too long: would need more than 16 DATA packets")
	}

	return nil
}

func showMessages(nodes []node.Node) {
	for i, n := range nodes {
		select {
		case msg := <-n.ChatMessages():
			fmt.Printf("node %d received: %q from %d\n", i, msg.Text, msg.SenderID)
		default:
		}
	}
}

func showTopology(nodes []node.Node) {
	for i, n := range nodes {
		topo := n.Topology()
		fmt.Printf("node %d: id=%d neighbors=%v\n", i, n.UserID(), keys(topo.Neighbors()))
		topo.DisplayGraph(os.Stdout)
	}
}

func keys[K comparable, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func getNumNodes() int {
	n, err := strconv.Atoi(os.Getenv("NUM_NODES"))
	if err != nil {
		return defaultNumNodes
	}
	return n
}
