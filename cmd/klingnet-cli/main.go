// klingnet-cli is a command-line client for the klingnetd status API.
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-node/internal/restclient"
	"github.com/Klingon-tech/klingnet-node/pkg/crypto"
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 1
	}

	// Parse global flags that appear before the subcommand.
	restURL := restclient.DefaultURL
	asJSON := false

	for len(args) > 0 {
		switch {
		case args[0] == "--rest" && len(args) > 1:
			restURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rest="):
			restURL = args[0][len("--rest="):]
			args = args[1:]
		case args[0] == "--json":
			asJSON = true
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage(stderr)
		return 1
	}

	c := &cli{
		client: restclient.New(restURL),
		out:    stdout,
		json:   asJSON,
	}
	cmd := args[0]
	cmdArgs := args[1:]

	var err error
	switch cmd {
	case "status":
		err = c.status()
	case "peers":
		err = c.peers()
	case "leaders":
		err = c.leaders()
	case "fragments":
		err = c.fragments()
	case "send":
		err = c.send(cmdArgs)
	case "shutdown":
		err = c.shutdown()
	case "key":
		err = c.key(cmdArgs)
	case "help", "--help", "-h":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		usage(stderr)
		return 1
	}

	if errors.Is(err, errUsage) {
		usage(stderr)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: klingnet-cli [global flags] <command> [args]

Global flags:
  --rest <url>        Status API endpoint (default: %s)
  --json              Print raw JSON responses

Commands:
  status                   Show node state, tip and counters
  peers                    Show connected peers
  leaders                  Show leadership logs
  fragments                Show fragment logs
  send <hex>               Submit a fragment payload
  send --file <path>       Submit a file's contents as a fragment
  shutdown                 Ask the node to stop

  key generate             Print a new leader secret key and its public key
  key derive <keyfile>     Print the public key of a leader secret file
`, restclient.DefaultURL)
}

type cli struct {
	client *restclient.Client
	out    io.Writer
	json   bool
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── status ──────────────────────────────────────────────────────────────

func (c *cli) status() error {
	st, err := c.client.NodeStats()
	if err != nil {
		return fmt.Errorf("node/stats: %w", err)
	}
	if c.json {
		return c.printJSON(st)
	}

	fmt.Fprintf(c.out, "Version: %s\n", st.Version)
	fmt.Fprintf(c.out, "State:   %s\n", st.State)
	if st.Diagnostic != nil {
		fmt.Fprintf(c.out, "Host:    %s\n", st.Diagnostic)
	}
	if st.Tip != nil {
		fmt.Fprintf(c.out, "Height:  %d\n", st.Tip.Height)
		fmt.Fprintf(c.out, "Slot:    %d\n", st.Tip.Slot)
		fmt.Fprintf(c.out, "Tip:     %s\n", st.Tip.Hash)
	}
	if st.Stats != nil {
		fmt.Fprintf(c.out, "Leaders: %d\n", st.Leaders)
		fmt.Fprintf(c.out, "Peers:   %d\n", st.Stats.PeersConnected)
		fmt.Fprintf(c.out, "Uptime:  %s\n", st.Stats.Uptime.Truncate(time.Second))
		fmt.Fprintf(c.out, "Blocks:  produced=%d applied=%d received=%d\n",
			st.Stats.BlocksProduced, st.Stats.BlocksApplied, st.Stats.BlocksReceived)
		fmt.Fprintf(c.out, "Frags:   received=%d rejected=%d\n",
			st.Stats.FragmentsReceived, st.Stats.FragmentsRejected)
	}
	return nil
}

// ── peers ───────────────────────────────────────────────────────────────

func (c *cli) peers() error {
	peers, err := c.client.Peers()
	if err != nil {
		return fmt.Errorf("network/peers: %w", err)
	}
	if c.json {
		return c.printJSON(peers)
	}

	fmt.Fprintf(c.out, "Peers:   %d\n", len(peers))
	for _, p := range peers {
		fmt.Fprintf(c.out, "  %s\n", p.ID)
		for _, a := range p.Addrs {
			fmt.Fprintf(c.out, "    %s\n", a)
		}
	}
	return nil
}

// ── logs ────────────────────────────────────────────────────────────────

func (c *cli) leaders() error {
	logs, err := c.client.LeadersLogs()
	if err != nil {
		return fmt.Errorf("leaders/logs: %w", err)
	}
	if c.json {
		return c.printJSON(logs)
	}

	for _, l := range logs {
		line := fmt.Sprintf("slot %-8d %-10s %s", l.Slot, l.Status, short(l.Leader))
		if l.Height > 0 {
			line += fmt.Sprintf(" height=%d fragments=%d", l.Height, l.Fragments)
		}
		if l.Reason != "" {
			line += " reason=" + l.Reason
		}
		fmt.Fprintln(c.out, line)
	}
	return nil
}

func (c *cli) fragments() error {
	logs, err := c.client.FragmentLogs()
	if err != nil {
		return fmt.Errorf("fragment/logs: %w", err)
	}
	if c.json {
		return c.printJSON(logs)
	}

	for _, f := range logs {
		line := fmt.Sprintf("%s %-10s from=%s", short(f.ID.String()), f.Status, f.Origin)
		if f.BlockHeight > 0 {
			line += fmt.Sprintf(" height=%d", f.BlockHeight)
		}
		if f.Reason != "" {
			line += " reason=" + f.Reason
		}
		fmt.Fprintln(c.out, line)
	}
	return nil
}

// ── send ────────────────────────────────────────────────────────────────

func (c *cli) send(args []string) error {
	var payload []byte
	switch {
	case len(args) == 2 && args[0] == "--file":
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		payload = data
	case len(args) == 1:
		b, err := hex.DecodeString(strings.TrimSpace(args[0]))
		if err != nil {
			return fmt.Errorf("payload must be hex encoded: %w", err)
		}
		payload = b
	default:
		return errUsage
	}

	id, err := c.client.SendMessage(payload)
	if err != nil {
		return fmt.Errorf("message: %w", err)
	}
	if c.json {
		return c.printJSON(map[string]string{"fragment_id": id.String()})
	}
	fmt.Fprintf(c.out, "Fragment: %s\n", id)
	return nil
}

// ── shutdown ────────────────────────────────────────────────────────────

func (c *cli) shutdown() error {
	if err := c.client.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Fprintln(c.out, "Shutdown requested")
	return nil
}

// ── key ─────────────────────────────────────────────────────────────────

func (c *cli) key(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "generate":
		k, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		defer k.Zero()
		fmt.Fprintf(c.out, "secret=%s\n", hex.EncodeToString(k.Serialize()))
		fmt.Fprintf(c.out, "pubkey=%s\n", hex.EncodeToString(k.PublicKey()))
		return nil
	case "derive":
		if len(args) != 2 {
			return errUsage
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		k, err := crypto.PrivateKeyFromHex(string(data))
		if err != nil {
			return fmt.Errorf("%s: %w", args[1], err)
		}
		defer k.Zero()
		fmt.Fprintf(c.out, "pubkey=%s\n", hex.EncodeToString(k.PublicKey()))
		return nil
	default:
		return errUsage
	}
}

func short(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
