// Command txbeam moves a signed transaction between two devices without
// internet access. The sender advertises the payload and pushes it in small frames
// once a receiver subscribes; the receiver scans, connects to the closest
// sender, reassembles the payload and keeps it in a local inbox until it can
// be broadcast.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -file, -peers, ...). With -pending or -mark-broadcast it only
// manages the inbox and does not touch the radio.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/txbeam/internal/config"
	"github.com/1ureka/txbeam/internal/inbox"
	"github.com/1ureka/txbeam/internal/link/memlink"
	"github.com/1ureka/txbeam/internal/link/rtclink"
	"github.com/1ureka/txbeam/internal/session"
	"github.com/1ureka/txbeam/internal/util"
)

var version = "dev"

const statsInterval = 2 * time.Second

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()
	role := flag.String("role", "", "Role: send or receive")
	flag.StringVar(&cfg.File, "file", "", "Payload file to send, - for stdin (send only)")
	flag.StringVar(&cfg.Signature, "sig", "", "Signature to wrap around the payload (send only)")
	flag.StringVar(&cfg.Listen, "listen", cfg.Listen, "Advertising address (send only)")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "Name shown to scanners (send only)")
	peers := flag.String("peers", "", "Comma-separated sender addresses to scan (receive only)")
	flag.StringVar(&cfg.Inbox, "inbox", cfg.Inbox, "Inbox file for received transactions (receive only)")
	flag.StringVar(&cfg.Redis, "redis", "", "Redis address for the inbox, replaces -inbox (receive only)")
	flag.BoolVar(&cfg.ListPending, "pending", false, "List inbox transactions waiting for broadcast and exit")
	flag.StringVar(&cfg.MarkBroadcast, "mark-broadcast", "", "Mark the inbox transaction with this ID as broadcast and exit")
	flag.IntVar(&cfg.MTU, "mtu", cfg.MTU, "Largest frame in bytes")
	flag.StringVar(&cfg.Framing, "framing", cfg.Framing, "Framing: sequenced or sentinel")
	flag.IntVar(&cfg.RSSIMin, "rssi-min", cfg.RSSIMin, "Weakest accepted signal in dBm, 0 disables")
	flag.IntVar(&cfg.RSSIMax, "rssi-max", cfg.RSSIMax, "Strongest accepted signal in dBm, 0 disables")
	flag.DurationVar(&cfg.Stall, "stall", cfg.Stall, "Fail after this long without transfer activity, 0 disables")
	flag.DurationVar(&cfg.Discover, "discover", cfg.Discover, "Give up scanning after this long, 0 disables")
	flag.BoolVar(&cfg.Loopback, "loopback", false, "Run sender and receiver in-process over a simulated radio")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("txbeam — v%s", version))
	pterm.Println()

	cfg.Role = config.Role(*role)
	if *peers != "" {
		list, err := config.ParsePeers(*peers)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg.Peers = list
	}

	if cfg.Role == "" && !cfg.Loopback && !cfg.InboxOnly() {
		// No -role flag → interactive mode.
		askInteractive(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.InboxOnly() {
		if err := runInbox(ctx, cfg); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		return
	}

	opts, err := cfg.SessionOptions()
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.StartStatsReporter(ctx, statsInterval)

	switch {
	case cfg.Loopback:
		err = runLoopback(ctx, cfg, opts)
	case cfg.Role == config.RoleSend:
		err = runSend(ctx, cfg, opts)
	default:
		err = runReceive(ctx, cfg, opts)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runSend advertises the payload and waits for one receiver to take it.
func runSend(ctx context.Context, cfg config.Config, opts session.Options) error {
	payload, err := readPayload(cfg)
	if err != nil {
		return err
	}

	radio := rtclink.NewPeripheral(rtclink.PeripheralOptions{
		Name:    cfg.Name,
		Listen:  cfg.Listen,
		Ordered: cfg.Ordered(),
	})
	defer radio.Close()

	bar := newProgress("Advertising...")
	opts.OnUpdate = bar.update
	s := session.NewSender(radio, opts)
	if err := s.Start(ctx, payload); err != nil {
		return err
	}
	<-s.Done()
	bar.stop()

	if s.Status() != session.Success {
		return outcome(s)
	}
	util.LogSuccess("payload sent (%d bytes)", len(payload))
	return nil
}

// runReceive scans the configured peers and stores the received transaction.
func runReceive(ctx context.Context, cfg config.Config, opts session.Options) error {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	radio := rtclink.NewCentral(rtclink.CentralOptions{
		Peers:   cfg.Peers,
		Ordered: cfg.Ordered(),
	})

	bar := newProgress("Scanning...")
	opts.OnUpdate = bar.update
	r := session.NewReceiver(radio, opts)
	if err := r.Start(ctx); err != nil {
		return err
	}
	payload, ok := <-r.Payload()
	<-r.Done()
	bar.stop()

	if !ok {
		return outcome(r)
	}
	return keep(ctx, store, payload)
}

// runLoopback runs both roles over an in-process radio, for demos and for
// checking a payload file end to end.
func runLoopback(ctx context.Context, cfg config.Config, opts session.Options) error {
	payload, err := readPayload(cfg)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	air := memlink.NewAir()
	peripheral := air.NewPeripheral(cfg.Name, memlink.PeripheralOptions{RSSI: -45})
	central := air.NewCentral(memlink.CentralOptions{})

	s := session.NewSender(peripheral, opts)

	bar := newProgress("Scanning...")
	opts.OnUpdate = bar.update
	r := session.NewReceiver(central, opts)

	if err := s.Start(ctx, payload); err != nil {
		return err
	}
	defer s.Stop()
	if err := r.Start(ctx); err != nil {
		return err
	}

	received, ok := <-r.Payload()
	<-r.Done()
	bar.stop()

	if !ok {
		return outcome(r)
	}
	return keep(ctx, store, received)
}

// runInbox marks a transaction as broadcast and/or lists those still pending.
func runInbox(ctx context.Context, cfg config.Config) error {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.MarkBroadcast != "" {
		id, err := inbox.MarkBroadcastID(ctx, store, cfg.MarkBroadcast)
		if err != nil {
			return fmt.Errorf("mark broadcast: %w", err)
		}
		util.LogSuccess("transaction %s marked as broadcast", id)
	}
	if !cfg.ListPending {
		return nil
	}

	pending, err := store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("list pending transactions: %w", err)
	}
	if len(pending) == 0 {
		util.LogInfo("no transactions pending broadcast")
		return nil
	}

	data := pterm.TableData{{"ID", "Received", "Size", "Tx"}}
	for _, rec := range pending {
		tx := rec.Tx
		if len(tx) > 24 {
			tx = tx[:24] + "..."
		}
		data = append(data, []string{
			rec.ID.String(),
			rec.ReceivedAt.Local().Format(time.DateTime),
			strings.TrimSpace(util.FormatBytes(float64(rec.Size))),
			tx,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// readPayload loads the payload file and wraps it with the signature, if any.
func readPayload(cfg config.Config) ([]byte, error) {
	var data []byte
	var err error
	if cfg.File == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(cfg.File)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if cfg.Signature != "" {
		data = inbox.BuildEnvelope(cfg.Signature, string(data))
	}
	return data, nil
}

// openStore opens the Redis inbox when configured, the inbox file otherwise.
func openStore(cfg config.Config) (inbox.Store, func(), error) {
	if cfg.Redis != "" {
		store, err := inbox.NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	return inbox.NewFileStore(cfg.Inbox), func() {}, nil
}

// keep records a received payload as a pending transaction.
func keep(ctx context.Context, store inbox.Store, payload []byte) error {
	rec := inbox.NewRecord(payload, time.Now())
	if err := store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	util.LogSuccess("transaction %s received (%d bytes), waiting for internet", rec.ID, rec.Size)

	pending, err := store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("list pending transactions: %w", err)
	}
	util.LogInfo("%d transaction(s) pending broadcast", len(pending))
	return nil
}

// outcome turns a session that did not succeed into the error to report.
func outcome(s session.Session) error {
	if s.Status() == session.Cancelled {
		util.LogWarning("transfer cancelled")
		return nil
	}
	return fmt.Errorf("%s: %w", s.Snapshot().Label(), s.Err())
}

// progress renders session updates as a pterm progress bar.
type progress struct {
	bar   *pterm.ProgressbarPrinter
	shown int
}

func newProgress(title string) *progress {
	bar, _ := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle(title).
		WithRemoveWhenDone(false).
		Start()
	return &progress{bar: bar}
}

// update is called from the session's own goroutine, one update at a time.
func (p *progress) update(u session.Update) {
	p.bar.UpdateTitle(u.Label())
	if pct := int(u.Progress * 100); pct > p.shown {
		p.bar.Add(pct - p.shown)
		p.shown = pct
	}
}

func (p *progress) stop() {
	p.bar.Stop()
}

// askInteractive fills in the role and its required fields from prompts.
func askInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Send    — Beam a signed transaction", "Receive — Collect a transaction"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Send") {
		cfg.Role = config.RoleSend
		cfg.File = askText("Payload file")
	} else {
		cfg.Role = config.RoleReceive
		cfg.Peers = askPeers()
	}
}

// askText prompts until a non-empty answer is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if s := strings.TrimSpace(raw); s != "" {
			pterm.Println()
			return s
		}

		util.LogWarning("input must not be empty")
		pterm.Println()
	}
}

// askPeers prompts until a valid list of sender addresses is entered.
func askPeers() []string {
	for {
		raw := askText("Sender addresses, comma-separated (e.g. 192.168.1.20)")

		peers, err := config.ParsePeers(raw)
		if err == nil && len(peers) > 0 {
			return peers
		}

		util.LogWarning("invalid input: please enter one or more hosts or URLs")
	}
}
