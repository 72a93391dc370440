// Command seat takes a seat in a running trial session from a terminal. It
// shares the server's postgres store, follows the session through a client
// view and keeps direct peer links to the other seated participants.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/trial-backend/internal/cases"
	"github.com/DoyleJ11/trial-backend/internal/client"
	"github.com/DoyleJ11/trial-backend/internal/config"
	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/evaluation"
	"github.com/DoyleJ11/trial-backend/internal/hub"
	"github.com/DoyleJ11/trial-backend/internal/logging"
	"github.com/DoyleJ11/trial-backend/internal/peer"
	"github.com/DoyleJ11/trial-backend/internal/store"
	"github.com/DoyleJ11/trial-backend/internal/trial"
)

var (
	flagCode      string
	flagUser      string
	flagRole      string
	flagListen    string
	flagAdvertise string
)

var rootCmd = &cobra.Command{
	Use:   "seat",
	Short: "Join a trial session from the terminal",
	Long: `Join a trial session by code and follow it live. Snapshots and peer
messages are written to stdout as JSON lines; commands are read from stdin
(type "help" for the list).`,
	SilenceUsage: true,
	RunE:         runSeat,
}

func init() {
	rootCmd.Flags().StringVar(&flagCode, "code", "", "join code of the session")
	rootCmd.Flags().StringVar(&flagUser, "user", "", "user ID to join as")
	rootCmd.Flags().StringVar(&flagRole, "role", "", "preferred role (advocate-for, advocate-against, adjudicator, spectator)")
	rootCmd.Flags().StringVar(&flagListen, "listen", "", "address peer links are accepted on (default 127.0.0.1:0)")
	rootCmd.Flags().StringVar(&flagAdvertise, "advertise", "", "host other seats dial to reach this one")
	_ = rootCmd.MarkFlagRequired("code")
	_ = rootCmd.MarkFlagRequired("user")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSeat(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return errors.New("seat needs DATABASE_URL to share sessions with the server")
	}
	log, err := logging.New(cfg.LogEnv)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	var preferred *engine.Role
	if flagRole != "" {
		r, err := engine.ParseRole(flagRole)
		if err != nil {
			return err
		}
		preferred = &r
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	changes := hub.NewHub[store.Change](ctx)
	defer changes.Close()

	db, err := store.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	pg := store.NewGormStore(db, changes, cfg.NotifyChannel, log)
	listener := store.NewListener(cfg.DatabaseURL, cfg.NotifyChannel, changes, log)
	g.Go(func() error { return listener.Run(ctx) })

	var signals store.SignalStore = pg
	if cfg.RedisURL != "" {
		rs, err := store.NewRedisSignals(cfg.RedisURL, cfg.SignalTTL)
		if err != nil {
			return err
		}
		defer rs.Close()
		signals = rs
	}

	book, err := cases.Default()
	if cfg.CasesFile != "" {
		book, err = cases.Load(cfg.CasesFile)
	}
	if err != nil {
		return fmt.Errorf("case book: %w", err)
	}
	orch := trial.New(pg, evaluation.New(cfg.Evaluation), book, log, cfg.Trial)

	s, self, err := orch.JoinSession(ctx, flagCode, flagUser, preferred)
	if err != nil {
		return fmt.Errorf("join %s: %w", flagCode, err)
	}
	out := newConsole(os.Stdout)
	log.Info("seated",
		zap.String("session_id", s.ID),
		zap.String("participant_id", self.ID),
		zap.String("role", string(self.Role)))

	links := peer.NewManager(ctx, signals, &peer.WSNegotiator{
		ListenAddr:    flagListen,
		AdvertiseHost: flagAdvertise,
		Log:           log,
	}, peer.Config{
		SessionID:    s.ID,
		Self:         self.ID,
		PollInterval: cfg.PollInterval,
	},
		peer.WithLogger(log),
		peer.WithReceiver(func(from string, payload []byte) {
			out.emit("peer_message", peerMessage{From: from, Text: string(payload)})
		}),
		peer.WithPollErrors(func(err error) {
			log.Warn("signal poll failed", zap.Error(err))
		}),
	)

	view := client.New(ctx, pg, orch, flagUser, client.WithPeers(links), client.WithLogger(log))
	defer view.Close()
	if err := view.Attach(ctx, s, self); err != nil {
		return err
	}

	snaps := make(chan client.Snapshot, 16)
	view.Inbox() <- client.Watch{ID: "stdout", Outbox: snaps}

	st := &seat{
		orch:      orch,
		view:      view,
		links:     links,
		out:       out,
		sessionID: s.ID,
		userID:    flagUser,
	}

	g.Go(func() error {
		for {
			select {
			case snap, ok := <-snaps:
				if !ok {
					return nil
				}
				out.emit("snapshot", snap)
			case <-ctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		return st.run(ctx, readLines(os.Stdin))
	})

	return g.Wait()
}

// readLines feeds stdin to a channel. The scanner goroutine may outlive the
// session; it exits with the process.
func readLines(f *os.File) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}
