package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/liveloop/loopjam/internal/config"
	"github.com/liveloop/loopjam/internal/log"
	"github.com/liveloop/loopjam/internal/rtc"
	"github.com/liveloop/loopjam/internal/session"
	"github.com/liveloop/loopjam/internal/store/sqlite"
)

var (
	flagServer      string
	flagLabel       string
	flagSessionName string
	flagAutosave    string
	flagSTUN        []string
)

var joinCmd = &cobra.Command{
	Use:   "join <room-key>",
	Short: "Join a room and jam",
	Long: `Join a room on the relay and start an interactive session.

Commands at the prompt:
  play | stop     toggle the shared transport
  bpm <n>         set the shared tempo
  step <n>        toggle sequencer step n (0-15)
  undo | redo     step through local grid edits
  say <message>   send a chat message
  show            print the current session state
  quit            leave the room`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(args[0])
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagServer, "server", "", "relay websocket URL (overrides config)")
	joinCmd.Flags().StringVar(&flagLabel, "label", "", "participant label shown to others")
	joinCmd.Flags().StringVar(&flagSessionName, "name", "", "session name used in autosave snapshots")
	joinCmd.Flags().StringVar(&flagAutosave, "db", "", "autosave database path (overrides config)")
	joinCmd.Flags().StringSliceVar(&flagSTUN, "stun", nil, "STUN server URLs (overrides config)")
	rootCmd.AddCommand(joinCmd)
}

func runJoin(roomKey string) error {
	logger := log.New(flagLogLevel)

	cfg, _, err := config.Load(logger, flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	if flagAutosave != "" {
		cfg.AutosavePath = flagAutosave
	}
	if len(flagSTUN) > 0 {
		cfg.STUNServers = flagSTUN
	}

	st, err := sqlite.New(cfg.AutosavePath)
	if err != nil {
		return fmt.Errorf("open autosave store: %w", err)
	}
	defer st.Close()

	factory := rtc.NewFactory(cfg.STUNServers, rtc.StaticCapture{}, nil, logger)

	sess, err := session.New(session.Config{
		ServerURL:   cfg.ServerURL,
		RoomKey:     roomKey,
		Label:       flagLabel,
		SessionName: flagSessionName,
		NewPeer: func(remoteID string, initiator bool, send session.SignalFunc, onClose func(string)) (session.PeerLink, error) {
			return factory.NewPeerLink(remoteID, initiator, send, onClose)
		},
		Media: factory,
		Store: st,
		Log:   logger,
		OnNotice: func(line string) {
			fmt.Println(line)
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go readCommands(ctx, sess, stop)

	fmt.Printf("joining %s via %s\n", roomKey, cfg.ServerURL)
	if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("left the room")
	return nil
}

func readCommands(ctx context.Context, sess *session.Session, stop func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "play", "stop":
			sess.TogglePlay()
		case "bpm":
			if len(fields) != 2 {
				fmt.Println("usage: bpm <n>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil || n <= 0 {
				fmt.Println("bpm must be a positive number")
				continue
			}
			sess.SetBPM(n)
		case "step":
			if len(fields) != 2 {
				fmt.Println("usage: step <n>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("step must be a number")
				continue
			}
			sess.ToggleStep(n)
		case "undo":
			sess.Undo()
		case "redo":
			sess.Redo()
		case "say":
			if len(fields) < 2 {
				fmt.Println("usage: say <message>")
				continue
			}
			sess.SendChat(strings.Join(fields[1:], " "))
		case "show":
			view, err := sess.View(ctx)
			if err != nil {
				fmt.Println("session unavailable:", err)
				continue
			}
			printView(view)
		case "quit", "exit":
			stop()
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
	stop()
}

func printView(v session.View) {
	fmt.Printf("session: %s (you are %s)\n", v.SessionName, v.ConnectionID)
	fmt.Printf("transport: playing=%v bpm=%d\n", v.Transport.IsPlaying, v.Transport.BPM)
	fmt.Printf("grid: %s\n", renderGrid(v.Grid))
	if len(v.Peers) == 0 {
		fmt.Println("peers: none")
		return
	}
	fmt.Printf("peers: %s\n", strings.Join(v.Peers, ", "))
}

func renderGrid(grid []bool) string {
	var b strings.Builder
	for _, on := range grid {
		if on {
			b.WriteByte('x')
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}
