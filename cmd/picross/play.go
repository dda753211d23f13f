package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"ctchen222/picross/internal/client"
	"ctchen222/picross/internal/logger"
	"ctchen222/picross/internal/puzzle"
	"ctchen222/picross/pkg/proto"

	"github.com/spf13/cobra"
)

const (
	receiveTimeout = 2 * time.Second

	playHelp = "Commands: new, send, receive, result <mm:ss> <score> | result <score>, show, help, quit"
)

func newPlayCmd(cfg *playConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a coordinator as a player.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			logger.Init(logger.Level(cfg.Verbose), false)
			return runPlay(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cfg.addFlags(cmd.Flags())
	bindEnv(cmd.Flags())
	return cmd
}

// console serializes writes from the command loop and the session's read loop.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *console) render(configuration string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := renderPuzzle(c.w, configuration); err != nil {
		fmt.Fprintf(c.w, "Cannot show configuration: %v\n", err)
	}
}

type game struct {
	session       *client.Session
	console       *console
	dimension     int
	configuration string
	started       time.Time
}

func runPlay(ctx context.Context, cfg *playConfig, in io.Reader, out io.Writer) error {
	con := &console{w: out}

	session, err := client.Connect(ctx, cfg.Host, cfg.Port, cfg.Name, client.WithStatus(func(line string) {
		con.printf("[%s]\n", line)
	}))
	if err != nil {
		return err
	}
	defer session.Disconnect()

	g := &game{
		session:       session,
		console:       con,
		dimension:     cfg.Dimension,
		configuration: puzzle.DefaultConfiguration,
		started:       time.Now(),
	}
	con.printf("%s\n", playHelp)

	done := make(chan struct{})
	defer close(done)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := g.exec(line); quit {
				return nil
			}
		case <-session.Done():
			con.printf("Connection to coordinator lost\n")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// exec runs one console command and reports whether the player quit.
func (g *game) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "new":
		g.configuration = puzzle.Random(g.dimension, nil)
		g.started = time.Now()
		g.console.render(g.configuration)
	case "send":
		if err := g.session.SendConfiguration(g.configuration); err != nil {
			g.console.printf("Send failed: %v\n", err)
		}
	case "receive":
		g.receive()
	case "result":
		g.result(fields[1:])
	case "show":
		g.console.render(g.configuration)
	case "help":
		g.console.printf("%s\n", playHelp)
	case "quit", "exit":
		return true
	default:
		g.console.printf("Unknown command %q. %s\n", fields[0], playHelp)
	}
	return false
}

func (g *game) receive() {
	// Drop a reply that arrived after an earlier receive gave up waiting.
	select {
	case <-g.session.ConfigurationUpdates():
	default:
	}

	if err := g.session.RequestConfiguration(); err != nil {
		return
	}

	select {
	case configuration := <-g.session.ConfigurationUpdates():
		if configuration == "" {
			return
		}
		g.configuration = configuration
		g.started = time.Now()
		g.console.render(configuration)
	case <-time.After(receiveTimeout):
		g.console.printf("No answer from coordinator\n")
	}
}

func (g *game) result(args []string) {
	var r proto.Result
	switch len(args) {
	case 1:
		score, err := strconv.Atoi(args[0])
		if err != nil {
			g.console.printf("Invalid score %q\n", args[0])
			return
		}
		r = g.session.NewResult(time.Since(g.started), score)
	case 2:
		score, err := strconv.Atoi(args[1])
		if err != nil {
			g.console.printf("Invalid score %q\n", args[1])
			return
		}
		r = proto.Result{Name: g.session.Name(), Time: args[0], Score: score}
	default:
		g.console.printf("Usage: result <mm:ss> <score> | result <score>\n")
		return
	}

	if err := g.session.SendResult(r); err != nil {
		g.console.printf("Result not sent: %v\n", err)
	}
}
