package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"relay-api/internal/client"
	"relay-api/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	relayURL := flag.String("relay-url", "http://localhost:80", "Relay base url")
	token := flag.String("token", "", "Bearer credential, session token or api key")
	stateFile := flag.String("state-file", defaultStatePath(), "Session state file")
	logFile := flag.String("log-file", filepath.Join(os.TempDir(), "relay-chat.log"), "Log file")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	log := newFileLogger(*logFile, *debug)
	defer func() {
		_ = log.Sync()
	}()

	state, err := client.LoadState(*stateFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading state: %v\n", err)
		os.Exit(1)
	}
	relay, err := client.NewRelayClient(*relayURL, *token, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cli := &chatCLI{
		out:   os.Stdout,
		relay: relay,
		state: state,
		log:   log,
	}
	cli.consumer = client.NewConsumer(relay,
		client.WithLogger(log),
		client.WithHistory(relay, state.ActiveChatID),
		client.WithOnDelta(func(delta string, _ shared.ChatMessage) {
			fmt.Fprint(cli.out, delta)
		}),
		client.WithOnNotice(func(n client.Notice) {
			fmt.Fprintf(cli.out, "\n[%s]\n", n)
		}),
	)

	cli.loadHistory()
	cli.run(os.Stdin)
}

type chatCLI struct {
	out      io.Writer
	relay    *client.RelayClient
	state    *client.State
	consumer *client.Consumer
	log      *zap.SugaredLogger
}

// run reads lines until EOF or /quit. Ctrl-C cancels the running exchange,
// a second one while idle exits.
func (c *chatCLI) run(in io.Reader) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), shared.MaxContentLength*4)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var current *client.Exchange
	c.prompt()
	for {
		var done <-chan struct{}
		if current != nil {
			done = current.Done()
		}

		select {
		case <-sigs:
			if current == nil {
				fmt.Fprintln(c.out)
				return
			}
			current.Cancel()

		case <-done:
			res := current.Wait()
			current = nil
			if res.Phase == client.PhaseCancelled {
				fmt.Fprint(c.out, " [cancelled]")
			}
			fmt.Fprintln(c.out)
			c.prompt()

		case line, ok := <-lines:
			if !ok {
				if current != nil {
					current.Wait()
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				if current == nil {
					c.prompt()
				}
				continue
			}
			if cmd, isCmd := strings.CutPrefix(line, "/"); isCmd {
				if current != nil {
					fmt.Fprintln(c.out, "[busy, press Ctrl-C to cancel]")
					continue
				}
				if quit := c.command(cmd); quit {
					return
				}
				c.prompt()
				continue
			}

			ex, err := c.consumer.Submit(context.Background(), line)
			if errors.Is(err, client.ErrBusy) {
				fmt.Fprintln(c.out, "[busy, press Ctrl-C to cancel]")
				continue
			}
			if err != nil {
				fmt.Fprintf(c.out, "[%v]\n", err)
				c.prompt()
				continue
			}
			current = ex
			fmt.Fprint(c.out, "demon> ")
		}
	}
}

func (c *chatCLI) command(cmd string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultPersistTimeout)
	defer cancel()

	switch cmd {
	case "quit", "exit":
		return true
	case "new":
		id, err := c.state.NewChat()
		if err != nil {
			c.log.Warnw("Failed to save state", "error", err)
		}
		_ = c.consumer.SetHistory(nil)
		fmt.Fprintf(c.out, "[new chat %s]\n", id)
	case "clear":
		deleted, err := c.relay.ClearHistory(ctx, c.state.ActiveChatID())
		if err != nil {
			c.log.Warnw("Failed to clear history", "error", err)
			fmt.Fprintln(c.out, "[failed to clear chat history]")
			return false
		}
		_ = c.consumer.SetHistory(nil)
		fmt.Fprintf(c.out, "[cleared %d messages]\n", deleted)
	case "history":
		for _, m := range c.consumer.History() {
			fmt.Fprintf(c.out, "%s: %s\n", m.Role, m.Content)
		}
	default:
		fmt.Fprintln(c.out, "[commands: /new /clear /history /quit]")
	}
	return false
}

func (c *chatCLI) loadHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultPersistTimeout)
	defer cancel()
	messages, err := c.relay.LoadHistory(ctx, c.state.ActiveChatID())
	if err != nil {
		c.log.Warnw("Failed to load chat history", "chat_id", c.state.ActiveChatID(), "error", err)
		fmt.Fprintln(c.out, "[failed to load chat history]")
		return
	}
	_ = c.consumer.SetHistory(messages)
	if len(messages) > 0 {
		fmt.Fprintf(c.out, "[resumed %s with %d messages]\n", c.state.ActiveChatID(), len(messages))
	}
}

func (c *chatCLI) prompt() {
	fmt.Fprint(c.out, "you> ")
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "relay-chat", "state.json")
}

// newFileLogger keeps stdout free for the conversation
func newFileLogger(path string, debug bool) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	})
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), writer, level)
	return zap.New(core).Sugar()
}
