package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"iris/internal/agent/ports"
	"iris/internal/device"
)

const defaultServer = "http://localhost:8000"

type cliOptions struct {
	server  string
	timeout time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "iris",
		Short:         "Terminal client for the iris chat gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	server := os.Getenv("IRIS_SERVER_URL")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "gateway base url")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "timeout for non-streaming calls")

	root.AddCommand(newChatCommand(opts), newDevicesCommand(opts), newHealthCommand(opts))
	return root
}

func newChatCommand(opts *cliOptions) *cobra.Command {
	var (
		chatID   string
		agent    string
		deviceID string
		plain    bool
	)
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with an agent; without a message, start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			if chatID == "" {
				chatID = "cli-" + uuid.NewString()
			}
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				plain = true
			}
			session := &chatSession{
				client:   client,
				printer:  newEventPrinter(cmd.OutOrStdout(), plain),
				chatID:   chatID,
				agent:    agent,
				deviceID: deviceID,
			}
			if len(args) > 0 {
				return session.send(cmd.Context(), strings.Join(args, " "))
			}
			return session.interactive(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id (default: a new id)")
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "agent: iris, claude_code or codex")
	cmd.Flags().StringVar(&deviceID, "device", "", "device id the message comes from")
	cmd.Flags().BoolVar(&plain, "plain", false, "stream raw text instead of rendered markdown")
	return cmd
}

type chatSession struct {
	client   *gatewayClient
	printer  *eventPrinter
	chatID   string
	agent    string
	deviceID string
}

func (s *chatSession) send(ctx context.Context, message string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	err := s.client.StreamChat(ctx, chatRequest{
		Agent:    s.agent,
		ChatID:   s.chatID,
		Message:  message,
		DeviceID: s.deviceID,
	}, func(event ports.Event) error {
		// Later turns follow whichever agent the gateway resolved.
		if event.Kind == ports.EventStatus && s.agent == "" {
			s.agent = event.Agent
		}
		s.printer.Print(event)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *chatSession) interactive(out io.Writer) error {
	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            promptLabel(s.agent),
		HistoryFile:       filepath.Join(home, ".iris_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(out, "chat %s on %s. /agent <name> switches agents, /quit exits.\n", bold(s.chatID), s.client.baseURL)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case strings.HasPrefix(line, "/agent"):
			s.agent = strings.TrimSpace(strings.TrimPrefix(line, "/agent"))
			rl.SetPrompt(promptLabel(s.agent))
			continue
		}
		if err := s.send(context.Background(), line); err != nil {
			fmt.Fprintln(out, red(err.Error()))
		}
		rl.SetPrompt(promptLabel(s.agent))
	}
}

func newDevicesCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List registered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			devices, err := client.ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			printDevices(cmd.OutOrStdout(), devices)
			return nil
		},
	}

	var d device.Device
	register := &cobra.Command{
		Use:   "register <id>",
		Short: "Register or update a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			d.ID = args[0]
			created, err := client.RegisterDevice(cmd.Context(), d)
			if err != nil {
				return err
			}
			verb := "updated"
			if created {
				verb = "registered"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, d.ID)
			return nil
		},
	}
	register.Flags().StringVar(&d.Name, "name", "", "display name")
	register.Flags().StringVar(&d.Host, "host", "", "host the device listens on")
	register.Flags().IntVar(&d.Port, "port", 0, "port the device listens on")
	register.Flags().StringVar(&d.Platform, "platform", "", "platform tag, e.g. ipados or macos")

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			if err := client.RemoveDevice(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(register, remove)
	return cmd
}

func printDevices(out io.Writer, devices []device.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(out, gray("no devices registered"))
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPLATFORM\tADDRESS")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Platform, d.Address())
	}
	_ = w.Flush()
}

func newHealthCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show gateway health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newGatewayClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			report, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s up %s, %d device(s), agents: %s\n",
				green(report.Status), report.Uptime, report.Devices, strings.Join(report.Agents, ", "))
			return nil
		},
	}
}
