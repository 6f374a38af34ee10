package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/lanchat/internal/client"
	"github.com/omochice/lanchat/internal/config"
	"github.com/omochice/lanchat/internal/logx"
	"github.com/omochice/lanchat/internal/netutil"
	"github.com/omochice/lanchat/pkg/protocol"
)

var (
	serverAddr   string
	username     string
	avatarColor  string
	useWebSocket bool
)

var rootCmd = &cobra.Command{
	Use:   "lanchat",
	Short: "Join a LAN chat room",
	Long: `lanchat connects to a lanchat-server on the local network.

Commands typed at the prompt:
  /img <path>   send an image
  /typing       tell others you are typing
  quit          leave the chat`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&serverAddr, "server", "s", "", "server address as ip:port (default LANCHAT_SERVER)")
	rootCmd.Flags().StringVarP(&username, "username", "u", "", "display name (default LANCHAT_USERNAME)")
	rootCmd.Flags().StringVar(&avatarColor, "color", "", "avatar color as #RRGGBB (default LANCHAT_COLOR)")
	rootCmd.Flags().BoolVar(&useWebSocket, "ws", false, "connect over WebSocket instead of raw TCP")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logx.InitGlobalLogger(cfg.IsDevelopment())

	if cmd.Flags().Changed("server") {
		cfg.ServerAddress = serverAddr
	}
	if cmd.Flags().Changed("username") {
		cfg.Username = username
	}
	if cmd.Flags().Changed("color") {
		cfg.AvatarColor = avatarColor
	}
	if cfg.Username == "" {
		return errors.New("username is required, use --username")
	}

	host, port, err := netutil.SplitAddress(cfg.ServerAddress)
	if err != nil {
		return err
	}

	opts := []client.Option{
		client.WithLogger(logx.Component("client")),
		client.WithDialTimeout(cfg.DialTimeout),
		client.WithReconnectDelay(cfg.ReconnectDelay),
		client.WithReconnectAttempts(cfg.ReconnectAttempts),
		client.WithTypingInterval(cfg.TypingInterval),
	}
	if useWebSocket {
		opts = append(opts, client.WithWebSocket())
	}
	c := client.New(opts...)

	out := cmd.OutOrStdout()
	go printEvents(out, c.Events())

	user := protocol.NewUser(cfg.Username, cfg.AvatarColor)
	if err := c.Connect(cmd.Context(), host, port, user); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.ServerAddress, err)
	}
	defer c.Disconnect()

	fmt.Fprintln(out, "Type your messages (or 'quit' to exit):")
	return readInput(cmd.Context(), cmd.InOrStdin(), c)
}

func readInput(ctx context.Context, in io.Reader, c *client.Client) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var err error
		switch {
		case text == "quit" || text == "exit":
			return nil
		case text == "/typing":
			err = c.SendTyping(ctx, true)
		case strings.HasPrefix(text, "/img "):
			err = sendImageFile(ctx, c, strings.TrimSpace(strings.TrimPrefix(text, "/img ")))
		default:
			if err = c.SendTyping(ctx, false); err == nil {
				err = c.SendText(ctx, text)
			}
		}
		if err != nil {
			logx.Warn("Send failed", "error", err.Error())
		}
	}
	return scanner.Err()
}

func sendImageFile(ctx context.Context, c *client.Client, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	logx.Debug("Sending image", "path", path, "bytes", len(raw))
	return c.SendImage(ctx, raw)
}

func printEvents(out io.Writer, events <-chan protocol.Event) {
	for e := range events {
		switch e := e.(type) {
		case protocol.TextMessage:
			fmt.Fprintf(out, "%s [%s]: %s\n", clock(e.Timestamp), e.User.Username, e.Text)
		case protocol.ImageMessage:
			fmt.Fprintf(out, "%s [%s] sent an image (%d bytes encoded)\n", clock(e.Timestamp), e.User.Username, len(e.ImageData))
		case protocol.UserJoined:
			fmt.Fprintf(out, "*** %s joined the chat ***\n", e.User.Username)
		case protocol.UserLeft:
			fmt.Fprintf(out, "*** %s left the chat ***\n", e.User.Username)
		case protocol.TypingIndicator:
			if e.IsTyping {
				fmt.Fprintf(out, "... %s is typing\n", e.User.Username)
			}
		case protocol.UserListUpdate:
			names := make([]string, 0, len(e.Users))
			for _, u := range e.Users {
				names = append(names, u.Username)
			}
			fmt.Fprintf(out, "*** online: %s ***\n", strings.Join(names, ", "))
		case protocol.ConnectionStatusChanged:
			logx.Debug("Connection status changed", "status", e.Status.String())
			switch e.Status {
			case protocol.StatusReconnecting:
				fmt.Fprintln(out, "*** connection lost, reconnecting... ***")
			case protocol.StatusError:
				fmt.Fprintln(out, "*** could not reach the server ***")
			}
		}
	}
}

func clock(ms int64) string {
	return time.UnixMilli(ms).Format("15:04")
}
