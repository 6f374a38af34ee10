package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omochice/lanchat/internal/config"
	"github.com/omochice/lanchat/internal/logx"
	"github.com/omochice/lanchat/internal/server"
)

var port int

var rootCmd = &cobra.Command{
	Use:   "lanchat-server",
	Short: "Run a LAN chat server",
	Long: `lanchat-server hosts a chat room on the local network.

Raw TCP line clients and WebSocket clients are accepted on the same port.
Share the printed address with the people who want to join.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default LANCHAT_PORT or 8080)")
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

	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}

	srv := server.New(":"+strconv.Itoa(cfg.Port), server.WithLogger(logx.Component("server")))

	address, err := srv.Start()
	if err != nil {
		logx.Error(err, "Server failed to start", "status", srv.Status().String())
		return errors.New(srv.LastError())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Chat server running at %s\n", address)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logx.Info("Shutting down", "signal", sig.String(), "users", srv.ConnectedUsers())
	srv.Stop()
	return nil
}
