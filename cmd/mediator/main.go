// Command mediator runs the BiDi↔CDP mediator as a standalone
// process, fronted by either a websocket or a pipe BidiTransport,
// against an already-running browser's CDP endpoint.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bidicdp/mediator/internal/mediatorapp"
)

var version = "dev"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port        int
		pipeAddr    string
		cdpEndpoint string
		selfTarget  string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:     "mediator",
		Short:   "BiDi-to-CDP protocol mediator",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cdpEndpoint == "" {
				return fmt.Errorf("--cdp-endpoint is required")
			}

			log := logrus.New()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			entry := logrus.NewEntry(log)

			cfg := mediatorapp.Config{
				CdpEndpoint:  cdpEndpoint,
				SelfTargetID: selfTarget,
			}
			if pipeAddr != "" {
				cfg.Transport = mediatorapp.TransportPipe
				cfg.PipeAddr = pipeAddr
			} else {
				cfg.Transport = mediatorapp.TransportWebSocket
				cfg.Port = port
			}

			app, err := mediatorapp.New(cfg, entry)
			if err != nil {
				return err
			}
			if err := app.Run(); err != nil {
				return err
			}
			defer app.Close()

			if cfg.Transport == mediatorapp.TransportWebSocket {
				fmt.Printf("mediator listening on ws://localhost:%d\n", app.Port())
			} else {
				fmt.Printf("mediator listening on %s\n", pipeAddr)
			}
			fmt.Println("press Ctrl+C to stop...")
			waitForSignal()
			fmt.Println("shutting down...")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 9222, "port for the websocket BiDi transport")
	cmd.Flags().StringVar(&pipeAddr, "pipe", "", "unix socket path (or Windows pipe name) for the pipe BiDi transport, instead of websocket")
	cmd.Flags().StringVar(&cdpEndpoint, "cdp-endpoint", "", "the browser's CDP websocket debugger URL")
	cmd.Flags().StringVar(&selfTarget, "self-target-id", "", "the mediator's own target id, filtered from public responses")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
