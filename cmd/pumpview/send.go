package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/session"
	"github.com/Suhridx/pump-dashboard/view"
)

func newSendCmd(opts *cliOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send <payload|->",
		Short: "Connect once, publish one request to the device and disconnect",
		Long: "send connects as the configured auth.identity, publishes one JSON request " +
			"through the outbound gate and exits. Use - to read the payload from stdin.",
		Example: `  pumpview send -c pump.yaml '{"key":"pump","name":"pump1"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(cmd.ErrOrStderr()); err != nil {
				return err
			}
			payload := []byte(args[0])
			if args[0] == "-" {
				b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 64<<10))
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				payload = []byte(strings.TrimSpace(string(b)))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			kind, err := sendOnce(ctx, opts, payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", kind, opts.cfg.Session.PublishTopic)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up if not connected and sent within this time")
	return cmd
}

func sendOnce(ctx context.Context, opts *cliOptions, payload []byte) (string, error) {
	cfg := opts.cfg
	if cfg.Auth.Identity == nil {
		return "", errors.WrapFatal(
			fmt.Errorf("%w: auth.identity is required to send", errors.ErrMissingConfig),
			"main", "send", "check identity")
	}
	id, err := cfg.Auth.Identity.Identity()
	if err != nil {
		return "", err
	}

	pub := view.NewPublisher()
	defer pub.Close()
	mgr, err := newSession(cfg, pub, nil, opts.logger, false)
	if err != nil {
		return "", err
	}

	// fail fast on malformed payloads before touching the network
	if _, err := mgr.Gate().Parse(payload); err != nil {
		return "", err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer func() {
		stop()
		<-mgr.Done()
	}()
	go func() { _ = mgr.Run(runCtx) }()

	sub := pub.Subscribe()
	defer sub.Close()

	if err := mgr.Ready(ctx, id); err != nil {
		return "", err
	}
	if err := waitConnected(ctx, mgr, sub); err != nil {
		return "", err
	}

	req, err := mgr.Send(ctx, payload)
	if err != nil {
		return "", err
	}
	return req.Kind, nil
}

func waitConnected(ctx context.Context, mgr *session.Manager, sub *view.Subscription) error {
	for !mgr.Connected() {
		select {
		case <-sub.C():
		case <-ctx.Done():
			err := mgr.LastError()
			if err == nil {
				err = ctx.Err()
			}
			return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrNotConnected, err),
				"main", "send", "wait for link")
		}
	}
	return nil
}
