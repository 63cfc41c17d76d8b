package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leninjo/pairrelay/internal/auth"
	"github.com/leninjo/pairrelay/internal/protocol"
	"github.com/spf13/cobra"
)

type runOptions struct {
	url      string
	clientID string
	role     string
	token    string
	secret   string
	send     string
	timeout  time.Duration
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register with the relay, optionally send one envelope, and print every frame received",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := cmd.Flags().GetString("secret")
			if err != nil {
				return err
			}
			opts.secret = secret
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return run(ctx, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "ws://127.0.0.1:8080/ws", "Relay WebSocket URL")
	cmd.Flags().StringVar(&opts.clientID, "client-id", "demo", "Pairing identity to register")
	cmd.Flags().StringVar(&opts.role, "role", "web", "Role to register as (web|app)")
	cmd.Flags().StringVar(&opts.token, "token", "", "Auth token (derived from --secret when empty)")
	cmd.Flags().StringVar(&opts.send, "send", "", "Raw JSON envelope to send after registering")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "How long to keep listening")
	return cmd
}

func run(ctx context.Context, out io.Writer, opts runOptions) error {
	role, err := protocol.ParseRole(opts.role)
	if err != nil {
		return err
	}
	if opts.token == "" {
		verifier, err := auth.NewVerifier(opts.secret)
		if err != nil {
			return err
		}
		opts.token = verifier.ExpectedToken(opts.clientID)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.url, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	register, err := json.Marshal(map[string]any{
		"type": protocol.TypeRegister,
		"data": protocol.RegisterData{ClientID: opts.clientID, Role: role, AuthToken: opts.token},
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, register); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	_, ack, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read register ack: %w", err)
	}
	fmt.Fprintf(out, "< %s\n", ack)

	if opts.send != "" {
		if !json.Valid([]byte(opts.send)) {
			return errors.New("--send must be valid JSON")
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(opts.send)); err != nil {
			return fmt.Errorf("send envelope: %w", err)
		}
		fmt.Fprintf(out, "> %s\n", opts.send)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.As(err, &closeErr):
				fmt.Fprintf(out, "closed %d %s\n", closeErr.Code, closeErr.Text)
				return nil
			case errors.Is(err, net.ErrClosed):
				return nil
			default:
				return fmt.Errorf("read: %w", err)
			}
		}
		fmt.Fprintf(out, "< %s\n", msg)
	}
}
