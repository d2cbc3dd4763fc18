package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/engine"
	"github.com/xela07ax/a2a-guard/internal/session"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive session on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			wait := a.listen(ctx)
			defer wait()
			defer cancel()

			return repl(ctx, a.orch, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}
}

// turnHandler: то, что нужно REPL от ядра.
type turnHandler interface {
	HandleTurn(ctx context.Context, sessionID, text string) (engine.Reply, error)
	Sessions() *session.Manager
}

func repl(ctx context.Context, orch turnHandler, in io.Reader, out io.Writer, logger *zap.Logger) error {
	sess := orch.Sessions().Start()
	defer orch.Sessions().End(sess.ID)

	fmt.Fprintln(out, "Ask about the weather. Type 'exit' to quit.")
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "You: ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if session.IsExitToken(text) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		reply, err := orch.HandleTurn(ctx, sess.ID, text)
		if err != nil {
			logger.Error("turn failed", zap.String("turn_id", reply.TurnID), zap.Error(err))
		}
		printReply(out, reply)
	}
}

// printReply: заблокированный ход помечается категорией, чтобы отказ был виден в консоли.
func printReply(out io.Writer, reply engine.Reply) {
	if reply.Verdict == domain.VerdictBlock {
		fmt.Fprintf(out, "Agent [%s]: %s\n", reply.Category, reply.FinalText)
		return
	}
	fmt.Fprintf(out, "Agent: %s\n", reply.FinalText)
}
