package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/a2a-guard/internal/session"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "One-shot turn: answer a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return ask(cmd.Context(), a.orch, strings.Join(args, " "), asJSON, cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full reply as JSON")
	return cmd
}

// ask проводит один ход в отдельной сессии. Слушатель обновлений каталога не нужен: процесс живет один ход.
func ask(ctx context.Context, orch turnHandler, text string, asJSON bool, out io.Writer, logger *zap.Logger) error {
	text = strings.TrimSpace(text)
	if text == "" || session.IsExitToken(text) {
		return errors.New("ask: nothing to ask")
	}

	sess := orch.Sessions().Start()
	defer orch.Sessions().End(sess.ID)

	reply, err := orch.HandleTurn(ctx, sess.ID, text)
	if err != nil {
		logger.Error("turn failed", zap.String("turn_id", reply.TurnID), zap.Error(err))
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	printReply(out, reply)
	return nil
}
