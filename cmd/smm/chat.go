package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"smmswarm/internal/chat"
	"smmswarm/internal/jsonx"
)

type messenger interface {
	Message(ctx context.Context, user, text string) (*chat.Response, error)
}

func newChatCommand(root *rootOptions) *cobra.Command {
	var (
		user   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the marketing assistant; without a message starts an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := buildContainer(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Cleanup(context.Background()) }()

			w := cmd.OutOrStdout()
			if len(args) > 0 {
				return sendChat(ctx, w, c.Chat, user, strings.Join(args, " "), asJSON)
			}
			if !isTTY() {
				return errors.New("pass a message or run in a terminal")
			}
			for {
				prompt := promptui.Prompt{Label: "you"}
				text, err := prompt.Run()
				if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("prompt: %w", err)
				}
				if text = strings.TrimSpace(text); text == "" {
					continue
				}
				if text == "/exit" {
					return nil
				}
				if err := sendChat(ctx, w, c.Chat, user, text, asJSON); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "cli", "Conversation owner")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response as JSON")
	return cmd
}

func sendChat(ctx context.Context, w io.Writer, svc messenger, user, text string, asJSON bool) error {
	resp, err := svc.Message(ctx, user, text)
	if err != nil {
		return err
	}
	return printChatResponse(w, resp, asJSON)
}

func printChatResponse(w io.Writer, resp *chat.Response, asJSON bool) error {
	if asJSON {
		data, err := jsonx.Pretty(resp)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, data)
		return nil
	}
	fmt.Fprintln(w, resp.Reply)
	if resp.FollowUpQuestion != "" {
		fmt.Fprintln(w, cyan(resp.FollowUpQuestion))
	}
	for i, a := range resp.Actions {
		fmt.Fprintf(w, "%s %s\n", gray(fmt.Sprintf("[%d]", i+1)), a.Text)
	}
	return nil
}
