package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"smmswarm/internal/agents"
	"smmswarm/internal/images"
	"smmswarm/internal/jsonx"
	"smmswarm/internal/orchestrator"
)

var errNeedInfo = errors.New("the task needs clarification; rerun with --answer key=value or in a terminal")

type runOptions struct {
	agent   string
	mode    string
	user    string
	answers map[string]string
	asJSON  bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [task description]",
		Short: "Resolve one task, asking clarifying questions when needed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := buildContainer(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Cleanup(context.Background()) }()

			answers := make(map[string]any, len(opts.answers))
			for k, v := range opts.answers {
				answers[k] = v
			}
			out, err := c.Service.Start(ctx, orchestrator.StartRequest{
				User:            opts.user,
				AgentType:       opts.agent,
				TaskDescription: strings.Join(args, " "),
				Answers:         answers,
				Mode:            opts.mode,
			})
			if err != nil {
				return err
			}
			out, err = clarify(ctx, c.Service, out, isTTY())
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), c, out, opts.asJSON)
		},
	}
	cmd.Flags().StringVarP(&opts.agent, "agent", "a", agents.TypeContent, "Agent: strategy, content, analytics, promo, trends")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", orchestrator.ModeText, "Delivery mode: text, image, text_image")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "Requester id used for rate limiting and image ownership")
	cmd.Flags().StringToStringVar(&opts.answers, "answer", nil, "Pre-filled answers, e.g. --answer audience=students")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the raw outcome as JSON")
	return cmd
}

type answerer interface {
	Answer(ctx context.Context, sessionID, key string, value any) (*orchestrator.Outcome, error)
}

// clarify answers rounds of questions through prompts until the session is
// done. Without a terminal it stops at the first question.
func clarify(ctx context.Context, svc answerer, out *orchestrator.Outcome, interactive bool) (*orchestrator.Outcome, error) {
	for out.Status == orchestrator.StatusNeedInfo {
		if !interactive {
			for _, q := range out.Questions {
				fmt.Fprintf(os.Stderr, "%s %s\n", cyan(q.Key+":"), q.Question)
			}
			return nil, errNeedInfo
		}
		next := out
		for _, q := range out.Questions {
			prompt := promptui.Prompt{Label: q.Question}
			value, err := prompt.Run()
			if err != nil {
				return nil, fmt.Errorf("prompt: %w", err)
			}
			next, err = svc.Answer(ctx, out.SessionID, q.Key, strings.TrimSpace(value))
			if err != nil {
				return nil, err
			}
			if next.Status == orchestrator.StatusDone {
				break
			}
		}
		out = next
	}
	return out, nil
}

func printOutcome(w io.Writer, c *Container, out *orchestrator.Outcome, asJSON bool) error {
	if asJSON {
		data, err := jsonx.Pretty(out)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, data)
		return nil
	}
	if out.Result != nil {
		renderer, err := NewMarkdownRenderer(!isTTY())
		if err != nil {
			return err
		}
		fmt.Fprint(w, renderer.Render(out.Result.Content))
		for _, warning := range out.Result.Warnings {
			fmt.Fprintln(w, warningText(warning))
		}
		fmt.Fprintln(w, gray("confidence: "+out.Result.Confidence))
	}
	if out.Image != nil {
		paths, err := exportImages(context.Background(), c.Images, out.Image, ".")
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(w, successText("Saved "+p))
		}
	}
	return nil
}

type imageOpener interface {
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// exportImages copies stored variants into dir as <id>.png.
func exportImages(ctx context.Context, store imageOpener, res *images.Result, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(res.ImageIDs))
	for _, id := range res.ImageIDs {
		path := filepath.Join(dir, id+".png")
		if err := copyImage(ctx, store, id, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func copyImage(ctx context.Context, store imageOpener, id, path string) error {
	rc, err := store.Open(ctx, id)
	if err != nil {
		return err
	}
	defer rc.Close()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
