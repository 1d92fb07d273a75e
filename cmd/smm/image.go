package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"smmswarm/internal/images"
)

func newImageCommand(root *rootOptions) *cobra.Command {
	var (
		req    images.Request
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "image [message]",
		Short: "Compose social media images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := buildContainer(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Cleanup(ctx) }()
			if c.Images == nil {
				return errors.New("image generation is disabled: set llm.image_model")
			}

			req.Message = strings.Join(args, " ")
			res, err := c.Images.Generate(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", bold(res.PresetID), gray(res.Size), cyan(res.Mode))
			paths, err := exportImages(ctx, c.Images, res, outDir)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), successText("Saved "+p))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Platform, "platform", "p", "instagram", "instagram, telegram, vk or web")
	cmd.Flags().StringVar(&req.UseCase, "use-case", "post", "post, story, banner, hero or block")
	cmd.Flags().StringVar(&req.Overlay.Headline, "headline", "", "Overlay headline")
	cmd.Flags().StringVar(&req.Overlay.Subtitle, "subtitle", "", "Overlay subtitle")
	cmd.Flags().StringVar(&req.Overlay.CTA, "cta", "", "Overlay call to action")
	cmd.Flags().IntVarP(&req.Variants, "variants", "n", 1, "Number of variants")
	cmd.Flags().StringVarP(&req.User, "user", "u", "cli", "Owner of the stored images")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory to copy the images into")
	return cmd
}
