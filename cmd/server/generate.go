package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/gemini-live-service/internal/generate"
)

var (
	imageAspect string
	videoAspect string
	resolution  string
	outputPath  string
	waitTimeout time.Duration
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "One-shot chat, image and video generation",
}

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send a single chat prompt and print the reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newCLIGenerator(cmd.Context())
		if err != nil {
			return err
		}

		reply, err := client.Chat(cmd.Context(), nil, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	},
}

var imageCmd = &cobra.Command{
	Use:   "image <prompt>",
	Short: "Generate an image and write it to --output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newCLIGenerator(cmd.Context())
		if err != nil {
			return err
		}

		img, err := client.Image(cmd.Context(), args[0], imageAspect)
		if err != nil {
			return err
		}

		path := outputPath
		if path == "" {
			path = "image.png"
		}
		if err := os.WriteFile(path, img.Data, 0644); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d bytes)\n", path, img.MIMEType, len(img.Data))
		return nil
	},
}

var videoCmd = &cobra.Command{
	Use:   "video <prompt>",
	Short: "Generate a video, wait for it and write it to --output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newCLIGenerator(cmd.Context())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
		defer cancel()

		job, err := client.Video(ctx, args[0], generate.VideoOptions{
			Resolution:  resolution,
			AspectRatio: videoAspect,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "waiting for %s...\n", job.Status().Operation)

		video, err := job.Wait(ctx)
		if err != nil {
			return err
		}

		path := outputPath
		if path == "" {
			path = "video.mp4"
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()

		n, err := client.Download(ctx, video, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, n)
		return nil
	},
}

func init() {
	imageCmd.Flags().StringVar(&imageAspect, "aspect-ratio", "1:1", "Image aspect ratio (1:1, 16:9, 9:16, 3:4, 4:3)")
	imageCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default image.png)")

	videoCmd.Flags().StringVar(&videoAspect, "aspect-ratio", "16:9", "Video aspect ratio (16:9, 9:16)")
	videoCmd.Flags().StringVar(&resolution, "resolution", "720p", "Video resolution (720p, 1080p)")
	videoCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default video.mp4)")
	videoCmd.Flags().DurationVar(&waitTimeout, "timeout", 10*time.Minute, "How long to wait for the video")

	generateCmd.AddCommand(chatCmd, imageCmd, videoCmd)
	rootCmd.AddCommand(generateCmd)
}

func newCLIGenerator(ctx context.Context) (*generate.Client, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	client, err := newGenerator(ctx, cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: set GEMINI_API_KEY or generate.api_key", generate.ErrMissingAPIKey)
	}
	return client, nil
}
