package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pkg/composer"
	"github.com/reelforge/reelforge/pkg/types"
)

var (
	rootCmd = &cobra.Command{
		Use:   "reelforge",
		Short: "Composite source videos into branded vertical templates",
		Long: `reelforge composites a source video into the placeholder region of a
template image and encodes the result, with automatic letterbox removal,
optional AI content framing, and GPU encoding with software fallback.

Examples:
  # Composite a clip into a template, cover fit, balanced quality
  reelforge process -i clip.mp4 --template frame.png -o reel.mp4

  # GPU encode with AI framing and a watermark
  reelforge process -i clip.mp4 --template frame.png -o reel.mp4 \
    --gpu --ai-framing --watermark "@myhandle"`,
	}

	processCmd = &cobra.Command{
		Use:   "process",
		Short: "Composite one video into a template and encode it",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := composer.Options{}

			opts.SourcePath, _ = cmd.Flags().GetString("input")
			opts.TemplatePath, _ = cmd.Flags().GetString("template")
			opts.OutputPath, _ = cmd.Flags().GetString("output")

			fitMode, _ := cmd.Flags().GetString("fit")
			opts.FitMode = types.FitMode(fitMode)
			tier, _ := cmd.Flags().GetString("quality")
			opts.QualityTier = types.QualityTier(tier)

			opts.UseGPU, _ = cmd.Flags().GetBool("gpu")
			opts.TrimStartSec, _ = cmd.Flags().GetFloat64("trim-start")
			opts.TrimEndSec, _ = cmd.Flags().GetFloat64("trim-end")
			opts.UseAIFraming, _ = cmd.Flags().GetBool("ai-framing")
			opts.UseMirror, _ = cmd.Flags().GetBool("mirror")
			opts.UseDenoise, _ = cmd.Flags().GetBool("denoise")
			opts.UseSafeFrame, _ = cmd.Flags().GetBool("safe-frame")
			opts.FrameLoop, _ = cmd.Flags().GetBool("frame-loop")
			opts.WatermarkText, _ = cmd.Flags().GetString("watermark")

			if region := regionFromFlags(cmd); region != nil {
				opts.Region = region
			}

			c, err := composer.New()
			if err != nil {
				return err
			}

			result := c.Process(signalContext(), opts, printProgress)
			if result.Cancelled {
				return fmt.Errorf("cancelled")
			}
			if !result.Success {
				return fmt.Errorf("%s", result.Error)
			}
			fmt.Printf("wrote %s\n", result.OutputPath)
			return nil
		},
	}

	detectRegionCmd = &cobra.Command{
		Use:   "detect-region",
		Short: "Detect the placeholder region in a template image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := composer.New()
			if err != nil {
				return err
			}
			region, err := c.DetectRegion(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("region: x=%d y=%d width=%d height=%d\n",
				region.X, region.Y, region.Width, region.Height)
			return nil
		},
	}

	detectBordersCmd = &cobra.Command{
		Use:   "detect-borders",
		Short: "Detect letterbox/pillarbox borders in a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := composer.New()
			if err != nil {
				return err
			}
			crop, err := c.DetectBorders(signalContext(), args[0])
			if err != nil {
				return err
			}
			if !crop.HasBorders {
				fmt.Println("no borders detected")
				return nil
			}
			fmt.Printf("content: x=%d y=%d width=%d height=%d (of %dx%d)\n",
				crop.X, crop.Y, crop.Width, crop.Height,
				crop.OriginalWidth, crop.OriginalHeight)
			return nil
		},
	}

	encodersCmd = &cobra.Command{
		Use:   "encoders",
		Short: "Probe hardware capability and print the encoder chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := composer.New()
			if err != nil {
				return err
			}
			for i, enc := range c.EncoderCandidates(signalContext()) {
				kind := "software"
				if enc.Hardware {
					kind = "hardware"
				}
				fmt.Printf("%d. %s (%s)\n", i+1, enc.Name, kind)
			}
			return nil
		},
	}
)

// regionFromFlags returns a region override only when all four flags are set.
func regionFromFlags(cmd *cobra.Command) *types.Region {
	x, _ := cmd.Flags().GetInt("region-x")
	y, _ := cmd.Flags().GetInt("region-y")
	w, _ := cmd.Flags().GetInt("region-width")
	h, _ := cmd.Flags().GetInt("region-height")
	if w <= 0 || h <= 0 {
		return nil
	}
	return &types.Region{X: x, Y: y, Width: w, Height: h}
}

func printProgress(p types.Progress) {
	switch p.Stage {
	case types.StageProcessing:
		if p.Speed != "" {
			fmt.Printf("  %3.0f%%  %s (%.0f fps, %s)\n", p.Percent, p.Stage, p.FPS, p.Speed)
		} else {
			fmt.Printf("  %3.0f%%  %s\n", p.Percent, p.Stage)
		}
	default:
		fmt.Printf("  %3.0f%%  %s: %s\n", p.Percent, p.Stage, p.Message)
	}
}

// signalContext cancels on SIGINT/SIGTERM so a killed run surfaces as a
// cancelled job and cleans up its scratch files.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func init() {
	processCmd.Flags().StringP("input", "i", "", "Source video file")
	processCmd.Flags().String("template", "", "Template image (png, jpeg, or webp)")
	processCmd.Flags().StringP("output", "o", "", "Output video path")
	processCmd.Flags().String("fit", "", "Fit mode: cover or contain (default cover, contain with --safe-frame)")
	processCmd.Flags().StringP("quality", "q", "balanced", "Quality tier (fast, balanced, quality)")
	processCmd.Flags().Bool("gpu", false, "Try hardware encoders before software")
	processCmd.Flags().Float64("trim-start", 0, "Seconds to trim from the start")
	processCmd.Flags().Float64("trim-end", 0, "Seconds to trim from the end")
	processCmd.Flags().Bool("ai-framing", false, "Ask the framing service where the content sits")
	processCmd.Flags().Bool("mirror", false, "Mirror the video horizontally")
	processCmd.Flags().Bool("denoise", false, "Apply denoise and color-grade pass")
	processCmd.Flags().Bool("safe-frame", false, "Caption-safe layout (implies contain fit)")
	processCmd.Flags().Bool("frame-loop", false, "Use the in-process frame compositor")
	processCmd.Flags().String("watermark", "", "Watermark text")
	processCmd.Flags().Int("region-x", 0, "Region override: x")
	processCmd.Flags().Int("region-y", 0, "Region override: y")
	processCmd.Flags().Int("region-width", 0, "Region override: width")
	processCmd.Flags().Int("region-height", 0, "Region override: height")

	processCmd.MarkFlagRequired("input")
	processCmd.MarkFlagRequired("template")
	processCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(detectRegionCmd)
	rootCmd.AddCommand(detectBordersCmd)
	rootCmd.AddCommand(encodersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
