package main

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"moodcam/internal/detection"
	"moodcam/internal/pipeline"
)

var (
	detectJSON   bool
	detectNative bool
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Send one image to the emotion detector and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

func init() {
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Print the result as JSON")
	detectCmd.Flags().BoolVar(&detectNative, "native", false, "Send the image at its own size instead of the capture size")
}

func runDetect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	width, height := cfg.Pipeline.CaptureWidth, cfg.Pipeline.CaptureHeight
	if detectNative {
		width, height = 0, 0
	}
	frame, err := pipeline.NewEncoder("cli", width, height, cfg.Pipeline.JPEGQuality).Encode(img, time.Now())
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	client, err := detection.New(cfg.DetectorClientConfig(), logger)
	if err != nil {
		return err
	}
	defer client.Close()

	start := time.Now()
	result, err := client.Detect(cmd.Context(), frame)
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}
	logger.Debug("detection finished", "latency", time.Since(start), "faces", len(result.Faces))

	out := cmd.OutOrStdout()
	if detectJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(out, "capture %dx%d, dominant %s\n", frame.Width, frame.Height, pipeline.FormatLabel(pipeline.DisplayBox{Emotion: result.Dominant, Confidence: result.Confidence}))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FACE\tEMOTION\tBOX")
	for i, face := range result.Faces {
		b := face.Box
		label := pipeline.FormatLabel(pipeline.DisplayBox{Emotion: face.Emotion, Label: face.Label, Confidence: face.Confidence})
		fmt.Fprintf(tw, "%d\t%s\t[%.0f %.0f %.0f %.0f]\n", i+1, label, b.X1, b.Y1, b.X2, b.Y2)
	}
	return tw.Flush()
}
