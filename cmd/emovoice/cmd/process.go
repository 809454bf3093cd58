package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"emovoice/internal/domain"
	"emovoice/internal/tts"
)

var (
	processJSON    bool
	processNoSinks bool
)

var processCmd = &cobra.Command{
	Use:   "process <audio.wav>",
	Short: "Run one recording through the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().BoolVar(&processJSON, "json", false, "print the full result as JSON")
	processCmd.Flags().BoolVar(&processNoSinks, "no-sinks", false, "do not store or publish the run")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ProcessTimeout)
	defer cancel()

	mode := withSinks
	if processNoSinks {
		mode = withoutSinks
	}
	p, err := buildPipeline(ctx, cfg, mode, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	result, err := p.service.Process(ctx, args[0])
	if err != nil {
		return err
	}
	if processJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printSummary(cmd.OutOrStdout(), result)
	return nil
}

func printSummary(w io.Writer, r domain.PipelineResult) {
	fmt.Fprintf(w, "run:        %s (%s)\n", r.RunID, tts.FormatDuration(time.Duration(r.LatencyMS)*time.Millisecond))
	fmt.Fprintf(w, "transcript: %s\n", tts.Truncate(r.Transcript, 120))
	fmt.Fprintf(w, "voice:      %s %.2f\n", r.VoiceEstimate.PrimaryEmotion, r.VoiceEstimate.Confidence)
	fmt.Fprintf(w, "text:       %s %.2f\n", r.TextEstimate.PrimaryEmotion, r.TextEstimate.Confidence)
	fmt.Fprintf(w, "fused:      %s %.2f intensity=%.2f (%s)\n",
		r.Fused.PrimaryEmotion, r.Fused.Confidence, r.Fused.Intensity, r.Fused.IntensityLevel)
	if r.Safety.IsCrisis {
		fmt.Fprintf(w, "safety:     CRISIS %s\n", r.Safety.CrisisType)
	} else {
		fmt.Fprintf(w, "safety:     %s\n", r.Safety.RecommendedAction)
	}
	if r.WellnessSuggestion != nil {
		fmt.Fprintf(w, "suggestion: %s (%s)\n", r.WellnessSuggestion.Title, r.WellnessSuggestion.Duration)
	}
	if len(r.Degraded) > 0 {
		fmt.Fprintf(w, "degraded:   %s\n", strings.Join(r.Degraded, ", "))
	}
	if r.ReplyAudioPath != "" {
		fmt.Fprintf(w, "audio:      %s\n", r.ReplyAudioPath)
	}
	fmt.Fprintf(w, "\n%s\n", r.Reply)
}
