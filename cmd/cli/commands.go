package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"path/filepath"
	"strings"
	"time"

	"github.com/eligwz/spectrogram"
	"github.com/himanishpuri/EarPrint/pkg/earprint"
	"github.com/himanishpuri/EarPrint/pkg/earprint/audio"
	"github.com/himanishpuri/EarPrint/pkg/earprint/fingerprint"
	"github.com/himanishpuri/EarPrint/pkg/models"
	"github.com/spf13/cobra"
)

func newAddCmd(a *app) *cobra.Command {
	var rec models.Recording
	cmd := &cobra.Command{
		Use:   "add <audio_file>",
		Short: "Fingerprint an audio file and add it to the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			fmt.Fprintln(out, "🎵 Processing audio file...")
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			added, err := svc.RegisterFile(ctx, args[0], rec)
			if err != nil {
				return fmt.Errorf("failed to add song: %w", err)
			}
			count, _ := svc.FingerprintCount(ctx, added.ID)

			fmt.Fprintln(out, "✅ Successfully added song to database!")
			fmt.Fprintf(out, "   ID:           %s\n", added.ID)
			fmt.Fprintf(out, "   Title:        %s\n", added.Title)
			fmt.Fprintf(out, "   Artist:       %s\n", added.Artist)
			if added.Album != "" {
				fmt.Fprintf(out, "   Album:        %s\n", added.Album)
			}
			fmt.Fprintf(out, "   Duration:     %s\n", formatDuration(added.DurationSec))
			fmt.Fprintf(out, "   Fingerprints: %d\n", count)
			return nil
		},
	}
	cmd.Flags().StringVar(&rec.Title, "title", "", "Song title (default: tags or file name)")
	cmd.Flags().StringVar(&rec.Artist, "artist", "", "Artist name (default: tags)")
	cmd.Flags().StringVar(&rec.Album, "album", "", "Album name (default: tags)")
	cmd.Flags().StringVar(&rec.ID, "id", "", "Recording id (default: derived from file name)")
	return cmd
}

func newMatchCmd(a *app) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "match <audio_file>",
		Short: "Identify an audio file against the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			fmt.Fprintln(out, "🔍 Analyzing audio file...")
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			result, candidates, err := svc.IdentifyFile(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to match song: %w", err)
			}

			switch result.Status {
			case models.StatusMatched:
				fmt.Fprintf(out, "✅ Match: %q by %s\n", result.Title, result.Artist)
				fmt.Fprintf(out, "   Score: %d | Confidence: %.0f%% | Offset: %.2fs\n",
					result.Score, result.Confidence*100, result.Offset)
			case models.StatusAmbiguous:
				fmt.Fprintf(out, "⚠️  Ambiguous: %s tied at score %d\n", strings.Join(result.CandidatesTie, ", "), result.Score)
			default:
				fmt.Fprintln(out, "❌ No match found in database")
			}

			if len(candidates) > 1 && top > 1 {
				fmt.Fprintln(out, "\nCandidates:")
				for i, c := range candidates {
					if i == top {
						break
					}
					title := c.RecordingID
					if rec, err := svc.GetRecording(ctx, c.RecordingID); err == nil {
						title = fmt.Sprintf("%q by %s", rec.Title, rec.Artist)
					}
					fmt.Fprintf(out, "%d. %s (score %d, hits %d, offset %.2fs)\n", i+1, title, c.Score, c.TotalHits, c.Offset)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 5, "Number of ranked candidates to print")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered recordings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			recs, err := svc.ListRecordings(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list songs: %w", err)
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "📭 No songs in database")
				return nil
			}

			fmt.Fprintf(out, "📚 Found %d song(s):\n\n", len(recs))
			for i, rec := range recs {
				fmt.Fprintf(out, "%d. %q by %s (ID: %s)\n", i+1, rec.Title, rec.Artist, rec.ID)
				if rec.Album != "" {
					fmt.Fprintf(out, "   Album: %s\n", rec.Album)
				}
				if rec.DurationSec > 0 {
					fmt.Fprintf(out, "   Duration: %s\n", formatDuration(rec.DurationSec))
				}
			}
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <recording_id>",
		Short: "Delete a recording and its fingerprints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			svc, err := a.service()
			if err != nil {
				return err
			}
			defer svc.Close()

			id := args[0]
			rec, err := svc.GetRecording(cmd.Context(), id)
			if errors.Is(err, earprint.ErrRecordingNotFound) {
				return fmt.Errorf("song not found (ID: %s)", id)
			} else if err != nil {
				return err
			}
			if err := svc.DeleteRecording(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete song: %w", err)
			}

			fmt.Fprintln(out, "✅ Successfully deleted song:")
			fmt.Fprintf(out, "   ID:     %s\n", rec.ID)
			fmt.Fprintf(out, "   Title:  %s\n", rec.Title)
			fmt.Fprintf(out, "   Artist: %s\n", rec.Artist)
			return nil
		},
	}
}

func newSpectrogramCmd(a *app) *cobra.Command {
	var (
		output        string
		width, height int
	)
	cmd := &cobra.Command{
		Use:   "spectrogram <audio_file>",
		Short: "Render a spectrogram PNG and report landmark statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			rate := a.cfg.Engine.SampleRate
			samples, err := audio.LoadSamples(cmd.Context(), args[0], a.cfg.TempDir, rate)
			if err != nil {
				return err
			}
			if output == "" {
				output = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])) + ".png"
			}

			img := spectrogram.NewImage128(image.Rect(0, 0, width, height))
			black := spectrogram.ParseColor("000000")
			draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)
			spectrogram.Drawfft(
				img,
				samples,
				uint32(rate),
				uint32(height), // bins
				false,          // Hamming window
				false,          // FFT rather than DFT
				true,           // magnitude
				false,          // linear scale
			)
			if err := spectrogram.SavePng(img, output); err != nil {
				return fmt.Errorf("saving %s: %w", output, err)
			}

			gen, err := fingerprint.NewGenerator(a.cfg.FingerprintConfig())
			if err != nil {
				return err
			}
			peaks, err := gen.Peaks(samples, rate)
			if err != nil {
				return err
			}
			fps := fingerprint.Hash(peaks, gen.Config())
			duration := float64(len(samples)) / float64(rate)

			fmt.Fprintf(out, "🖼  Saved spectrogram to %s\n", output)
			fmt.Fprintf(out, "   Duration: %s\n", formatDuration(duration))
			fmt.Fprintf(out, "   Peaks:    %d (%.1f/s)\n", len(peaks), float64(len(peaks))/max(duration, 1e-9))
			fmt.Fprintf(out, "   Hashes:   %d\n", len(fps))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "PNG path (default: <input>.png)")
	cmd.Flags().IntVar(&width, "width", 2048, "Image width")
	cmd.Flags().IntVar(&height, "height", 512, "Image height (frequency bins)")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := a.v.AllSettings()
			if n, ok := settings["notify"].(map[string]any); ok {
				if key, _ := n["api_key"].(string); key != "" {
					n["api_key"] = "****"
				}
			}
			data, err := json.MarshalIndent(settings, "", "  ")
			if err != nil {
				return err
			}
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# config file: %s\n", used)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func formatDuration(sec float64) string {
	total := int(sec + 0.5)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
