package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zelak312/frameup/rife"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "frameup",
	Short:         "Raise the frame rate of videos with RIFE",
	SilenceUsage:  true,
	SilenceErrors: true,
}

type interpolateFlags struct {
	video   string
	skip    bool
	fps     int
	png     bool
	ext     string
	exp     int
	model   string
	backend string
	output  string
}

var interpolateArgs interpolateFlags

var interpolateCmd = &cobra.Command{
	Use:   "interpolate",
	Short: "Interpolate a single video",
	Long: `Interpolates every consecutive pair of frames 2^exp - 1 times and writes
the result to <video>_<times>X_<fps>fps.<ext>, or to a PNG sequence with --png.`,
	Args: cobra.NoArgs,
	RunE: runInterpolate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config yml file")

	flags := interpolateCmd.Flags()
	flags.StringVar(&interpolateArgs.video, "video", "", "Video to interpolate")
	flags.BoolVar(&interpolateArgs.skip, "skip", false, "Drop static frames from the output")
	flags.IntVar(&interpolateArgs.fps, "fps", 0, "Output frame rate, defaults to the source rate times 2^exp")
	flags.BoolVar(&interpolateArgs.png, "png", false, "Write a PNG sequence instead of a video")
	flags.StringVar(&interpolateArgs.ext, "ext", "mp4", "Output video extension")
	flags.IntVar(&interpolateArgs.exp, "exp", 1, "Interpolation exponent, 1 to 3")
	flags.StringVar(&interpolateArgs.model, "model", "", "Model directory, overrides the config")
	flags.StringVar(&interpolateArgs.backend, "backend", "", "Model backend: process, onnx or linear")
	flags.StringVar(&interpolateArgs.output, "output", "", "Directory of the PNG sequence")
	interpolateCmd.MarkFlagRequired("video")

	rootCmd.AddCommand(interpolateCmd, serveCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads the config and opens the log file, the returned function
// releases what was opened
func setup(name string) (*Config, *logrus.Entry, func(), error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	if err := InitLogFile(config.LogPath); err != nil {
		return nil, nil, nil, err
	}

	logger, err := CreateLogger(name)
	if err != nil {
		CloseLogFile()
		return nil, nil, nil, err
	}

	return &config, logger, func() { CloseLogFile() }, nil
}

// newModelFactory sends the stderr of the inference process to the log
func newModelFactory(config *Config, logger *logrus.Entry) ModelFactory {
	return func() (rife.Model, error) {
		opts := config.RifeOptions()
		opts.Stderr = logger.WithField("from", "rife").WriterLevel(logrus.DebugLevel)
		return rife.New(opts)
	}
}

func runInterpolate(cmd *cobra.Command, args []string) error {
	config, logger, cleanup, err := setup("interpolate")
	if err != nil {
		return err
	}
	defer cleanup()

	// Flags win over the config file and the environment
	if interpolateArgs.model != "" {
		config.Model.Path = interpolateArgs.model
	}

	if interpolateArgs.backend != "" {
		config.Model.Backend = interpolateArgs.backend
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := newModelFactory(config, logger)()
	if err != nil {
		return err
	}
	defer model.Close()

	var store *Sqlite
	if config.DatabasePath != "" {
		store, err = NewSqlite(config.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.RunMigrations(); err != nil {
			return err
		}
	}

	var bar *progressbar.ProgressBar
	interpolator := NewInterpolator(logger, model, config)
	interpolator.OnProgress(func(done, total int64) {
		if bar == nil {
			bar = NewProgressBar(total, "Interpolating")
		}
		bar.Set64(done)
	})

	opts := RunOptions{
		Video:     interpolateArgs.video,
		Skip:      interpolateArgs.skip,
		FPS:       interpolateArgs.fps,
		PNG:       interpolateArgs.png,
		Ext:       interpolateArgs.ext,
		Exp:       interpolateArgs.exp,
		OutputDir: interpolateArgs.output,
	}

	result, err := interpolator.Run(ctx, opts)
	if bar != nil {
		bar.Finish()
	}

	if store != nil {
		job := Job{
			RunID: uuid.NewString(),
			Path:  opts.Video,
			Exp:   opts.Exp,
			FPS:   opts.FPS,
			PNG:   opts.PNG,
			Skip:  opts.Skip,
			Ext:   opts.Ext,
		}
		if recordErr := store.RecordRun(&job, result, err); recordErr != nil {
			logger.Warn("Failed to record job in history: ", recordErr)
		}
	}

	if err != nil {
		return err
	}

	fmt.Printf("%s: %d frames written (%d substituted, %d static skipped)\n",
		result.OutputPath, result.FramesWritten, result.Substituted, result.StaticSkipped)
	return nil
}
