package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/Zelak312/frameup/rife"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// Above this distance the pair is a scene cut or the model failed,
	// its output is replaced by the source frames
	failedThreshold = 0.2

	// Below this distance the pair is static
	staticThreshold = 5e-3

	staticWarnEvery = 100
)

var (
	ErrNoFrames       = errors.New("video has no frames")
	ErrVideoNotFound  = errors.New("source video not found")
	ErrSameOutputPath = errors.New("output path is the source video")
	ErrOutputExists   = errors.New("output already exists")
)

type RunOptions struct {
	Video string
	// Explicit output file, defaults to <video>_<times>X_<fps>fps.<ext>
	OutputPath string
	Skip       bool
	FPS        int
	PNG        bool
	Ext        string
	Exp        int
	// PNG mode only
	OutputDir string
}

type RunResult struct {
	OutputPath        string  `json:"outputPath"`
	SourceFPS         int     `json:"sourceFps"`
	TargetFPS         float64 `json:"targetFps"`
	FramesRead        int64   `json:"framesRead"`
	FramesWritten     int64   `json:"framesWritten"`
	PairsInterpolated int64   `json:"pairsInterpolated"`
	Substituted       int64   `json:"substituted"`
	StaticSkipped     int64   `json:"staticSkipped"`
}

// ProgressFunc receives the number of source frames consumed so far and
// the expected total, 0 when unknown
type ProgressFunc func(done, total int64)

type Interpolator struct {
	logger     *logrus.Entry
	model      rife.Model
	config     *Config
	onProgress ProgressFunc
}

func NewInterpolator(logger *logrus.Entry, model rife.Model, config *Config) *Interpolator {
	return &Interpolator{
		logger: logger,
		model:  model,
		config: config,
	}
}

func (i *Interpolator) OnProgress(fn ProgressFunc) {
	i.onProgress = fn
}

func (o *RunOptions) setDefaults() error {
	if o.Video == "" {
		return errors.New("missing video path")
	}

	if o.Ext == "" {
		o.Ext = "mp4"
	}

	o.Ext = strings.TrimPrefix(o.Ext, ".")

	if o.Exp == 0 {
		o.Exp = 1
	}

	if o.Exp < 1 || o.Exp > rife.MaxExp {
		return rife.ErrInvalidExp
	}

	if o.FPS < 0 {
		return errors.New("fps must be positive")
	}

	if o.OutputDir == "" {
		o.OutputDir = "output"
	}

	return nil
}

// OutputPath names the interpolated video after its source,
// e.g. clip.mkv at 4x and 96fps becomes clip_4X_96fps.mp4
func OutputPath(video string, times int, fps float64, ext string) string {
	withoutExt := strings.TrimSuffix(video, filepath.Ext(video))
	return fmt.Sprintf("%s_%dX_%dfps.%s", withoutExt, times, int(math.Round(fps)), ext)
}

func (i *Interpolator) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	if err := opts.setDefaults(); err != nil {
		return RunResult{}, err
	}

	videoExist, err := PathExist(opts.Video)
	if err != nil {
		return RunResult{}, err
	}

	if !videoExist {
		return RunResult{}, fmt.Errorf("%w: %s", ErrVideoNotFound, opts.Video)
	}

	videoInfo, output, err := GetVideoInfo(ctx, opts.Video)
	if err != nil {
		if output != "" {
			i.logger.Debug("ffprobe output: ", output)
		}
		return RunResult{}, fmt.Errorf("probing %s: %w", opts.Video, err)
	}

	times := rife.Times(opts.Exp)
	fps := int(math.Round(videoInfo.FrameRate))
	targetFPS := float64(opts.FPS)
	if targetFPS == 0 {
		targetFPS = float64(fps * times)
	}

	result := RunResult{SourceFPS: fps, TargetFPS: targetFPS}

	var sink FrameSink
	if opts.PNG {
		result.OutputPath = opts.OutputDir
		sink, err = NewPNGWriter(opts.OutputDir)
	} else {
		result.OutputPath = opts.OutputPath
		if result.OutputPath == "" {
			result.OutputPath = OutputPath(opts.Video, times, targetFPS, opts.Ext)
		}

		if err := i.prepareOutput(opts.Video, result.OutputPath); err != nil {
			return result, err
		}

		keepAudio := *i.config.FFmpegOptions.KeepAudio && !opts.Skip
		sink, err = NewVideoEncoder(ctx, videoInfo, i.config.FFmpegOptions, result.OutputPath, targetFPS, keepAudio)
	}

	if err != nil {
		return result, err
	}

	name := strings.TrimSuffix(opts.Video, filepath.Ext(opts.Video))
	i.logger.Infof("%s.%s, %d frames in total, %dFPS to %gFPS", name, opts.Ext, videoInfo.FrameCount, fps, targetFPS)

	vp := NewVideoProcessor(videoInfo, i.config.FFmpegOptions)
	if err := i.decodeInto(ctx, vp, sink, videoInfo, opts, &result); err != nil {
		return result, err
	}

	i.logger.WithFields(StructFields(result)).Info("Finished interpolation")
	return result, nil
}

// frameDecoder is a FrameSource backed by a running process
type frameDecoder interface {
	FrameSource
	StartReading(ctx context.Context) error
	Close() error
}

// decodeInto streams the decoded video through the model into sink and
// closes both. A failed run leaves no partial video behind.
func (i *Interpolator) decodeInto(ctx context.Context, dec frameDecoder, sink FrameSink,
	videoInfo *VideoInfo, opts RunOptions, result *RunResult) error {
	var err error
	if startErr := dec.StartReading(ctx); startErr != nil {
		err = fmt.Errorf("starting decoder: %w", startErr)
	} else {
		err = i.interpolateStream(ctx, dec, sink, videoInfo.Width, videoInfo.Height, videoInfo.FrameCount, opts, result)
		if closeErr := dec.Close(); closeErr != nil {
			i.logger.Debug("Closing decoder: ", closeErr)
		}
	}

	closeErr := sink.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil && !opts.PNG {
		os.Remove(result.OutputPath)
	}

	return err
}

func (i *Interpolator) prepareOutput(video string, outputPath string) error {
	samePath, err := IsSamePath(video, outputPath)
	if err != nil {
		return err
	}

	if samePath {
		return ErrSameOutputPath
	}

	outputExist, err := PathExist(outputPath)
	if err != nil {
		return err
	}

	if outputExist && !*i.config.DeleteOutputIfAlreadyExist {
		return fmt.Errorf("%w: %s", ErrOutputExists, outputPath)
	}

	return os.MkdirAll(filepath.Dir(outputPath), os.ModePerm)
}

// interpolateStream runs decoding, inference and writing as three stages.
// Frames are gathered into windows that share their edge frame, every
// consecutive pair of a window is interpolated in one batch.
func (i *Interpolator) interpolateStream(ctx context.Context, src FrameSource, sink FrameSink,
	width, height int, total int64, opts RunOptions, result *RunResult) error {
	windowSize := i.config.WindowSize
	g, gctx := errgroup.WithContext(ctx)

	frames := make(chan []byte, windowSize)
	out := make(chan []byte, windowSize*rife.Times(opts.Exp))

	var framesRead, framesWritten, consumed int64

	// frames is closed on EOF only, a failed decode cancels gctx instead
	g.Go(func() error {
		for {
			frame, err := src.ReadFrame()
			if errors.Is(err, io.EOF) {
				close(frames)
				return nil
			}

			if err != nil {
				return fmt.Errorf("decoding frame %d: %w", framesRead, err)
			}

			framesRead++
			select {
			case frames <- frame.Data:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		defer close(out)
		emit := func(frame []byte) error {
			select {
			case out <- frame:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		advance := func(n int) {
			consumed += int64(n)
			if i.onProgress != nil {
				i.onProgress(consumed, total)
			}
		}

		next := func() ([]byte, bool, error) {
			select {
			case frame, ok := <-frames:
				return frame, ok, nil
			case <-gctx.Done():
				return nil, false, gctx.Err()
			}
		}

		first, ok, err := next()
		if err != nil {
			return err
		}

		if !ok {
			return ErrNoFrames
		}

		window := [][]byte{first}
		for {
			frame, ok, err := next()
			if err != nil {
				return err
			}

			if ok {
				window = append(window, frame)
			}

			if len(window) == windowSize || (!ok && len(window) > 1) {
				pairs, err := i.processWindow(gctx, window, width, height, opts, result, emit)
				if err != nil {
					return err
				}

				advance(pairs)
				window = [][]byte{window[len(window)-1]}
			}

			if !ok {
				break
			}
		}

		// The last source frame closes the sequence
		if err := emit(window[0]); err != nil {
			return err
		}
		advance(1)
		return nil
	})

	g.Go(func() error {
		for data := range out {
			if err := sink.WriteFrame(Frame{Data: data, Width: width, Height: height}); err != nil {
				return err
			}
			framesWritten++
		}
		return nil
	})

	err := g.Wait()
	result.FramesRead = framesRead
	result.FramesWritten = framesWritten
	return err
}

// processWindow interpolates every consecutive pair of window and emits
// each kept pair as I0 followed by its interpolated frames
func (i *Interpolator) processWindow(ctx context.Context, window [][]byte, width, height int,
	opts RunOptions, result *RunResult, emit func([]byte) error) (int, error) {
	i0, i1 := window[:len(window)-1], window[1:]
	scores := rife.Similarity(i0, i1, width, height)

	middles, err := rife.Schedule(ctx, i.model,
		rife.PadBatch(i0, width, height), rife.PadBatch(i1, width, height), opts.Exp)
	if err != nil {
		return 0, fmt.Errorf("interpolating: %w", err)
	}

	steps := make([][][]byte, len(middles))
	for k, middle := range middles {
		steps[k], err = rife.UnpadFrames(middle, width, height)
		if err != nil {
			return 0, err
		}
	}

	for n := range i0 {
		var interpolated [][]byte

		switch classifyPair(scores[n], opts.Skip) {
		case pairStatic:
			result.StaticSkipped++
			if result.StaticSkipped%staticWarnEvery == 0 {
				i.logger.Warnf("Your video has %d static frames, skipping them may change the duration of the generated video.", result.StaticSkipped)
			}
			continue
		case pairFailed:
			result.Substituted++
			interpolated = substitute(i0[n], i1[n], len(steps))
		default:
			interpolated = make([][]byte, len(steps))
			for k := range steps {
				interpolated[k] = steps[k][n]
			}
		}

		if err := emit(i0[n]); err != nil {
			return 0, err
		}

		for _, frame := range interpolated {
			if err := emit(frame); err != nil {
				return 0, err
			}
		}

		result.PairsInterpolated++
	}

	return len(i0), nil
}

type pairKind int

const (
	pairInterpolate pairKind = iota
	pairFailed
	pairStatic
)

func classifyPair(score float64, skip bool) pairKind {
	if score > failedThreshold {
		return pairFailed
	}

	if skip && score < staticThreshold {
		return pairStatic
	}

	return pairInterpolate
}

// substitute repeats I0 in place of the interpolated frames, the last slot
// takes I1 when there is more than one
func substitute(i0, i1 []byte, n int) [][]byte {
	frames := make([][]byte, n)
	for k := range frames {
		frames[k] = i0
	}

	if n > 1 {
		frames[n-1] = i1
	}

	return frames
}
