package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"gopkg.in/Knetic/govaluate.v2"
)

var ErrNoVideoStream = errors.New("no video streams found")

type FFProbeOutput struct {
	Streams []struct {
		Width          int    `json:"width"`
		Height         int    `json:"height"`
		FrameRate      string `json:"r_frame_rate"`
		FrameCount     string `json:"nb_frames"`
		FrameCountRead string `json:"nb_read_frames"`
	} `json:"streams"`
}

// Frame is a packed BGR24 picture
type Frame struct {
	Data   []byte
	Width  int
	Height int
}

type VideoInfo struct {
	InputPath  string
	Width      int
	Height     int
	FrameRate  float64
	FrameCount int64
}

func parseVideoInfoFFProbeOutput(output string) (*FFProbeOutput, error) {
	var probeOutput FFProbeOutput
	if err := json.Unmarshal([]byte(output), &probeOutput); err != nil {
		return nil, fmt.Errorf("parsing probe output: %w\n%v", err, output)
	}

	if len(probeOutput.Streams) == 0 {
		return nil, ErrNoVideoStream
	}

	return &probeOutput, nil
}

// evalFrameRate evaluates ffprobe rates such as "30000/1001"
func evalFrameRate(value string) (float64, error) {
	expr, err := govaluate.NewEvaluableExpression(value)
	if err != nil {
		return 0, fmt.Errorf("invalid framerate %q: %w", value, err)
	}

	if vars := expr.Vars(); len(vars) > 0 {
		return 0, fmt.Errorf("invalid framerate %q: unexpected %v", value, vars)
	}

	result, err := expr.Evaluate(map[string]interface{}{})
	if err != nil {
		return 0, fmt.Errorf("evaluating framerate %q: %w", value, err)
	}

	rate, ok := result.(float64)
	if !ok || math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return 0, fmt.Errorf("invalid framerate %q", value)
	}

	return rate, nil
}

func GetVideoInfo(ctx context.Context, inputPath string) (*VideoInfo, string, error) {
	cmd := NewCommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames",
		"-of", "json",
		inputPath)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, output, err
	}

	ffprobeOutput, err := parseVideoInfoFFProbeOutput(output)
	if err != nil {
		return nil, output, err
	}

	mainStream := ffprobeOutput.Streams[0]
	frameRate, err := evalFrameRate(mainStream.FrameRate)
	if err != nil {
		return nil, output, err
	}

	videoInfo := VideoInfo{
		InputPath: inputPath,
		Width:     mainStream.Width,
		Height:    mainStream.Height,
		FrameRate: frameRate,
	}

	if videoInfo.Width <= 0 || videoInfo.Height <= 0 {
		return nil, output, fmt.Errorf("invalid video size %dx%d", videoInfo.Width, videoInfo.Height)
	}

	if mainStream.FrameCount != "" && mainStream.FrameCount != "N/A" {
		// container already contains frame count, no need to count
		frameCount, err := strconv.ParseInt(mainStream.FrameCount, 10, 64)
		if err != nil {
			return nil, output, err
		}

		videoInfo.FrameCount = frameCount
		return &videoInfo, output, nil
	}

	// container doesn't have frame count, counting frames
	cmd = NewCommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames",
		"-of", "json",
		inputPath)

	output, err = cmd.CombinedOutput()
	if err != nil {
		return nil, output, err
	}

	ffprobeCountOutput, err := parseVideoInfoFFProbeOutput(output)
	if err != nil {
		return nil, output, err
	}

	frameCount, err := strconv.ParseInt(ffprobeCountOutput.Streams[0].FrameCountRead, 10, 64)
	if err != nil {
		return nil, output, err
	}

	videoInfo.FrameCount = frameCount
	return &videoInfo, output, nil
}

// VideoProcessor decodes a video into BGR24 frames through ffmpeg
type VideoProcessor struct {
	videoInfo VideoInfo
	options   FFmpegOptions
	frameSize int

	reader *Command
	stdout io.ReadCloser
	done   bool
}

func NewVideoProcessor(videoInfo *VideoInfo, options FFmpegOptions) *VideoProcessor {
	return &VideoProcessor{
		videoInfo: *videoInfo,
		options:   options,
		frameSize: videoInfo.Width * videoInfo.Height * 3,
	}
}

func decoderArgs(videoInfo *VideoInfo, options FFmpegOptions) []string {
	args := []string{"-v", "error", "-nostdin"}
	if options.HWAccelDecodeFlag != "" {
		args = append(args, "-hwaccel", options.HWAccelDecodeFlag)
	}

	return append(args, "-i", videoInfo.InputPath,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"pipe:1")
}

func (vp *VideoProcessor) StartReading(ctx context.Context) error {
	vp.reader = NewCommandContext(ctx, "ffmpeg", decoderArgs(&vp.videoInfo, vp.options)...)

	vp.reader.DisableStdoutBuffer()
	stdout, err := vp.reader.GetStdout()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}

	vp.stdout = stdout
	return vp.reader.Start()
}

// ReadFrame returns io.EOF once ffmpeg has decoded the whole stream.
// A decoder that exits with an error reports that error instead.
func (vp *VideoProcessor) ReadFrame() (Frame, error) {
	if vp.done {
		return Frame{}, io.EOF
	}

	buf := make([]byte, vp.frameSize)
	_, err := io.ReadFull(vp.stdout, buf)
	if err == io.EOF {
		vp.done = true
		if err := vp.reader.Wait(); err != nil {
			return Frame{}, fmt.Errorf("ffmpeg decoder: %w\n%s", err, vp.reader.GetOutput())
		}
		return Frame{}, io.EOF
	}

	if err != nil {
		return Frame{}, err
	}

	return Frame{
		Data:   buf,
		Width:  vp.videoInfo.Width,
		Height: vp.videoInfo.Height,
	}, nil
}

func (vp *VideoProcessor) Close() error {
	if vp.reader == nil || vp.done {
		return nil
	}

	vp.done = true
	vp.stdout.Close()
	if err := vp.reader.Wait(); err != nil {
		return fmt.Errorf("waiting for reader: %w", err)
	}
	return nil
}

// VideoEncoder muxes BGR24 frames into a container through ffmpeg
type VideoEncoder struct {
	writer    *Command
	stdin     io.WriteCloser
	frameSize int
}

func encoderArgs(videoInfo *VideoInfo, options FFmpegOptions, outputPath string, frameRate float64, keepAudio bool) []string {
	args := []string{
		"-y", "-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-video_size", fmt.Sprintf("%dx%d", videoInfo.Width, videoInfo.Height),
		"-framerate", strconv.FormatFloat(frameRate, 'f', -1, 64),
		"-i", "pipe:0",
	}

	if keepAudio {
		args = append(args,
			"-i", videoInfo.InputPath,
			"-map", "0:v:0",
			"-map", "1:a:0?",
			"-c:a", "copy")
	}

	codec := options.VideoCodec
	if options.HWAccelEncodeFlag != "" {
		codec = options.HWAccelEncodeFlag
	}

	return append(args,
		"-c:v", codec,
		"-crf", strconv.Itoa(options.CRF),
		"-pix_fmt", "yuv420p",
		outputPath)
}

func NewVideoEncoder(ctx context.Context, videoInfo *VideoInfo, options FFmpegOptions,
	outputPath string, frameRate float64, keepAudio bool) (*VideoEncoder, error) {
	writer := NewCommandContext(ctx, "ffmpeg", encoderArgs(videoInfo, options, outputPath, frameRate, keepAudio)...)

	stdin, err := writer.GetStdin()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	if err := writer.Start(); err != nil {
		return nil, err
	}

	return &VideoEncoder{
		writer:    writer,
		stdin:     stdin,
		frameSize: videoInfo.Width * videoInfo.Height * 3,
	}, nil
}

func (ve *VideoEncoder) WriteFrame(frame Frame) error {
	if len(frame.Data) != ve.frameSize {
		return fmt.Errorf("frame has %d bytes, expected %d", len(frame.Data), ve.frameSize)
	}

	_, err := ve.stdin.Write(frame.Data)
	if err != nil {
		return fmt.Errorf("writing frame to ffmpeg: %w", err)
	}
	return nil
}

func (ve *VideoEncoder) Close() error {
	var errs []error
	if err := ve.stdin.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing stdin: %w", err))
	}

	if err := ve.writer.Wait(); err != nil {
		errs = append(errs, fmt.Errorf("ffmpeg encoder: %w\n%s", err, ve.writer.GetOutput()))
	}

	return errors.Join(errs...)
}
