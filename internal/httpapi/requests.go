package httpapi

import (
	"fmt"

	"github.com/hbomb79/theapipe/internal/apierr"
	"github.com/labstack/echo/v4"
)

// decodedOp is what every per-operation request body decodes to: the
// target file, the operation-specific argument fields ready to flatten
// into a store.TaskArgs, and an optional mode override (append-only
// operations ignore the request's mode and always force append).
type decodedOp struct {
	FileID string
	Fields map[string]any
	Mode   string
}

type baseBody struct {
	FileID string `json:"file_id" validate:"required"`
	Mode   string `json:"mode" validate:"omitempty,oneof=replace append"`
}

func bindAndValidate(c echo.Context, body any) error {
	if err := c.Bind(body); err != nil {
		return apierr.Wrap(apierr.InvalidArgument, fmt.Errorf("malformed request body: %w", err))
	}
	if err := validate.Struct(body); err != nil {
		return apierr.Wrap(apierr.InvalidArgument, fmt.Errorf("request body validation failed: %w", err))
	}
	return nil
}

func decodeEmptyArgs(c echo.Context) (decodedOp, error) {
	var b baseBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}
	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{}}, nil
}

type transcodeBody struct {
	baseBody
	VideoFormat string `json:"video_format" validate:"required,oneof=mp4 mkv webm mov avi"`
	VideoCodec  string `json:"video_codec" validate:"omitempty,oneof=h264 hevc vp9 av1"`
	AudioCodec  string `json:"audio_codec" validate:"omitempty,oneof=aac mp3 ac3 opus flac"`
}

func decodeTranscodeArgs(c echo.Context) (decodedOp, error) {
	var b transcodeBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}
	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{
		"video_format": b.VideoFormat,
		"video_codec":  b.VideoCodec,
		"audio_codec":  b.AudioCodec,
	}}, nil
}

type resizeVideoBody struct {
	baseBody
	Width  int `json:"width" validate:"required,gt=0"`
	Height int `json:"height" validate:"required,gt=0"`
}

func decodeResizeVideoArgs(c echo.Context) (decodedOp, error) {
	var b resizeVideoBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}
	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{
		"width": float64(b.Width), "height": float64(b.Height),
	}}, nil
}

type trimBody struct {
	baseBody
	Start    float64 `json:"start" validate:"gte=0"`
	Duration float64 `json:"duration" validate:"required,gt=0"`
	Exact    bool    `json:"exact"`
}

func decodeTrimArgs(c echo.Context) (decodedOp, error) {
	var b trimBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}
	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{
		"start": b.Start, "duration": b.Duration, "exact": b.Exact,
	}}, nil
}

type trimEndBody struct {
	baseBody
	Cut float64 `json:"cut" validate:"required,gt=0"`
}

func decodeTrimEndArgs(c echo.Context) (decodedOp, error) {
	var b trimEndBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}
	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{"cut": b.Cut}}, nil
}

type extractAudioBody struct {
	baseBody
	AudioFormat string `json:"audio_format" validate:"required,oneof=mp3 m4a aac flac wav opus"`
}

func decodeExtractAudioArgs(c echo.Context) (decodedOp, error) {
	var b extractAudioBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}
	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{"audio_format": b.AudioFormat}}, nil
}

type addAudioBody struct {
	baseBody
	AudioFileID string `json:"audio_file_id" validate:"required"`
	VideoFormat string `json:"video_format" validate:"required,oneof=mp4 mkv webm mov avi"`
}

func decodeAddAudioArgs(c echo.Context) (decodedOp, error) {
	var b addAudioBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}
	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{
		"audio_file_id": b.AudioFileID, "video_format": b.VideoFormat,
	}}, nil
}

type mergeMediaBody struct {
	baseBody
	FileIDs []string `json:"file_ids" validate:"required,min=1"`
}

func decodeMergeMediaArgs(c echo.Context) (decodedOp, error) {
	var b mergeMediaBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}

	ids := make([]any, len(b.FileIDs))
	for i, id := range b.FileIDs {
		ids[i] = id
	}

	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{"file_ids": ids}}, nil
}

type extractThumbnailBody struct {
	baseBody
	Timestamp float64 `json:"timestamp" validate:"gte=0"`
}

func decodeExtractThumbnailArgs(c echo.Context) (decodedOp, error) {
	var b extractThumbnailBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}
	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{"timestamp": b.Timestamp}}, nil
}

type dashBody struct {
	baseBody
	SegDuration int `json:"seg_duration" validate:"omitempty,gt=0"`
}

func decodeDashArgs(c echo.Context) (decodedOp, error) {
	var b dashBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}
	segDuration := b.SegDuration
	if segDuration == 0 {
		segDuration = 4
	}
	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{"seg_duration": float64(segDuration)}}, nil
}

// asrAnalyzeBody deliberately carries no duration field: the Executor
// probes the input itself rather than trusting a caller-supplied value,
// since the Planner chaining an analyze step onto an upstream output has
// no reliable way to know it ahead of time.
type asrAnalyzeBody struct {
	baseBody
	SilenceThresholdDB float64 `json:"silence_threshold_db"`
	SilenceMinDuration float64 `json:"silence_min_duration"`
	MaxChunk           float64 `json:"max_chunk"`
	MinChunk           float64 `json:"min_chunk"`
}

func decodeASRAnalyzeArgs(c echo.Context) (decodedOp, error) {
	var b asrAnalyzeBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}
	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{
		"silence_threshold_db": b.SilenceThresholdDB,
		"silence_min_duration": b.SilenceMinDuration,
		"max_chunk":            b.MaxChunk,
		"min_chunk":            b.MinChunk,
	}}, nil
}

type visionAnalyzeBody struct {
	baseBody
	SceneThreshold float64 `json:"scene_threshold"`
}

func decodeVisionAnalyzeArgs(c echo.Context) (decodedOp, error) {
	var b visionAnalyzeBody
	if err := bindAndValidate(c, &b); err != nil {
		return decodedOp{}, err
	}
	return decodedOp{FileID: b.FileID, Mode: b.Mode, Fields: map[string]any{
		"scene_threshold": b.SceneThreshold,
	}}, nil
}

type chainRequestBody struct {
	FileID     string `json:"file_id" validate:"required"`
	Operations []struct {
		Operation string         `json:"operation" validate:"required"`
		Mode      string         `json:"mode" validate:"omitempty,oneof=replace append"`
		Fields    map[string]any `json:"fields"`
	} `json:"operations" validate:"required,min=1"`
}

type bulkRequestBody struct {
	FileIDs   []string `json:"file_ids" validate:"required,min=1"`
	Operation struct {
		Operation string         `json:"operation" validate:"required"`
		Mode      string         `json:"mode" validate:"omitempty,oneof=replace append"`
		Fields    map[string]any `json:"fields"`
	} `json:"operation" validate:"required"`
}
