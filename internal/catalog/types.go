// Package catalog is the Operation Catalog: a pure translation layer from a
// typed, operation-specific argument set plus resolved input/output paths
// into the argv the Executor hands to ffmpeg/ffprobe.
//
// Nothing in this package touches the filesystem, the network, or the
// Work Store - every exported function is a pure function of its inputs,
// which keeps the codec/container/chunk-planning rules directly unit
// testable.
package catalog

import "fmt"

// Container is a normalized output container tag, derived from an output
// file's extension.
type Container string

const (
	ContainerMP4  Container = "mp4"
	ContainerMOV  Container = "mov"
	ContainerMKV  Container = "mkv"
	ContainerWebM Container = "webm"
	ContainerAVI  Container = "avi"
)

// OperationArgs is implemented by every operation's typed parameter struct.
// Op identifies which Build case consumes it.
type OperationArgs interface {
	Op() string
}

type TranscodeArgs struct {
	Container  Container
	VideoCodec string // optional
	AudioCodec string // optional
}

func (TranscodeArgs) Op() string { return "transcode" }

type ResizeVideoArgs struct {
	Width  int
	Height int
}

func (ResizeVideoArgs) Op() string { return "resize-video" }

type TrimArgs struct {
	Start    float64
	Duration float64
	Exact    bool
}

func (TrimArgs) Op() string { return "trim" }

// TrimEndArgs cuts `Cut` seconds from the end; TotalDuration is supplied by
// the caller (probed ahead of argv construction).
type TrimEndArgs struct {
	Cut           float64
	TotalDuration float64
}

func (TrimEndArgs) Op() string { return "trim-end" }

type AudioCodec string

const (
	AudioCodecMP3  AudioCodec = "mp3"
	AudioCodecAAC  AudioCodec = "aac"
	AudioCodecM4A  AudioCodec = "m4a"
	AudioCodecWAV  AudioCodec = "wav"
	AudioCodecFLAC AudioCodec = "flac"
	AudioCodecOpus AudioCodec = "opus"
)

type ExtractAudioArgs struct {
	Codec AudioCodec
}

func (ExtractAudioArgs) Op() string { return "extract-audio" }

type RemoveAudioArgs struct{}

func (RemoveAudioArgs) Op() string { return "remove-audio" }

// AddAudioArgs requires two inputs: [0]=video source, [1]=audio source.
// SourceAudioCodec is the probed codec of the audio input, used to select
// copy-vs-reencode per the container rules.
type AddAudioArgs struct {
	Container        Container
	SourceAudioCodec string
}

func (AddAudioArgs) Op() string { return "add-audio" }

// MergeMediaArgs requires two or more inputs of matching kind (all video).
// Width/Height are the first input's probed resolution, used as the common
// canvas for scale+pad.
type MergeMediaArgs struct {
	Width  int
	Height int
}

func (MergeMediaArgs) Op() string { return "merge-media" }

type ExtractThumbnailArgs struct {
	Timestamp float64
}

func (ExtractThumbnailArgs) Op() string { return "extract-thumbnail" }

type DashArgs struct {
	SegDuration int
}

func (DashArgs) Op() string { return "dash" }

type ASRNormalizeArgs struct{}

func (ASRNormalizeArgs) Op() string { return "asr-normalize" }

type ASRAnalyzeArgs struct {
	SilenceThresholdDB float64
	SilenceMinDuration float64
	MaxChunk           float64
	MinChunk           float64
}

func (ASRAnalyzeArgs) Op() string { return "asr-analyze" }

// ASRSegmentArgs carries already-planned segments (as produced by a prior
// asr-analyze task). Build has no case for it: the Executor reads the
// segments straight from the downloaded analysis.json and cuts each one
// with BuildSegmentClip.
type ASRSegmentArgs struct {
	Segments []Segment
}

func (ASRSegmentArgs) Op() string { return "asr-segment" }

type VisionAnalyzeArgs struct {
	SceneThreshold float64
}

func (VisionAnalyzeArgs) Op() string { return "vision-analyze" }

type VisionSegmentArgs struct {
	Segments []Segment
}

func (VisionSegmentArgs) Op() string { return "vision-segment" }

// Segment is one planned output clip, expressed as [Start, Start+Duration)
// against the source's timeline.
type Segment struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// ErrIncompatible signals a container/codec combination the catalog refuses
// to build an argv for; the Executor maps this straight onto
// apierr.InvalidArgument.
type ErrIncompatible struct {
	Container Container
	Codec     string
	Kind      string // "video" or "audio"
}

func (e *ErrIncompatible) Error() string {
	return fmt.Sprintf("%s codec %q is not compatible with container %q", e.Kind, e.Codec, e.Container)
}
