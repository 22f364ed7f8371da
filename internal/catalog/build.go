package catalog

import "fmt"

// Build assembles the argv for a single-invocation operation given its
// resolved input paths and output path. Multi-invocation operations
// (asr-segment, vision-segment) are not handled here - see BuildSegmentClip.
func Build(args OperationArgs, inputs []string, output string) ([]string, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("catalog: at least one input is required")
	}

	switch a := args.(type) {
	case TranscodeArgs:
		return buildTranscode(a, inputs[0], output)
	case ResizeVideoArgs:
		return []string{"-i", inputs[0], "-vf", fmt.Sprintf("scale=%d:%d", a.Width, a.Height), output}, nil
	case TrimArgs:
		return buildTrim(a, inputs[0], output), nil
	case TrimEndArgs:
		return buildTrimEnd(a, inputs[0], output)
	case ExtractAudioArgs:
		return buildExtractAudio(a, inputs[0], output)
	case RemoveAudioArgs:
		return []string{"-i", inputs[0], "-an", output}, nil
	case AddAudioArgs:
		if len(inputs) < 2 {
			return nil, fmt.Errorf("catalog: add-audio requires two inputs, got %d", len(inputs))
		}
		return buildAddAudio(a, inputs[0], inputs[1], output), nil
	case MergeMediaArgs:
		return buildMergeMedia(a, inputs, output), nil
	case ExtractThumbnailArgs:
		return []string{"-i", inputs[0], "-ss", ff(a.Timestamp), "-vframes", "1", "-update", "1", "-q:v", "2", output}, nil
	case DashArgs:
		return buildDash(a, inputs[0], output), nil
	case ASRNormalizeArgs:
		return []string{"-i", inputs[0], "-ac", "1", "-ar", "16000", "-af", "loudnorm=I=-16:TP=-1.5:LRA=11", output}, nil
	case ASRAnalyzeArgs:
		return buildASRAnalyze(a, inputs[0]), nil
	case VisionAnalyzeArgs:
		return buildVisionAnalyze(a, inputs[0]), nil
	default:
		return nil, fmt.Errorf("catalog: operation %q has no single-invocation argv builder", args.Op())
	}
}

// BuildSegmentClip builds the argv for one planned segment of an
// asr-segment/vision-segment task: a fast stream-copy cut.
func BuildSegmentClip(input string, seg Segment, output string) []string {
	return []string{"-i", input, "-ss", ff(seg.Start), "-t", ff(seg.Duration), "-c", "copy", output}
}

func buildTranscode(a TranscodeArgs, input, output string) ([]string, error) {
	if err := ValidateMux(a.Container, a.VideoCodec, a.AudioCodec); err != nil {
		return nil, err
	}

	argv := []string{"-i", input}
	if a.VideoCodec != "" {
		argv = append(argv, "-c:v", a.VideoCodec)
	}
	if a.AudioCodec != "" {
		argv = append(argv, "-c:a", a.AudioCodec)
	}
	return append(argv, output), nil
}

func buildTrim(a TrimArgs, input, output string) []string {
	if a.Exact {
		return []string{"-i", input, "-ss", ff(a.Start), "-t", ff(a.Duration), "-c:v", "libx264", "-c:a", "aac", output}
	}
	// Fast trim: seek before the input so ffmpeg keyframe-snaps rather than
	// decoding, then stream-copy.
	return []string{"-ss", ff(a.Start), "-i", input, "-t", ff(a.Duration), "-c", "copy", output}
}

func buildTrimEnd(a TrimEndArgs, input, output string) ([]string, error) {
	remaining := a.TotalDuration - a.Cut
	if remaining <= 0 {
		return nil, fmt.Errorf("catalog: trim-end cut (%gs) leaves no remaining duration from total %gs", a.Cut, a.TotalDuration)
	}
	return []string{"-i", input, "-t", ff(remaining), "-c", "copy", output}, nil
}

func buildExtractAudio(a ExtractAudioArgs, input, output string) ([]string, error) {
	argv := []string{"-i", input, "-vn"}
	switch a.Codec {
	case AudioCodecMP3:
		argv = append(argv, "-c:a", "libmp3lame", "-q:a", "2")
	case AudioCodecAAC, AudioCodecM4A:
		argv = append(argv, "-c:a", "aac", "-b:a", "192k")
	case AudioCodecWAV:
		argv = append(argv, "-c:a", "pcm_s16le")
	case AudioCodecFLAC:
		argv = append(argv, "-c:a", "flac")
	case AudioCodecOpus:
		argv = append(argv, "-c:a", "libopus", "-b:a", "128k")
	default:
		return nil, fmt.Errorf("catalog: unsupported extract-audio codec %q", a.Codec)
	}
	return append(argv, output), nil
}

func buildAddAudio(a AddAudioArgs, videoInput, audioInput, output string) []string {
	codec, copyStream := SelectAddAudioCodec(a.Container, a.SourceAudioCodec)
	argv := []string{
		"-i", videoInput,
		"-i", audioInput,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", codec,
	}
	if !copyStream {
		argv = append(argv, audioBitrateFor(a.Container)...)
	}
	return append(argv, "-shortest", output)
}

func audioBitrateFor(c Container) []string {
	switch c {
	case ContainerWebM:
		return []string{"-b:a", "128k"}
	default:
		return []string{"-b:a", "192k"}
	}
}

func buildMergeMedia(a MergeMediaArgs, inputs []string, output string) []string {
	argv := []string{}
	for _, in := range inputs {
		argv = append(argv, "-i", in)
	}

	filter := ""
	for i := range inputs {
		filter += fmt.Sprintf(
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1[v%d];",
			i, a.Width, a.Height, a.Width, a.Height, i,
		)
	}
	for i := range inputs {
		filter += fmt.Sprintf("[v%d][%d:a]", i, i)
	}
	filter += fmt.Sprintf("concat=n=%d:v=1:a=1[outv][outa]", len(inputs))

	argv = append(argv,
		"-filter_complex", filter,
		"-map", "[outv]", "-map", "[outa]",
		"-c:v", "libx264", "-preset", "fast", "-crf", "22",
		"-c:a", "aac", "-b:a", "192k",
		output,
	)
	return argv
}

func buildDash(a DashArgs, input, output string) []string {
	seg := a.SegDuration
	if seg <= 0 {
		seg = 4
	}
	return []string{
		"-i", input,
		"-c:v", "libx264", "-c:a", "aac",
		"-preset", "fast", "-crf", "23",
		"-f", "dash",
		"-seg_duration", fmt.Sprintf("%d", seg),
		"-use_timeline", "1", "-use_template", "1",
		"-adaptation_sets", "id=0,streams=v id=1,streams=a",
		output,
	}
}

// buildASRAnalyze runs silencedetect against a null muxer; its stderr
// output is parsed by ParseSilenceEvents, not its (discarded) stdout.
func buildASRAnalyze(a ASRAnalyzeArgs, input string) []string {
	return []string{
		"-i", input,
		"-af", fmt.Sprintf("silencedetect=n=%gdB:d=%g", a.SilenceThresholdDB, a.SilenceMinDuration),
		"-f", "null", "-",
	}
}

// buildVisionAnalyze runs a scene-change filter against a null muxer; its
// stderr is parsed by ParseSceneEvents.
func buildVisionAnalyze(a VisionAnalyzeArgs, input string) []string {
	return []string{
		"-i", input,
		"-vf", fmt.Sprintf("select='gt(scene,%g)',showinfo", a.SceneThreshold),
		"-f", "null", "-",
	}
}

// RequiresVideoStream reports whether the given operation tag preconditions
// on the primary input having a video stream.
func RequiresVideoStream(opTag string) bool {
	switch opTag {
	case "transcode", "resize-video", "merge-media", "extract-thumbnail", "dash", "vision-analyze", "vision-segment":
		return true
	default:
		return false
	}
}

// RequiresAudioStream reports whether the given operation tag preconditions
// on the primary input having an audio stream.
func RequiresAudioStream(opTag string) bool {
	switch opTag {
	case "extract-audio", "remove-audio":
		return true
	default:
		return false
	}
}

func ff(v float64) string {
	return fmt.Sprintf("%g", v)
}
