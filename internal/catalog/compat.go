package catalog

// CodecSet is a membership table used for container/codec compatibility
// checks; presence of a key means "allowed", absence means "warn or reject"
// depending on the caller (transcode rejects, add-audio falls back).
type CodecSet map[string]bool

var containerVideoCodecs = map[Container]CodecSet{
	ContainerMP4:  {"h264": true, "hevc": true, "mpeg4": true},
	ContainerMOV:  {"h264": true, "hevc": true, "mpeg4": true},
	ContainerMKV:  {"h264": true, "hevc": true, "vp9": true, "av1": true},
	ContainerWebM: {"vp8": true, "vp9": true, "av1": true},
	ContainerAVI:  {"mpeg4": true, "msmpeg4": true, "libxvid": true},
}

var containerAudioCodecs = map[Container]CodecSet{
	ContainerMP4:  {"aac": true, "mp3": true},
	ContainerMOV:  {"aac": true, "mp3": true},
	ContainerMKV:  {"aac": true, "mp3": true, "ac3": true, "opus": true, "flac": true},
	ContainerWebM: {"opus": true, "vorbis": true},
	ContainerAVI:  {"mp3": true, "ac3": true},
}

// ValidateMux checks that videoCodec/audioCodec (either may be empty,
// meaning "not specified") are compatible with container. An empty codec is
// always accepted - buildTranscode then emits no codec flag for it and
// ffmpeg uses the container's default encoder.
func ValidateMux(container Container, videoCodec, audioCodec string) error {
	if videoCodec != "" {
		if set, ok := containerVideoCodecs[container]; ok && !set[videoCodec] {
			return &ErrIncompatible{Container: container, Codec: videoCodec, Kind: "video"}
		}
	}
	if audioCodec != "" {
		if set, ok := containerAudioCodecs[container]; ok && !set[audioCodec] {
			return &ErrIncompatible{Container: container, Codec: audioCodec, Kind: "audio"}
		}
	}
	return nil
}

// SelectAddAudioCodec implements the add-audio codec-selection rules: copy
// the source audio stream when the container already accepts its codec,
// otherwise re-encode to the container's preferred fallback.
func SelectAddAudioCodec(container Container, sourceCodec string) (codec string, copyStream bool) {
	switch container {
	case ContainerMP4, ContainerMOV:
		if sourceCodec == "aac" || sourceCodec == "mp3" {
			return "copy", true
		}
		return "aac", false
	case ContainerWebM:
		if sourceCodec == "opus" {
			return "copy", true
		}
		return "libopus", false
	case ContainerMKV:
		switch sourceCodec {
		case "aac", "mp3", "flac", "opus":
			return "copy", true
		default:
			return "aac", false
		}
	case ContainerAVI:
		if sourceCodec == "mp3" || sourceCodec == "wav" {
			return "copy", true
		}
		return "mp3", false
	default:
		return "aac", false
	}
}

// ContainerFromExtension maps a dotless or dotted file extension onto a
// Container tag. The empty Container value signals an unrecognised
// extension.
func ContainerFromExtension(ext string) Container {
	switch trimExt(ext) {
	case "mp4":
		return ContainerMP4
	case "mov":
		return ContainerMOV
	case "mkv":
		return ContainerMKV
	case "webm":
		return ContainerWebM
	case "avi":
		return ContainerAVI
	default:
		return ""
	}
}

func trimExt(ext string) string {
	for len(ext) > 0 && ext[0] == '.' {
		ext = ext[1:]
	}
	return ext
}
