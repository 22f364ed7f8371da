// Package probe implements the Metadata Probe: a thin wrapper around
// ffprobe that extracts the structured metadata persisted onto a File row
// after a successful Task.
package probe

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hbomb79/theapipe/internal/store"
	"github.com/hbomb79/theapipe/pkg/logger"
)

var log = logger.Get("Probe")

// Prober extracts ProbeMetadata from a file on local disk by shelling out
// to ffprobe and parsing its JSON report.
type Prober struct {
	ffprobeBin string
}

func New(ffprobeBin string) *Prober {
	return &Prober{ffprobeBin: ffprobeBin}
}

type ffprobeReport struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// Probe runs ffprobe against path and maps the result onto ProbeMetadata.
//
// Probing a task's output (or an upload) is advisory: those callers log a
// failure and continue with a nil metadata pointer. Operations that need
// data from an input (trim-end, add-audio, merge-media, asr-analyze,
// vision-analyze) fail the task when probing it fails.
func (p *Prober) Probe(path string) (*store.ProbeMetadata, error) {
	cmd := exec.Command(p.ffprobeBin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	raw, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var report ffprobeReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}

	out := &store.ProbeMetadata{
		MimeType:     guessMimeType(report.Format.FormatName),
		DurationSecs: parseDuration(report.Format.Duration),
	}

	for _, s := range report.Streams {
		switch strings.ToLower(s.CodecType) {
		case "video":
			out.HasVideo = true
			out.VideoCodec = s.CodecName
			out.Width, out.Height = s.Width, s.Height
		case "audio":
			out.HasAudio = true
			out.AudioCodec = s.CodecName
		}
	}

	log.Emit(logger.DEBUG, "Probed %s: video=%v(%s) audio=%v(%s) duration=%.2fs\n",
		path, out.HasVideo, out.VideoCodec, out.HasAudio, out.AudioCodec, out.DurationSecs)

	return out, nil
}

func parseDuration(raw string) float64 {
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return d
}

func guessMimeType(formatName string) string {
	switch strings.TrimSpace(formatName) {
	case "mov,mp4,m4a,3gp,3g2,mj2":
		return "video/mp4"
	case "matroska,webm":
		return "video/x-matroska"
	case "avi":
		return "video/x-msvideo"
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
