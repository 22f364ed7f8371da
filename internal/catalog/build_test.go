package catalog_test

import (
	"testing"

	"github.com/hbomb79/theapipe/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Transcode_RejectsIncompatibleCodec(t *testing.T) {
	_, err := catalog.Build(catalog.TranscodeArgs{
		Container:  catalog.ContainerWebM,
		VideoCodec: "h264",
	}, []string{"in.webm"}, "out.webm")

	require.Error(t, err)
	var incompat *catalog.ErrIncompatible
	assert.ErrorAs(t, err, &incompat)
}

func TestBuild_Transcode_OmitsUnsetCodecFlags(t *testing.T) {
	argv, err := catalog.Build(catalog.TranscodeArgs{Container: catalog.ContainerMP4}, []string{"in.mp4"}, "out.mp4")
	require.NoError(t, err)
	assert.NotContains(t, argv, "-c:v")
	assert.NotContains(t, argv, "-c:a")
	assert.Equal(t, []string{"-i", "in.mp4", "out.mp4"}, argv)
}

func TestBuild_Trim_FastVsExact(t *testing.T) {
	fast := catalog.TrimArgs{Start: 1, Duration: 2}
	argv, err := catalog.Build(fast, []string{"in.mp4"}, "out.mp4")
	require.NoError(t, err)
	assert.Equal(t, []string{"-ss", "1", "-i", "in.mp4", "-t", "2", "-c", "copy", "out.mp4"}, argv)

	exact := catalog.TrimArgs{Start: 1, Duration: 2, Exact: true}
	argv, err = catalog.Build(exact, []string{"in.mp4"}, "out.mp4")
	require.NoError(t, err)
	assert.Contains(t, argv, "libx264")
}

func TestBuild_TrimEnd_FailsWhenNoRemainingDuration(t *testing.T) {
	_, err := catalog.Build(catalog.TrimEndArgs{Cut: 30, TotalDuration: 20}, []string{"in.mp4"}, "out.mp4")
	require.Error(t, err)
}

func TestBuild_ExtractAudio_CodecArgs(t *testing.T) {
	argv, err := catalog.Build(catalog.ExtractAudioArgs{Codec: catalog.AudioCodecMP3}, []string{"in.mp4"}, "out.mp3")
	require.NoError(t, err)
	assert.Contains(t, argv, "libmp3lame")

	_, err = catalog.Build(catalog.ExtractAudioArgs{Codec: "bogus"}, []string{"in.mp4"}, "out.mp3")
	require.Error(t, err)
}

func TestBuild_AddAudio_SelectsCopyWhenCompatible(t *testing.T) {
	argv := catalog.Build
	_ = argv
	a := catalog.AddAudioArgs{Container: catalog.ContainerMP4, SourceAudioCodec: "aac"}
	out, err := catalog.Build(a, []string{"video.mp4", "audio.aac"}, "out.mp4")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-i", "video.mp4", "-i", "audio.aac",
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy", "-c:a", "copy",
		"-shortest", "out.mp4",
	}, out)
	assert.Contains(t, out, "-shortest")
}

func TestBuild_MergeMedia_BuildsFilterComplex(t *testing.T) {
	argv, err := catalog.Build(catalog.MergeMediaArgs{Width: 1920, Height: 1080}, []string{"a.mp4", "b.mp4"}, "out.mp4")
	require.NoError(t, err)
	assert.Contains(t, argv, "-filter_complex")
}

func TestRequiresVideoAndAudioStream(t *testing.T) {
	assert.True(t, catalog.RequiresVideoStream("transcode"))
	assert.False(t, catalog.RequiresVideoStream("extract-audio"))
	assert.True(t, catalog.RequiresAudioStream("remove-audio"))
	assert.False(t, catalog.RequiresAudioStream("dash"))
}
