// Package store implements the Work Store: the durable record of Files and
// Tasks that the schedulers and executor operate against.
package store

import (
	"encoding/json"
	"time"

	"github.com/hbomb79/theapipe/internal/database"
)

// Operation is the closed set of transformation kinds a Task may represent.
type Operation string

const (
	OpTranscode        Operation = "transcode"
	OpResizeVideo      Operation = "resize-video"
	OpTrim             Operation = "trim"
	OpTrimEnd          Operation = "trim-end"
	OpExtractAudio     Operation = "extract-audio"
	OpRemoveAudio      Operation = "remove-audio"
	OpAddAudio         Operation = "add-audio"
	OpMergeMedia       Operation = "merge-media"
	OpExtractThumbnail Operation = "extract-thumbnail"
	OpDash             Operation = "dash"
	OpASRNormalize     Operation = "asr-normalize"
	OpASRAnalyze       Operation = "asr-analyze"
	OpASRSegment       Operation = "asr-segment"
	OpVisionAnalyze    Operation = "vision-analyze"
	OpVisionSegment    Operation = "vision-segment"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusUnreachable Status = "unreachable"
)

// Mode selects between the swap and append Executor post-success policies.
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeAppend  Mode = "append"
)

// ProbeMetadata is the structured metadata persisted on a File row, as
// returned by the Metadata Probe.
type ProbeMetadata struct {
	MimeType     string  `json:"mimeType"`
	DurationSecs float64 `json:"durationSecs,omitempty"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	HasVideo     bool    `json:"hasVideo"`
	HasAudio     bool    `json:"hasAudio"`
	VideoCodec   string  `json:"videoCodec,omitempty"`
	AudioCodec   string  `json:"audioCodec,omitempty"`
}

// File is the user-visible media artifact identity.
type File struct {
	ID        string                               `db:"id" json:"id"`
	FileName  string                               `db:"file_name" json:"fileName"`
	FilePath  string                               `db:"file_path" json:"filePath"`
	MimeType  string                               `db:"mime_type" json:"mimeType"`
	Metadata  database.JSONColumn[ProbeMetadata]   `db:"metadata" json:"-"`
	CreatedAt time.Time                            `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time                            `db:"updated_at" json:"updatedAt"`
}

// TaskArgs is the serialized, operation-specific parameter set for a Task,
// including the optional chain `parent` pointer and the post-success `mode`.
type TaskArgs struct {
	Mode   Mode            `json:"mode"`
	Parent string          `json:"parent,omitempty"`
	Raw    json.RawMessage `json:"-"`
	Fields map[string]any  `json:"-"`
}

// MarshalJSON flattens Fields alongside Mode/Parent so operation-specific
// keys (e.g. "start", "duration", "video_codec") live at the top level of
// the persisted JSON column.
func (a TaskArgs) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range a.Fields {
		out[k] = v
	}
	out["mode"] = a.Mode
	if a.Parent != "" {
		out["parent"] = a.Parent
	}
	return json.Marshal(out)
}

func (a *TaskArgs) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Fields = raw
	a.Raw = data
	if m, ok := raw["mode"].(string); ok {
		a.Mode = Mode(m)
	}
	if p, ok := raw["parent"].(string); ok {
		a.Parent = p
	}
	return nil
}

// Task is one durable unit of work representing exactly one external-binary
// invocation plus its surrounding I/O and state updates.
type Task struct {
	ID        int64                         `db:"id" json:"id"`
	Code      string                        `db:"code" json:"code"`
	FileID    string                        `db:"file_id" json:"fileId"`
	Operation Operation                     `db:"operation" json:"operation"`
	Args      database.JSONColumn[TaskArgs] `db:"args" json:"args"`
	Status    Status                        `db:"status" json:"status"`
	PID       *int                          `db:"pid" json:"pid,omitempty"`
	Error     *string                       `db:"error" json:"error,omitempty"`
	CreatedAt time.Time                     `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time                     `db:"updated_at" json:"updatedAt"`
}
