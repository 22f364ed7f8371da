package executor

import "github.com/hbomb79/theapipe/internal/store"

func fieldString(fields map[string]any, key string) string {
	if v, ok := fields[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func fieldFloat(fields map[string]any, key string, def float64) float64 {
	if v, ok := fields[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func fieldInt(fields map[string]any, key string, def int) int {
	return int(fieldFloat(fields, key, float64(def)))
}

func fieldBool(fields map[string]any, key string) bool {
	if v, ok := fields[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func fieldStringSlice(fields map[string]any, key string) []string {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// secondaryFileIDs returns any additional input File ids an operation's
// args reference beyond the task's primary/parent input (add-audio's
// audio source, merge-media's additional clips).
func secondaryFileIDs(task store.Task) []string {
	args := task.Args.Get()
	if args == nil {
		return nil
	}

	switch task.Operation {
	case store.OpAddAudio:
		if id := fieldString(args.Fields, "audio_file_id"); id != "" {
			return []string{id}
		}
		return nil
	case store.OpMergeMedia:
		return fieldStringSlice(args.Fields, "file_ids")
	default:
		return nil
	}
}
