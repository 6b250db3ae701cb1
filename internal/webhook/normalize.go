// Package webhook turns vendor notification payloads into one internal shape.
// Providers disagree on casing, nesting and status vocabulary; everything
// downstream of Normalize only sees Notification.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"reelgen/internal/domain"
)

// Kind is the normalized status signal.
type Kind string

const (
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindProgress  Kind = "progress"
)

// Notification is a provider status update after normalization.
type Notification struct {
	Kind   Kind
	TaskID string
	// RawStatus is the vendor's own status value, kept for logs.
	RawStatus             string
	ArtifactURL           string
	ActualDurationSeconds float64
	Reason                string
	Progress              int
	// HasProgress reports whether Progress came from the payload.
	HasProgress bool
	SafetyFlags []string
	// ProviderError is an error reported alongside a completion.
	ProviderError string
}

var (
	taskIDKeys   = []string{"taskId", "task_id", "taskID", "TaskId", "job_id", "jobId", "request_id", "requestId", "prediction_id", "id"}
	statusKeys   = []string{"status", "state", "task_status", "taskStatus", "successFlag", "success_flag", "event", "event_type", "type"}
	artifactKeys = []string{"videoUrl", "video_url", "resultUrl", "result_url", "resultUrls", "result_urls", "output_url", "outputUrl", "artifact_url", "artifactUrl", "videos", "url"}
	durationKeys = []string{"duration", "duration_seconds", "durationSeconds", "video_duration", "videoDuration", "actual_duration"}
	reasonKeys   = []string{"error", "error_message", "errorMessage", "failMsg", "fail_msg", "failure_reason", "failureReason", "reason"}
	progressKeys = []string{"progress", "percent", "percentage"}
	safetyKeys   = []string{"safety_flags", "safetyFlags", "content_flags", "contentFlags", "moderation_flags"}
	nestedKeys   = []string{"data", "result", "output", "info", "response", "payload", "resultJson", "result_json"}
)

var statusSynonyms = map[string]Kind{
	"completed": KindCompleted, "complete": KindCompleted, "success": KindCompleted,
	"succeeded": KindCompleted, "successful": KindCompleted, "done": KindCompleted,
	"finished": KindCompleted, "1": KindCompleted,

	"failed": KindFailed, "failure": KindFailed, "fail": KindFailed, "error": KindFailed,
	"errored": KindFailed, "cancelled": KindFailed, "canceled": KindFailed,
	"timeout": KindFailed, "timed_out": KindFailed, "rejected": KindFailed,
	"expired": KindFailed, "2": KindFailed, "3": KindFailed,

	"processing": KindProgress, "in_progress": KindProgress, "running": KindProgress,
	"pending": KindProgress, "queued": KindProgress, "generating": KindProgress,
	"progress": KindProgress, "started": KindProgress, "waiting": KindProgress, "0": KindProgress,
}

// Normalize parses body into a Notification. It fails with
// domain.ErrMalformedNotification when no task id or status can be found.
// Statuses it does not recognize are reported as KindProgress.
func Normalize(body []byte) (Notification, error) {
	root, err := decodeObject(body)
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}
	layers := collectLayers(root)

	var n Notification
	n.TaskID = firstStringByKey(layers, taskIDKeys)
	if n.TaskID == "" {
		return Notification{}, fmt.Errorf("%w: task id missing", domain.ErrMalformedNotification)
	}

	var kind Kind
	var ok bool
	n.RawStatus, kind, ok = firstStatus(layers)
	n.ArtifactURL = firstArtifact(layers)
	n.ActualDurationSeconds, _ = firstNumber(layers, durationKeys)
	n.Reason = firstReason(layers)
	n.SafetyFlags = safetyFlags(layers)
	progress, hasProgress := firstNumber(layers, progressKeys)
	n.Progress = normalizeProgress(progress)
	n.HasProgress = hasProgress

	if !ok {
		switch {
		case n.ArtifactURL != "":
			kind = KindCompleted
		case n.Reason != "":
			kind = KindFailed
		case hasProgress:
			kind = KindProgress
		case n.RawStatus != "":
			// An intermediate status we have no name for yet.
			kind = KindProgress
		default:
			if code, found := firstNumber(layers, []string{"code"}); found {
				if kind, ok = classifyCode(int(code)); !ok {
					kind = KindProgress
				}
			} else {
				return Notification{}, fmt.Errorf("%w: status missing", domain.ErrMalformedNotification)
			}
		}
	}
	n.Kind = kind

	switch kind {
	case KindCompleted:
		n.ProviderError, n.Reason = n.Reason, ""
		n.Progress = 100
		n.HasProgress = true
	case KindFailed:
		if n.Reason == "" {
			n.Reason = firstString(layers, []string{"msg", "message"})
		}
		if n.Reason == "" {
			n.Reason = "provider reported failure"
			if n.RawStatus != "" {
				n.Reason = "provider reported status " + n.RawStatus
			}
		}
	}
	return n, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("payload is not an object")
	}
	return root, nil
}

// collectLayers flattens the envelope breadth first, outermost layer first.
// Nested objects encoded as JSON strings are decoded too.
func collectLayers(root map[string]any) []map[string]any {
	layers := []map[string]any{root}
	for i := 0; i < len(layers) && len(layers) < 16; i++ {
		for _, key := range nestedKeys {
			switch v := layers[i][key].(type) {
			case map[string]any:
				layers = append(layers, v)
			case string:
				s := strings.TrimSpace(v)
				if strings.HasPrefix(s, "{") {
					if nested, err := decodeObject([]byte(s)); err == nil {
						layers = append(layers, nested)
					}
				}
			}
		}
	}
	return layers
}

func firstString(layers []map[string]any, keys []string) string {
	for _, layer := range layers {
		for _, key := range keys {
			if s := scalarString(layer[key]); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstStringByKey prefers key order over nesting depth, so a specific key in a
// nested layer beats a generic one at the root.
func firstStringByKey(layers []map[string]any, keys []string) string {
	for _, key := range keys {
		for _, layer := range layers {
			if s := scalarString(layer[key]); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstStatus returns the first status value that maps to a Kind, or the first
// raw value seen when none does.
func firstStatus(layers []map[string]any) (string, Kind, bool) {
	var firstRaw string
	for _, layer := range layers {
		for _, key := range statusKeys {
			raw := scalarString(layer[key])
			if raw == "" {
				continue
			}
			if kind, ok := classify(raw); ok {
				return raw, kind, true
			}
			if firstRaw == "" {
				firstRaw = raw
			}
		}
	}
	return firstRaw, "", false
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "1"
		}
		return "0"
	}
	return ""
}

func firstNumber(layers []map[string]any, keys []string) (float64, bool) {
	for _, layer := range layers {
		for _, key := range keys {
			switch t := layer[key].(type) {
			case json.Number:
				if f, err := t.Float64(); err == nil {
					return f, true
				}
			case string:
				s := strings.TrimSuffix(strings.TrimSpace(t), "s")
				s = strings.TrimSuffix(s, "%")
				if f, err := strconv.ParseFloat(s, 64); err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}

func firstArtifact(layers []map[string]any) string {
	for _, layer := range layers {
		for _, key := range artifactKeys {
			if u := artifactFrom(layer[key]); u != "" {
				return u
			}
		}
	}
	return ""
}

func artifactFrom(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "[") {
			var list []string
			if err := json.Unmarshal([]byte(s), &list); err == nil && len(list) > 0 {
				return strings.TrimSpace(list[0])
			}
			return ""
		}
		return s
	case []any:
		for _, item := range t {
			if u := artifactFrom(item); u != "" {
				return u
			}
		}
	case map[string]any:
		for _, key := range []string{"url", "video_url", "videoUrl", "uri"} {
			if s := scalarString(t[key]); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstReason(layers []map[string]any) string {
	for _, layer := range layers {
		for _, key := range reasonKeys {
			switch t := layer[key].(type) {
			case string:
				if s := strings.TrimSpace(t); s != "" {
					return s
				}
			case map[string]any:
				if s := firstString([]map[string]any{t}, []string{"message", "msg", "detail", "code"}); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func safetyFlags(layers []map[string]any) []string {
	var flags []string
	seen := map[string]bool{}
	add := func(f string) {
		f = strings.TrimSpace(f)
		if f != "" && !seen[f] {
			seen[f] = true
			flags = append(flags, f)
		}
	}
	for _, layer := range layers {
		for _, key := range safetyKeys {
			switch t := layer[key].(type) {
			case []any:
				for _, item := range t {
					add(scalarString(item))
				}
			case string:
				for _, part := range strings.Split(t, ",") {
					add(part)
				}
			}
		}
		if b, ok := layer["nsfw"].(bool); ok && b {
			add("nsfw")
		}
		if b, ok := layer["flagged"].(bool); ok && b {
			add("flagged")
		}
	}
	return flags
}

func classify(raw string) (Kind, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	if i := strings.LastIndexAny(s, ".:/"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ReplaceAll(strings.ReplaceAll(s, "-", "_"), " ", "_")
	kind, ok := statusSynonyms[s]
	return kind, ok
}

func classifyCode(code int) (Kind, bool) {
	switch {
	case code == 200:
		return KindCompleted, true
	case code >= 400:
		return KindFailed, true
	}
	return "", false
}

func normalizeProgress(v float64) int {
	if v > 0 && v < 1 {
		v *= 100
	}
	p := int(math.Round(v))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
