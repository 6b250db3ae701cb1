package video

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const syntheticPrefix = "synthetic"

// Synthetic accepts every task and reports it complete when queried. It stands
// in for the real provider when no API key is configured. Task ids carry
// everything QueryStatus needs, so separate processes built with their own
// Synthetic agree on every task.
type Synthetic struct{}

func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

// Submit returns a task id of the form synthetic:<seconds>:<job id>.
func (s *Synthetic) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.JobID == "" {
		return "", fmt.Errorf("synthetic: job id required")
	}
	return fmt.Sprintf("%s:%d:%s", syntheticPrefix, req.DurationSeconds, req.JobID), nil
}

func (s *Synthetic) QueryStatus(_ context.Context, taskID string) ([]byte, error) {
	duration, ok := parseSyntheticTask(taskID)
	if !ok {
		return json.Marshal(map[string]any{"taskId": taskID, "status": "failed", "error": "not a synthetic task id"})
	}
	_, jobID, _ := strings.Cut(strings.TrimPrefix(taskID, syntheticPrefix+":"), ":")
	return json.Marshal(map[string]any{
		"taskId":   taskID,
		"status":   "completed",
		"videoUrl": fmt.Sprintf("https://cdn.example.com/synthetic/%s.mp4", jobID),
		"duration": duration,
	})
}

func parseSyntheticTask(taskID string) (int, bool) {
	rest, ok := strings.CutPrefix(taskID, syntheticPrefix+":")
	if !ok {
		return 0, false
	}
	seconds, jobID, ok := strings.Cut(rest, ":")
	if !ok || jobID == "" {
		return 0, false
	}
	n, err := strconv.Atoi(seconds)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

var (
	_ Submitter     = (*Synthetic)(nil)
	_ StatusQuerier = (*Synthetic)(nil)
)
