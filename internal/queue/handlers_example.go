package queue

import (
	"encoding/json"
	"fmt"
)

// AddTaskHandler implements the "add" task type used in spec.md §8 scenario
// 1: payload {"op":"add","x":N,"y":N} produces the serialized sum.
type AddTaskHandler struct{}

func (AddTaskHandler) CanHandle(name string) bool { return name == "add" }

func (AddTaskHandler) Handle(data string) (string, error) {
	var payload struct {
		Op string  `json:"op"`
		X  float64 `json:"x"`
		Y  float64 `json:"y"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return "", fmt.Errorf("add: decode payload: %w", err)
	}
	if payload.Op != "" && payload.Op != "add" {
		return "", fmt.Errorf("add: unsupported op %q", payload.Op)
	}
	sum := payload.X + payload.Y
	if sum == float64(int64(sum)) {
		return fmt.Sprintf("%d", int64(sum)), nil
	}
	return fmt.Sprintf("%g", sum), nil
}

// EchoHandler returns its input unchanged. Used as the identity handler in
// spec.md §8 scenario 3 (scheduled task promotion timing).
type EchoHandler struct{}

func (EchoHandler) CanHandle(name string) bool { return name == "echo" }

func (EchoHandler) Handle(data string) (string, error) { return data, nil }

// FailingHandler always fails with the given message. Used in spec.md §8
// scenario 4 to exercise the retry/backoff progression.
type FailingHandler struct {
	Name    string
	Message string
}

func (h FailingHandler) CanHandle(name string) bool { return name == h.Name }

func (h FailingHandler) Handle(string) (string, error) {
	return "", fmt.Errorf("%s", h.Message)
}

// SleepHandler delegates every call to Fn, passing the task data through
// (for a slow handler, Fn is the function that blocks). Used in spec.md §8
// scenario 5 to exercise the task-timeout path; the per-task deadline is
// enforced by the worker engine, not the handler, so this handler does
// nothing cooperative about cancellation.
type SleepHandler struct {
	Name string
	Fn   func(data string) (string, error)
}

func (h SleepHandler) CanHandle(name string) bool { return name == h.Name }

func (h SleepHandler) Handle(data string) (string, error) { return h.Fn(data) }
