package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RequestLogger appends one JSON entry per served request to a destination
// derived from a path template. "stdout" logs to standard output, "none"
// or an empty template disables logging. {scenario} and {key} placeholders
// in the template are substituted per request.
type RequestLogger struct {
	template string
	scenario string
}

// NewRequestLogger builds a logger for the given template. scenarioName is
// the value substituted for {scenario}.
func NewRequestLogger(template, scenarioName string) *RequestLogger {
	return &RequestLogger{template: template, scenario: scenarioName}
}

type requestLogEntry struct {
	Ts        string `json:"ts"`
	Provider  string `json:"provider"`
	Key       string `json:"key"`
	Model     string `json:"model"`
	Path      string `json:"path"`
	StepIndex int    `json:"step_index"`
	Exhausted bool   `json:"exhausted"`
}

// Log writes one entry. Failures are logged and swallowed; request logging
// never fails a request.
func (l *RequestLogger) Log(provider Provider, key, model, path string, stepIndex int, exhausted bool) {
	if l == nil || l.template == "" || l.template == "none" {
		return
	}

	entry := requestLogEntry{
		Ts:        time.Now().UTC().Format(time.RFC3339Nano),
		Provider:  string(provider),
		Key:       key,
		Model:     model,
		Path:      path,
		StepIndex: stepIndex,
		Exhausted: exhausted,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("WARN: request log marshal: %v", err)
		return
	}

	if l.template == "stdout" {
		fmt.Println(string(data))
		return
	}

	dest := strings.ReplaceAll(l.template, "{scenario}", l.scenario)
	dest = strings.ReplaceAll(dest, "{key}", sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		log.Printf("WARN: request log dir: %v", err)
		return
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("WARN: request log open: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("WARN: request log write: %v", err)
	}
}

// sanitizeKey makes an API key safe to embed in a file name.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}
