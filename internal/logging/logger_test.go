package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewWritesJSONFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "wppimportd.log")

	logger, err := New(logPath, "wppimportd", zap.String("instance", "main"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello", zap.Int("rows", 3))
	_ = logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", line)
	}
	for _, key := range []string{"ts", "msg", "service", "pid", "instance", "rows"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("log entry missing %q: %v", key, entry)
		}
	}
	if entry["service"] != "wppimportd" {
		t.Errorf("service = %v", entry["service"])
	}
}
