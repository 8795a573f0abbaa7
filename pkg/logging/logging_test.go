package logging_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/liso-project/liso/pkg/logging"
)

func TestNewRespectsLevelGating(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, logrus.InfoLevel)

	log.Debugf("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected Debugf to be gated at InfoLevel, got %q", buf.String())
	}

	log.Infof("request from %s", "127.0.0.1")
	if !strings.Contains(buf.String(), "request from 127.0.0.1") {
		t.Errorf("expected Infof output, got %q", buf.String())
	}
}

func TestWithFieldPropagatesToOutput(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, logrus.InfoLevel)

	log.WithField("peer", "10.0.0.1:443").Infof("handshake complete")
	out := buf.String()
	if !strings.Contains(out, "peer=") || !strings.Contains(out, "10.0.0.1:443") {
		t.Errorf("expected peer field in output, got %q", out)
	}
}

func TestOpenWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lisod.log")

	log, closeLog := logging.Open(path, logrus.InfoLevel)
	log.Infof("server started")
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "server started") {
		t.Errorf("log file contents = %q, want to contain %q", data, "server started")
	}
}

func TestOpenFallsBackToStderrOnBadPath(t *testing.T) {
	log, closeLog := logging.Open(filepath.Join(t.TempDir(), "missing-dir", "nested", "lisod.log"), logrus.InfoLevel)
	if log == nil {
		t.Fatal("expected a non-nil fallback logger")
	}
	if err := closeLog(); err != nil {
		t.Errorf("fallback closeLog should be a no-op, got err %v", err)
	}
}

func TestNop(t *testing.T) {
	log := logging.Nop()
	// Nop must never panic even at levels normally logged.
	log.Errorf("this should be discarded")
	log.WithField("k", "v").Infof("also discarded")
}
