package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("hunter2", 4)
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(hash, "hunter2") {
		t.Fatal("correct password rejected")
	}
	if CheckPassword(hash, "hunter3") || CheckPassword("not a hash", "hunter2") {
		t.Fatal("wrong password accepted")
	}
}

func TestGenerateAPIToken(t *testing.T) {
	a, err := GenerateAPIToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateAPIToken()
	if len(a) != 64 || a == b {
		t.Fatalf("tokens %q %q", a, b)
	}
}

func TestProcessStats(t *testing.T) {
	started := time.Now().Add(-3 * time.Second)
	stats := GetProcessStats(started)
	if stats.PID != int32(os.Getpid()) || stats.Goroutines < 1 {
		t.Fatalf("stats %+v", stats)
	}
	if stats.UptimeSecond < 3 {
		t.Fatalf("uptime %d", stats.UptimeSecond)
	}
}

func TestInitLogger(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	dir := filepath.Join(t.TempDir(), "logs")
	closer, err := InitLogger(LogConfig{Level: "warn", Directory: dir, Role: "relay"})
	if err != nil {
		t.Fatal(err)
	}
	log.Warn().Msg("written to file")
	closer.Close()

	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("level %s", zerolog.GlobalLevel())
	}
	data, err := os.ReadFile(filepath.Join(dir, logFileName("relay", time.Now())))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"role":"relay"`) || !strings.Contains(string(data), "written to file") {
		t.Fatalf("log file:\n%s", data)
	}
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-10 * 24 * time.Hour)
	for i := 0; i < 4; i++ {
		day := base.Add(time.Duration(i) * 24 * time.Hour)
		path := filepath.Join(dir, logFileName("gateway", day))
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatal(err)
		}
		os.Chtimes(path, day, day)
	}
	other := filepath.Join(dir, logFileName("relay", base))
	os.WriteFile(other, nil, 0644)

	cleanOldLogs(dir, logFilePrefix("gateway"), 2)

	for i := 0; i < 4; i++ {
		_, err := os.Stat(filepath.Join(dir, logFileName("gateway", base.Add(time.Duration(i)*24*time.Hour))))
		if kept := err == nil; kept != (i >= 2) {
			t.Fatalf("file %d kept=%v", i, kept)
		}
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatal("another role's log was removed")
	}
}
