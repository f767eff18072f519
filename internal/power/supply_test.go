package power

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSupply(t *testing.T, root, name, file, content string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestParseMicrovolts(t *testing.T) {
	v, err := parseMicrovolts("3987000\n")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if v != 3.987 {
		t.Fatalf("v=%v want 3.987", v)
	}
	if _, err := parseMicrovolts("abc"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSupply_BatteryVoltage(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "battery", "voltage_now", "4100000\n")
	s := NewSupply("battery", "")
	s.root = root

	v, err := s.BatteryVoltage()
	if err != nil {
		t.Fatalf("BatteryVoltage: %v", err)
	}
	if v != 4.1 {
		t.Fatalf("v=%v want 4.1", v)
	}
}

func TestSupply_BatteryMissing(t *testing.T) {
	s := NewSupply("battery", "")
	s.root = t.TempDir()
	if _, err := s.BatteryVoltage(); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewSupply("", "").BatteryVoltage(); err == nil {
		t.Fatalf("expected error without a battery name")
	}
}

func TestSupply_OnBackup(t *testing.T) {
	root := t.TempDir()
	s := NewSupply("battery", "mains")
	s.root = root

	if !s.OnBackup() {
		t.Fatalf("unreadable mains should count as backup")
	}
	writeSupply(t, root, "mains", "online", "1\n")
	if s.OnBackup() {
		t.Fatalf("mains online: expected not on backup")
	}
	writeSupply(t, root, "mains", "online", "0\n")
	if !s.OnBackup() {
		t.Fatalf("mains offline: expected backup")
	}
	if !NewSupply("battery", "").OnBackup() {
		t.Fatalf("no mains supply configured: expected backup")
	}
}
