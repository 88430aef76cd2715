package main

import (
	"reflect"
	"testing"
	"time"
)

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "value", "other"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
	if got := firstNonEmpty("", "   "); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example.com , https://b.example.com ,, ")
	want := []string{"https://a.example.com", "https://b.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}

func TestResolveInt(t *testing.T) {
	if got := resolveInt(5, "CIRRUSDRIVE_TEST_INT"); got != 5 {
		t.Fatalf("expected flag to win, got %d", got)
	}
	t.Setenv("CIRRUSDRIVE_TEST_INT", "7")
	if got := resolveInt(0, "CIRRUSDRIVE_TEST_INT"); got != 7 {
		t.Fatalf("expected env fallback, got %d", got)
	}
	t.Setenv("CIRRUSDRIVE_TEST_INT", "not-a-number")
	if got := resolveInt(0, "CIRRUSDRIVE_TEST_INT"); got != 0 {
		t.Fatalf("expected zero for invalid env, got %d", got)
	}
}

func TestResolveDuration(t *testing.T) {
	if got := resolveDuration(time.Minute, "CIRRUSDRIVE_TEST_DURATION", time.Second); got != time.Minute {
		t.Fatalf("expected flag to win, got %v", got)
	}
	t.Setenv("CIRRUSDRIVE_TEST_DURATION", "90s")
	if got := resolveDuration(0, "CIRRUSDRIVE_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("expected env fallback, got %v", got)
	}
	t.Setenv("CIRRUSDRIVE_TEST_DURATION", "")
	if got := resolveDuration(0, "CIRRUSDRIVE_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %v", got)
	}
}

func TestModeValue(t *testing.T) {
	if got := modeValue("", ""); got != "development" {
		t.Fatalf("expected development default, got %q", got)
	}
	if got := modeValue("Production", ""); got != "production" {
		t.Fatalf("expected lowered flag, got %q", got)
	}
	if got := modeValue("", "PRODUCTION"); got != "production" {
		t.Fatalf("expected lowered env, got %q", got)
	}
}

func TestResolveListenAddr(t *testing.T) {
	if got := resolveListenAddr(":9090", "production", ""); got != ":9090" {
		t.Fatalf("expected flag to win, got %q", got)
	}
	if got := resolveListenAddr("", "development", ""); got != ":8080" {
		t.Fatalf("expected development default, got %q", got)
	}
	if got := resolveListenAddr("", "production", ""); got != ":80" {
		t.Fatalf("expected production default, got %q", got)
	}
	if got := resolveListenAddr("", "development", ":7070"); got != ":7070" {
		t.Fatalf("expected env fallback, got %q", got)
	}
}

func TestResolveStorageDriver(t *testing.T) {
	if driver, err := resolveStorageDriver("Postgres", "", ""); err != nil || driver != "postgres" {
		t.Fatalf("expected postgres, got %q err=%v", driver, err)
	}
	if driver, err := resolveStorageDriver("", "json", "postgres://dsn"); err != nil || driver != "json" {
		t.Fatalf("expected explicit env to win over DSN, got %q err=%v", driver, err)
	}
	if driver, err := resolveStorageDriver("", "", "postgres://dsn"); err != nil || driver != "postgres" {
		t.Fatalf("expected DSN to select postgres, got %q err=%v", driver, err)
	}
	if driver, err := resolveStorageDriver("", "", ""); err != nil || driver != "json" {
		t.Fatalf("expected json default, got %q err=%v", driver, err)
	}
}

func TestResolveShareStoreDriver(t *testing.T) {
	if got := resolveShareStoreDriver("Redis", "", "", "json"); got != "redis" {
		t.Fatalf("expected explicit flag, got %q", got)
	}
	if got := resolveShareStoreDriver("", "memory", "localhost:6379", "postgres"); got != "memory" {
		t.Fatalf("expected explicit env to win, got %q", got)
	}
	if got := resolveShareStoreDriver("", "", "localhost:6379", "json"); got != "redis" {
		t.Fatalf("expected redis when an address is configured, got %q", got)
	}
	if got := resolveShareStoreDriver("", "", "", "postgres"); got != "postgres" {
		t.Fatalf("expected postgres to follow the datastore, got %q", got)
	}
	if got := resolveShareStoreDriver("", "", "", "json"); got != "memory" {
		t.Fatalf("expected memory default, got %q", got)
	}
}

func TestResolveDataPaths(t *testing.T) {
	if got := resolveDataPath("custom.json", ""); got != "custom.json" {
		t.Fatalf("expected flag to win, got %q", got)
	}
	if got := resolveDataPath("", " env.json "); got != "env.json" {
		t.Fatalf("expected trimmed env, got %q", got)
	}
	if got := resolveDataPath("", ""); got != "data/store.json" {
		t.Fatalf("expected default path, got %q", got)
	}
	if got := resolveFilesRoot("", ""); got != "data/files" {
		t.Fatalf("expected default files root, got %q", got)
	}
}
