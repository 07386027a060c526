package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shodhcode/internal/cli/config"
	"shodhcode/internal/testutil"
)

const baseConfig = `baseURL: http://localhost:8080
timeout: 10s
poll:
  submissionInterval: 2s
  submissionDeadline: 30s
logger:
  level: warn
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s failed: %v", path, err)
	}
}

func TestGenerateMergesOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cli.yaml"), baseConfig)
	writeFile(t, filepath.Join(dir, "profile.yaml"), `outputDir: out
base: cli.yaml
environments:
  staging:
    overrides:
      baseURL: https://staging.example.com
      logger:
        level: info
  local: {}
`)

	written, err := generate(filepath.Join(dir, "profile.yaml"), "")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	testutil.AssertEqual(t, written, []string{
		filepath.Join(dir, "out", "cli.local.yaml"),
		filepath.Join(dir, "out", "cli.staging.yaml"),
	})

	staging, err := config.Load(written[1])
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	testutil.AssertEqual(t, staging.BaseURL, "https://staging.example.com")
	testutil.AssertEqual(t, staging.Logger.Level, "info")
	testutil.AssertEqual(t, staging.Poll.SubmissionDeadline, 30*time.Second)

	local, err := config.Load(written[0])
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	testutil.AssertEqual(t, local.BaseURL, "http://localhost:8080")
}

func TestGenerateRejectsInvalidResult(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cli.yaml"), baseConfig)
	writeFile(t, filepath.Join(dir, "profile.yaml"), `base: cli.yaml
environments:
  broken:
    overrides:
      poll:
        submissionDeadline: 1s
`)

	_, err := generate(filepath.Join(dir, "profile.yaml"), filepath.Join(dir, "gen"))
	if err == nil || !strings.Contains(err.Error(), `config for "broken" is invalid`) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func TestMergeMapKeepsSiblings(t *testing.T) {
	merged, err := mergeMap(
		map[string]interface{}{"poll": map[string]interface{}{"a": 1, "b": 2}, "x": "y"},
		map[string]interface{}{"poll": map[string]interface{}{"b": 3}},
	)
	testutil.AssertNil(t, err)
	testutil.AssertEqual(t, merged, map[string]interface{}{
		"poll": map[string]interface{}{"a": 1, "b": 3},
		"x":    "y",
	})

	_, err = mergeMap("scalar", map[string]interface{}{})
	testutil.AssertTrue(t, err != nil, "non-map base must fail")
}
