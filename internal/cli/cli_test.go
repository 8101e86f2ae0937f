package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/pagegen/internal/core"
)

const testJob = `template:
  title: "Visit {{city}}"
  body_file: body.html
csv: cities.csv
mapping:
  city: City
  state: State
meta:
  import_title: true
`

// writeJob lays out a job directory and returns the job file path.
func writeJob(t *testing.T, job string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"job.yaml":   job,
		"body.html":  "<p>Welcome to {{city}}, {{state}}.</p>",
		"cities.csv": "City,State,meta_title\nReno,NV,Reno Guide\nBoise,ID,\n",
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(dir, "job.yaml")
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	envFile := filepath.Join(t.TempDir(), "missing.env")
	cmd.SetArgs(append([]string{"--env-file", envFile}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semi.csv")
	if err := os.WriteFile(path, []byte("a;b\n1;\"x;y\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := run(t, "parse", path, "--delimiter", ";")
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}

	var got struct {
		Headers []string            `json:"headers"`
		Rows    []map[string]string `json:"rows"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(got.Headers) != 2 || got.Headers[1] != "b" {
		t.Errorf("headers = %v", got.Headers)
	}
	if len(got.Rows) != 1 || got.Rows[0]["b"] != "x;y" {
		t.Errorf("rows = %v", got.Rows)
	}
}

func TestParse_BadDelimiter(t *testing.T) {
	_, _, err := run(t, "parse", "whatever.csv", "--delimiter", "\n")
	if err == nil {
		t.Fatal("expected error for newline delimiter")
	}
}

func TestScan(t *testing.T) {
	out, _, err := run(t, "scan", writeJob(t, testJob))
	if err != nil {
		t.Fatalf("scan error = %v", err)
	}

	var res core.ScanResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if strings.Join(res.Placeholders, ",") != "city,state" {
		t.Errorf("placeholders = %v, want [city state]", res.Placeholders)
	}
}

func TestPreview(t *testing.T) {
	out, _, err := run(t, "preview", writeJob(t, testJob), "--row", "2")
	if err != nil {
		t.Fatalf("preview error = %v", err)
	}

	var res core.PreviewResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if res.Title != "Visit Boise" {
		t.Errorf("title = %q", res.Title)
	}
	if !strings.Contains(res.Body, "Welcome to Boise, ID.") {
		t.Errorf("body = %q", res.Body)
	}
	if res.Slug != "visit-boise" {
		t.Errorf("slug = %q", res.Slug)
	}
}

func TestPreview_RowOutOfRange(t *testing.T) {
	_, _, err := run(t, "preview", writeJob(t, testJob), "--row", "5")
	if err == nil {
		t.Fatal("expected error for row 5 of 2")
	}
}

func TestGenerate_DryRun(t *testing.T) {
	out, stderr, err := run(t, "generate", writeJob(t, testJob), "--dry-run", "--batch-size", "1")
	if err != nil {
		t.Fatalf("generate error = %v\nstderr: %s", err, stderr)
	}

	var res core.JobResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if res.Phase != core.PhaseComplete {
		t.Errorf("phase = %q, want complete", res.Phase)
	}
	if res.Result.SuccessCount != 2 || res.Result.FailureCount != 0 {
		t.Errorf("result = %+v", res.Result)
	}
	if len(res.Result.Created) != 2 || res.Result.Created[0].Slug != "visit-reno" {
		t.Errorf("created = %+v", res.Result.Created)
	}
	if !strings.Contains(stderr, "2/2 rows") {
		t.Errorf("stderr missing final progress line:\n%s", stderr)
	}
}

func TestGenerate_InlineNeedsDryRun(t *testing.T) {
	_, _, err := run(t, "generate", writeJob(t, testJob))
	if err == nil || !strings.Contains(err.Error(), "--dry-run") {
		t.Fatalf("err = %v, want --dry-run hint", err)
	}
}

func TestLoadJobFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		job  string
		want string
	}{
		{"no csv", "template:\n  title: x\n", "csv is required"},
		{"no template", "csv: a.csv\n", "template needs an id"},
		{"id and inline", "template:\n  id: 3\n  title: x\ncsv: a.csv\n", "cannot be combined"},
		{"bad delimiter", "template:\n  title: x\ncsv: a.csv\ndelimiter: \"\\\"\"\n", "unsupported delimiter"},
		{"missing body file", "template:\n  body_file: nope.html\ncsv: a.csv\n", "body_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "job.yaml")
			if err := os.WriteFile(path, []byte(tt.job), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadJobFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRenderMapping_DropsBlank(t *testing.T) {
	job := &JobFile{Mapping: map[string]string{"city": "City", "zip": " "}}
	m := job.RenderMapping()
	if len(m) != 1 || m["city"] != "City" {
		t.Errorf("mapping = %v", m)
	}
}
