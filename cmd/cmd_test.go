package cmd

import (
	"bufio"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/lookout/internal/config"
	"github.com/andresmejia3/lookout/internal/evidence"
	"github.com/andresmejia3/lookout/internal/pipeline"
	"github.com/andresmejia3/lookout/internal/types"
)

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{65 * time.Second, "00:01:05"},
		{3661 * time.Second, "01:01:01"},
		{-time.Second, "00:00:00"},
	}

	for _, tt := range tests {
		if got := fmtDuration(tt.d); got != tt.want {
			t.Errorf("fmtDuration(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestResolveDBURL(t *testing.T) {
	withDB := config.Default()
	withDB.Database.URL = "postgres://cfg/lookout"

	tests := []struct {
		name string
		flag string
		env  map[string]string
		cfg  config.Config
		want string
	}{
		{name: "Flag wins", flag: "postgres://flag/db", env: map[string]string{"LOOKOUT_DB": "postgres://env/db"}, cfg: withDB, want: "postgres://flag/db"},
		{name: "LOOKOUT_DB", env: map[string]string{"LOOKOUT_DB": "postgres://env/db"}, cfg: withDB, want: "postgres://env/db"},
		{
			name: "POSTGRES variables",
			env:  map[string]string{"POSTGRES_HOST": "db", "POSTGRES_USER": "u", "POSTGRES_PASSWORD": "p", "POSTGRES_DB": "lookout"},
			cfg:  withDB,
			want: "postgres://u:p@db:5432/lookout",
		},
		{name: "Config file", cfg: withDB, want: "postgres://cfg/lookout"},
		{name: "Nothing configured", cfg: config.Default(), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.env[k] }
			if got := resolveDBURL(tt.flag, tt.cfg, getenv); got != tt.want {
				t.Errorf("resolveDBURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyRunFlags(t *testing.T) {
	var f runFlags
	cmd := &cobra.Command{Use: "run"}
	bindRunFlags(cmd, &f)
	if err := cmd.ParseFlags([]string{"--primary", "rtsp://cam/1", "--headless", "--no-pose", "-t", "0.4"}); err != nil {
		t.Fatal(err)
	}

	base := config.Default()
	got := applyRunFlags(cmd, base, f)

	if got.Camera.Primary != "rtsp://cam/1" {
		t.Errorf("Primary = %q", got.Camera.Primary)
	}
	if got.Camera.Secondary != base.Camera.Secondary {
		t.Errorf("unset flag should keep the configured secondary, got %q", got.Camera.Secondary)
	}
	if got.Pipeline.Display != "headless" || got.Stages.PoseEnabled || !got.Stages.IdentifyEnabled {
		t.Errorf("unexpected toggles: display=%s pose=%v identify=%v", got.Pipeline.Display, got.Stages.PoseEnabled, got.Stages.IdentifyEnabled)
	}
	if got.Recognition.Tolerance != 0.4 {
		t.Errorf("Tolerance = %v, want 0.4", got.Recognition.Tolerance)
	}
	if base.Camera.Primary == got.Camera.Primary {
		t.Error("the base config must not be modified")
	}
}

func TestLoggerOptions(t *testing.T) {
	c := config.Default()
	c.Paths.LogDir = "/var/log/lookout"
	opts := loggerOptions(c)
	if len(opts.OutputPaths) != 2 || opts.OutputPaths[1] != "/var/log/lookout/lookout.log" {
		t.Errorf("unexpected output paths %v", opts.OutputPaths)
	}

	c.Logging.ToFile = false
	if opts := loggerOptions(c); len(opts.OutputPaths) != 0 {
		t.Errorf("file output disabled, got %v", opts.OutputPaths)
	}
}

func TestLargestFace(t *testing.T) {
	faces := []types.FaceResult{
		{Loc: []int{0, 10, 10, 0}, Vec: []float64{1}},
		{Loc: []int{0, 50, 50, 0}, Vec: []float64{2}},
		{Loc: []int{0, 90, 90}, Vec: []float64{3}}, // malformed
		{Loc: []int{0, 100, 100, 0}},               // no embedding
	}
	best, ok := largestFace(faces)
	if !ok || best.Vec[0] != 2 {
		t.Errorf("Expected the 50px face, got %+v ok=%v", best, ok)
	}
	if _, ok := largestFace(nil); ok {
		t.Error("no faces should report false")
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := confirm(bufio.NewReader(strings.NewReader(tt.input)), "?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
	if !confirmer(strings.NewReader(""), true)("?") {
		t.Error("--yes should skip the prompt")
	}
}

func TestRenderSummary(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := pipeline.Summary{
		Session:    "abc",
		Started:    start,
		Ended:      start.Add(90 * time.Second),
		Ticks:      100,
		Skipped:    10,
		AvgFPS:     1.0,
		HumanFound: 2,
		Source:     "secondary",
		Identities: []pipeline.IdentitySummary{{Label: "alice", Captures: 1, FirstSeen: start}},
	}
	out := renderSummary(s, evidence.Stats{Saved: 3}, map[string]int{"alice": 4})
	for _, want := range []string{"abc", "00:01:30", "90", "secondary", "alice", "3 saved", "PHOTOS", "4"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	s.Identities = nil
	if out := renderSummary(s, evidence.Stats{}, nil); !strings.Contains(out, "No gallery identities") {
		t.Errorf("Expected empty-identity note:\n%s", out)
	}
}

func TestJournalCommands(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "evidence.db")

	j, err := evidence.OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	rec := evidence.Record{Session: "s1", Kind: evidence.KindFace, Label: "alice", Path: "/tmp/alice_1.jpg", Seq: 7, CapturedAt: time.Now()}
	if err := j.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}
	j.Close()

	rows := evidenceRows([]evidence.Record{rec, {Kind: evidence.KindHuman, Path: "/tmp/h.jpg"}})
	if rows[0][2] != "alice" || rows[0][3] != "7" || rows[1][2] != "-" {
		t.Errorf("unexpected rows %v", rows)
	}

	for _, latest := range []bool{false, true} {
		if err := runEvidence(ctx, path, "", latest); err != nil {
			t.Fatalf("runEvidence(latest=%v): %v", latest, err)
		}
	}

	if err := clearJournal(ctx, path); err != nil {
		t.Fatal(err)
	}
	j, err = evidence.OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	if left, _ := j.List(ctx, ""); len(left) != 0 {
		t.Errorf("Expected empty journal, got %d rows", len(left))
	}

	if err := clearJournal(ctx, filepath.Join(t.TempDir(), "missing.db")); err != nil {
		t.Errorf("missing journal should be a no-op, got %v", err)
	}
}
