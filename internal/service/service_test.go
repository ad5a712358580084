package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/clashchain/internal/chain"
	"git.home.luguber.info/inful/clashchain/internal/config"
	"git.home.luguber.info/inful/clashchain/internal/document"
	"git.home.luguber.info/inful/clashchain/internal/enhance"
	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/history"
	"git.home.luguber.info/inful/clashchain/internal/metrics"
	"git.home.luguber.info/inful/clashchain/internal/notify"
	"git.home.luguber.info/inful/clashchain/internal/output"
	"git.home.luguber.info/inful/clashchain/internal/profile"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}
func (p *recordingPublisher) Close() {}

type fixture struct {
	cfg  *config.Config
	svc  *Service
	pub  *recordingPublisher
	hist *history.SQLiteStore
}

func newFixture(t *testing.T, base string, extra string) *fixture {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TMPDIR", filepath.Join(dir, "tmp"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tmp"), 0o755))

	cfg, err := config.Parse([]byte(fmt.Sprintf("version: \"1\"\ndata_dir: %s\n%s", filepath.Join(dir, "data"), extra)))
	require.NoError(t, err)
	if base != "" {
		require.NoError(t, os.MkdirAll(cfg.DataDir, 0o755))
		require.NoError(t, os.WriteFile(cfg.BaseConfigPath(), []byte(base), 0o644))
	}

	hist, err := history.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	pub := &recordingPublisher{}
	svc, err := New(Options{Config: cfg, History: hist, Publisher: pub})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return &fixture{cfg: cfg, svc: svc, pub: pub, hist: hist}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestGeneratePublishesAndRecords(t *testing.T) {
	f := newFixture(t, "mode: rule\nmixed-port: 7890\n", "tun: {enabled: true}\n")
	_, err := f.svc.Profiles().Append(profile.Item{Name: "global", Type: chain.KindMerge}, []byte("mode: global\n"))
	require.NoError(t, err)

	report, err := f.svc.Generate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.True(t, report.Published)
	assert.Empty(t, report.LoadErrors)
	assert.Equal(t, []string{"dns", "mode", "tun"}, report.Result.TouchedKeys)

	doc, ok := f.svc.State().Document()
	require.True(t, ok)
	mode, _ := doc.Get("mode")
	assert.Equal(t, "global", mode)
	tun, _ := doc.Get("tun")
	assert.Equal(t, map[string]any{"enable": true}, tun)

	run, err := f.hist.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.Result.RunID, run.ID)
	assert.Equal(t, TriggerCLI, run.Trigger)

	assert.NoFileExists(t, f.cfg.RunFilePath(), "generate alone does not write the run file")
	assert.Empty(t, f.pub.events)
}

func TestApplyWritesRunFileAndNotifies(t *testing.T) {
	f := newFixture(t, "mode: rule\n", "")

	report, err := f.svc.Apply(context.Background(), TriggerWatch)
	require.NoError(t, err)
	assert.Equal(t, f.cfg.RunFilePath(), report.Path)

	content := readFile(t, report.Path)
	assert.True(t, strings.HasPrefix(content, "# Generated by clashchain\n"))
	written, err := document.Parse([]byte(content))
	require.NoError(t, err)
	assert.True(t, written.Equal(report.Result.Document))

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, report.Result.RunID, f.pub.events[0].RunID)
	assert.Equal(t, report.Path, f.pub.events[0].Path)
	assert.Equal(t, TriggerWatch, f.pub.events[0].Trigger)
}

func TestCheckLeavesRuntimeAlone(t *testing.T) {
	f := newFixture(t, "mode: rule\n", "")

	report, err := f.svc.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.cfg.CheckFilePath(), report.Path)
	assert.FileExists(t, report.Path)

	_, ok := f.svc.State().Latest()
	assert.False(t, ok)
	assert.NoFileExists(t, f.cfg.RunFilePath())
	_, err = f.hist.Latest(context.Background())
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestFatalBaseKeepsPreviousState(t *testing.T) {
	f := newFixture(t, "mode: rule\n", "")
	first, err := f.svc.Generate(context.Background(), TriggerCLI)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.cfg.BaseConfigPath(), []byte("- broken\n"), 0o644))
	_, err = f.svc.Generate(context.Background(), TriggerCLI)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDocument))

	snap, ok := f.svc.State().Latest()
	require.True(t, ok)
	assert.Same(t, first.Result, snap.Result)
}

func TestGenerateFileBeforeAnyRun(t *testing.T) {
	f := newFixture(t, "", "")
	_, err := f.svc.GenerateFile(output.KindRun)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))
}

func TestMissingBaseStartsEmpty(t *testing.T) {
	f := newFixture(t, "", "")
	report, err := f.svc.Generate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, []string{"tun", "dns"}, report.Result.Document.Keys())
}

func TestBrokenProfileIsReportedNotFatal(t *testing.T) {
	f := newFixture(t, "mode: rule\n", "")
	item, err := f.svc.Profiles().Append(profile.Item{Name: "bad", Type: chain.KindMerge}, []byte("a: 1\n"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.svc.Profiles().Dir(), item.File), []byte("a: [\n"), 0o644))

	report, err := f.svc.Generate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	require.Len(t, report.LoadErrors, 1)
	assert.True(t, ferrors.HasCategory(report.LoadErrors[0], ferrors.CategoryChain))
	assert.False(t, report.Result.Document.Has("a"))
}

func TestInitProvisionsAndWrites(t *testing.T) {
	f := newFixture(t, "mode: rule\n", "")

	report, err := f.svc.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.cfg.RunFilePath(), report.Path)
	assert.True(t, strings.HasPrefix(readFile(t, report.Path), "# Generated by clashchain\n"))

	items, err := f.svc.Profiles().List()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Empty(t, report.Result.FailedUnits())
}

func TestInitFallsBackToBase(t *testing.T) {
	f := newFixture(t, "- not a mapping\n", "")

	report, err := f.svc.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "# Clash Runtime\n- not a mapping\n", readFile(t, report.Path))
}

func TestInitKeepsExistingRunFile(t *testing.T) {
	f := newFixture(t, "- not a mapping\n", "")
	require.NoError(t, os.WriteFile(f.cfg.RunFilePath(), []byte("mode: direct\n"), 0o644))

	_, err := f.svc.Init(context.Background())
	require.Error(t, err)
	assert.Equal(t, "mode: direct\n", readFile(t, f.cfg.RunFilePath()))
}

func TestOpenHonoursConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Parse([]byte(fmt.Sprintf("version: \"1\"\ndata_dir: %s\n", dir)))
	require.NoError(t, err)

	svc, err := Open(cfg, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, svc.History())
	_, err = svc.Apply(context.Background(), TriggerCLI)
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	assert.FileExists(t, cfg.HistoryPath())

	disabled, err := config.Parse([]byte(fmt.Sprintf("version: \"1\"\ndata_dir: %s\nhistory: {enabled: false}\n", dir)))
	require.NoError(t, err)
	svc, err = Open(disabled, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, svc.History())
	require.NoError(t, svc.Close())
}

// overtakingHistory publishes a newer result while the run it records is
// still being applied.
type overtakingHistory struct {
	*history.SQLiteStore
	svc   *Service
	newer *enhance.Result
}

func (h *overtakingHistory) Record(ctx context.Context, run history.Run) error {
	if h.newer != nil {
		h.svc.State().Publish(h.svc.State().Begin(), h.newer)
		h.newer = nil
	}
	return h.SQLiteStore.Record(ctx, run)
}

func TestApplyWritesItsOwnResult(t *testing.T) {
	f := newFixture(t, "mode: rule\n", "")
	newer, err := document.Parse([]byte("mode: direct\n"))
	require.NoError(t, err)
	hist, err := history.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	h := &overtakingHistory{SQLiteStore: hist, newer: &enhance.Result{RunID: "newer", Document: newer}}
	svc, err := New(Options{Config: f.cfg, History: h})
	require.NoError(t, err)
	h.svc = svc
	t.Cleanup(func() { _ = svc.Close() })

	report, err := svc.Apply(context.Background(), TriggerCLI)
	require.NoError(t, err)

	snap, ok := svc.State().Latest()
	require.True(t, ok)
	assert.Equal(t, "newer", snap.Result.RunID)

	written, err := document.Parse([]byte(readFile(t, report.Path)))
	require.NoError(t, err)
	assert.True(t, written.Equal(report.Result.Document))
	mode, _ := written.Get("mode")
	assert.Equal(t, "rule", mode)
}

// cancelAtFinish cancels the caller once the engine has finished its last unit.
type cancelAtFinish struct {
	metrics.NoopRecorder
	cancel context.CancelFunc
}

func (c cancelAtFinish) SetTouchedKeys(int) { c.cancel() }

func TestCancelledRunIsNotPublished(t *testing.T) {
	f := newFixture(t, "mode: rule\n", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, err := New(Options{Config: f.cfg, History: f.hist, Metrics: cancelAtFinish{cancel: cancel}})
	require.NoError(t, err)

	_, err = svc.Generate(ctx, TriggerCLI)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))

	_, ok := svc.State().Latest()
	assert.False(t, ok)
	_, err = f.hist.Latest(context.Background())
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestExcludedProfileIsLoggedThroughServiceLogger(t *testing.T) {
	f := newFixture(t, "mode: rule\n", "")
	var buf bytes.Buffer
	svc, err := New(Options{Config: f.cfg, Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	require.NoError(t, err)

	item, err := svc.Profiles().Append(profile.Item{Name: "bad", Type: chain.KindMerge}, []byte("a: 1\n"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(svc.Profiles().Dir(), item.File), []byte("a: [\n"), 0o644))

	_, err = svc.Generate(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Profile excluded from chain")
}
