package publisher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"

	"github.com/ChristopherHX/release-publisher/protocol"
	"github.com/ChristopherHX/release-publisher/protocol/logger"
	"github.com/ChristopherHX/release-publisher/protocol/registry"
	"github.com/ChristopherHX/release-publisher/publisherconfiguration"
)

// RunContext is the state of a single release run
type RunContext struct {
	ID        string
	Event     *protocol.ReleaseEvent
	Tag       string
	Version   string
	Settings  *publisherconfiguration.Settings
	SourceDir string

	RunLogger  *logger.RunLogger
	Log        *logrus.Logger
	Masker     *SecretMasker
	Connection *protocol.Connection
	Tools      ToolRunner

	Manifest  *protocol.Manifest
	Archived  []string
	Published []string

	publisher *RunPublisher
}

func (rc *RunContext) now() time.Time {
	if rc.publisher != nil && rc.publisher.Now != nil {
		return rc.publisher.Now()
	}
	return time.Now()
}

// OutputDir is the build output directory, relative paths are resolved against the source tree
func (rc *RunContext) OutputDir() string {
	out := rc.Settings.Build.Output
	if filepath.IsAbs(out) {
		return out
	}
	return filepath.Join(rc.SourceDir, out)
}

func (rc *RunContext) registryClient() *registry.Client {
	if rc.publisher != nil && rc.publisher.Registry != nil {
		client := *rc.publisher.Registry
		if client.Connection == nil {
			client.Connection = rc.Connection
		}
		return &client
	}
	return &registry.Client{
		IndexURL:      rc.Settings.Publish.IndexURL,
		RepositoryURL: rc.Settings.Publish.RepositoryURL,
		Connection:    rc.Connection,
	}
}

// runTool runs inv in the source tree and returns its combined output
func (rc *RunContext) runTool(ctx context.Context, log logrus.FieldLogger, inv *ToolInvocation) (string, error) {
	stdout := newLineWriter(log, logrus.InfoLevel)
	stdout.tee = &teeBuffer{}
	stderr := newLineWriter(log, logrus.InfoLevel)
	stderr.tee = stdout.tee
	log.Infof("[command]%v", shellquote.Join(inv.Args...))
	inv.Dir = rc.SourceDir
	inv.Stdout = stdout
	inv.Stderr = stderr
	err := rc.Tools.Run(ctx, inv)
	stdout.Flush()
	stderr.Flush()
	return stdout.tee.String(), err
}

// FailRun completes the current record as failed and every remaining record as skipped
func (rc *RunContext) FailRun(step string, err error, result string) error {
	rc.Log.Errorf("%v", err)
	if cur := rc.RunLogger.Current(); cur != nil {
		cur.AddIssue("error", rc.Masker.Mask(err.Error()))
		cur.Complete(result)
	}
	for {
		next := rc.RunLogger.MoveNextExt(false)
		if next == nil {
			break
		}
		next.Complete(protocol.ResultSkipped)
	}
	return &RunError{Step: step, Err: err}
}

// Summary reports the outcome of the run
func (rc *RunContext) Summary(err error) *protocol.RunSummary {
	summary := &protocol.RunSummary{
		RunID:     rc.ID,
		Tag:       rc.Tag,
		Version:   rc.Version,
		Result:    protocol.ResultSucceeded,
		Published: rc.Published,
		Archived:  rc.Archived,
	}
	if err != nil {
		summary.Result = protocol.ResultFailed
	}
	if rc.Manifest != nil {
		summary.Artifacts = rc.Manifest.Filenames()
	}
	for _, rec := range rc.RunLogger.TimelineRecords.Value {
		step := protocol.StepSummary{
			RefName: rec.RefName,
			Name:    rec.Name,
			Result:  rec.ResultOrState(),
			Log:     rc.RunLogger.StepLog(rec.RefName),
		}
		for _, issue := range rec.Issues {
			if issue.Type == "error" {
				step.Error = issue.Message
			}
		}
		summary.Steps = append(summary.Steps, step)
	}
	return summary
}
