package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nektos/act/pkg/common"
	"github.com/sirupsen/logrus"

	pcommon "github.com/ChristopherHX/release-publisher/common"
	"github.com/ChristopherHX/release-publisher/archive"
	"github.com/ChristopherHX/release-publisher/protocol"
	"github.com/ChristopherHX/release-publisher/protocol/logger"
	"github.com/ChristopherHX/release-publisher/protocol/oidc"
	"github.com/ChristopherHX/release-publisher/protocol/registry"
	"github.com/ChristopherHX/release-publisher/publisherconfiguration"
)

const (
	StepCheckout = "checkout"
	StepSetup    = "setup"
	StepBuild    = "build"
	StepArchive  = "archive"
	StepPublish  = "publish"
)

// RunPublisher executes checkout, setup, build, archive and publish for one release
type RunPublisher struct {
	Settings     *publisherconfiguration.Settings
	Trace        bool
	DryRun       bool
	GroupMarkers bool
	// Console receives the formatted run log, nil discards it
	Console io.Writer
	Live    logger.LiveLogger
	Tools   ToolRunner
	// TokenSource defaults to the token service of the job environment
	TokenSource oidc.TokenSource
	Registry    *registry.Client
	Archiver    archive.Archiver
	Now         func() time.Time
}

type step struct {
	refName string
	name    string
	skip    bool
	run     func(ctx context.Context, rc *RunContext) error
}

func (run *RunPublisher) steps() []step {
	steps := []step{
		{refName: StepCheckout, name: "Checkout source", run: checkout},
		{refName: StepSetup, name: "Set up toolchain", run: setup},
		{refName: StepBuild, name: "Build artifacts", run: build},
	}
	if run.Settings.Archive.S3 != nil {
		steps = append(steps, step{refName: StepArchive, name: "Archive artifacts", skip: run.DryRun, run: archiveArtifacts})
	}
	return append(steps, step{refName: StepPublish, name: "Publish artifacts", skip: run.DryRun, run: publish})
}

func (rc *RunContext) stepExecutor(s step) common.Executor {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return rc.FailRun(s.refName, err, protocol.ResultCanceled)
		}
		log := common.Logger(ctx)
		if s.skip {
			log.Infof("Dry run, skipping %v", s.name)
			rc.RunLogger.Current().Complete(protocol.ResultSkipped)
			rc.RunLogger.MoveNext()
			return nil
		}
		if err := s.run(ctx, rc); err != nil {
			result := protocol.ResultFailed
			if ctx.Err() != nil {
				result = protocol.ResultCanceled
			}
			return rc.FailRun(s.refName, err, result)
		}
		rc.RunLogger.Current().Complete(protocol.ResultSucceeded)
		rc.RunLogger.MoveNext()
		return nil
	}
}

func (run *RunPublisher) newRunContext(event *protocol.ReleaseEvent) (*RunContext, error) {
	settings := run.Settings
	if settings == nil {
		settings = publisherconfiguration.Defaults()
		run.Settings = settings
	}
	rc := &RunContext{
		ID:        uuid.NewString(),
		Event:     event,
		Tag:       event.Tag(),
		Settings:  settings,
		Masker:    &SecretMasker{},
		Tools:     run.Tools,
		publisher: run,
	}
	if rc.Tools == nil {
		rc.Tools = ExecToolRunner{}
	}
	for _, name := range []string{"GITHUB_TOKEN", oidc.EnvRequestToken} {
		if v, ok := pcommon.LookupEnvString(name); ok {
			rc.Masker.Add(v)
		}
	}
	console := run.Console
	if console == nil {
		console = io.Discard
	}
	rc.RunLogger = logger.NewRunLogger(console, run.Live)
	rc.RunLogger.GroupMarkers = run.GroupMarkers
	rc.Log = logrus.New()
	rc.Log.SetOutput(rc.RunLogger)
	rc.Log.SetFormatter(newLogFormatter(rc.Masker))
	rc.Log.SetLevel(logrus.InfoLevel)
	if debug, ok := pcommon.LookupEnvBool("ACTIONS_STEP_DEBUG"); run.Trace || ok && debug {
		rc.Log.SetLevel(logrus.DebugLevel)
	}
	rc.Connection = &protocol.Connection{
		Trace:  run.Trace || settings.Publish.Verbose,
		Tracer: rc.Log,
		Mask:   rc.Masker.Mask,
	}
	for _, s := range run.steps() {
		rc.RunLogger.Append(protocol.CreateTimelineEntry(rc.ID, s.refName, s.name))
	}
	version, err := ReleaseVersion(rc.Tag)
	if err != nil {
		return rc, err
	}
	rc.Version = version
	dir, err := filepath.Abs(settings.Source.Path)
	if err != nil {
		return rc, err
	}
	rc.SourceDir = dir
	return rc, nil
}

// Run executes the steps for event and stops at the first failure
func (run *RunPublisher) Run(ctx context.Context, event *protocol.ReleaseEvent) (*protocol.RunSummary, error) {
	if err := CheckTrigger(event); err != nil {
		return nil, err
	}
	rc, err := run.newRunContext(event)
	defer func() {
		_ = rc.RunLogger.Close()
	}()
	rc.RunLogger.Start()
	if err != nil {
		err = rc.FailRun(StepCheckout, fmt.Errorf("%w: %v", ErrSourceUnavailable, err), protocol.ResultFailed)
		return rc.Summary(err), err
	}
	rc.Log.Infof("Release %v (%v), run %v", rc.Tag, rc.Version, rc.ID)
	executors := []common.Executor{}
	for _, s := range run.steps() {
		executors = append(executors, rc.stepExecutor(s))
	}
	err = common.NewPipelineExecutor(executors...)(common.WithLogger(ctx, rc.Log))
	var runErr *RunError
	if err != nil && !errors.As(err, &runErr) {
		// canceled between two steps
		refName := StepCheckout
		if cur := rc.RunLogger.Current(); cur != nil {
			refName = cur.RefName
		}
		err = rc.FailRun(refName, err, protocol.ResultCanceled)
	}
	return rc.Summary(err), err
}

// WriteSummary stores summary as json
func WriteSummary(path string, summary *protocol.RunSummary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return pcommon.WriteJSON(path, summary)
}
