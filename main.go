package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ChristopherHX/release-publisher/common"
	"github.com/ChristopherHX/release-publisher/protocol"
	"github.com/ChristopherHX/release-publisher/protocol/logger"
	"github.com/ChristopherHX/release-publisher/publisher"
	"github.com/ChristopherHX/release-publisher/publisherconfiguration"
	"github.com/ChristopherHX/release-publisher/workflowlint"
)

var version string = "0.1.x-dev"

type RunPublisher struct {
	Config      string
	EnvFile     string
	Tag         string
	Ref         string
	Trace       bool
	DryRun      bool
	SummaryFile string
	LogFeedURL  string
	Logger      publisher.BasicLogger
}

func (run *RunPublisher) loadSettings() (*publisherconfiguration.Settings, error) {
	if run.EnvFile != "" {
		if err := godotenv.Load(run.EnvFile); err != nil {
			return nil, fmt.Errorf("failed to load %v: %w", run.EnvFile, err)
		}
	}
	settings, err := publisherconfiguration.LoadSettings(run.Config)
	if err != nil {
		return nil, err
	}
	settings.ReadFromEnvironment()
	return settings, settings.Validate()
}

func (run *RunPublisher) event() (*protocol.ReleaseEvent, error) {
	if run.Tag != "" {
		return publisher.NewManualEvent(run.Tag, run.Ref), nil
	}
	return publisher.LoadEventFromEnvironment()
}

func (run *RunPublisher) Run() int {
	// trap Ctrl+C
	channel := make(chan os.Signal, 1)
	signal.Notify(channel, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(channel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-channel:
			run.Logger.Printf("Cancel received, the current step is aborted\n")
			cancel()
		case <-ctx.Done():
		}
	}()
	return run.RunWithContext(ctx)
}

func (run *RunPublisher) RunWithContext(ctx context.Context) int {
	settings, err := run.loadSettings()
	if err != nil {
		run.Logger.Printf("Invalid configuration: %v\n", err.Error())
		return 1
	}
	event, err := run.event()
	if err != nil {
		run.Logger.Printf("%v\n", err.Error())
		return publisher.ExitCode(err)
	}
	p := &publisher.RunPublisher{
		Settings: settings,
		Trace:    run.Trace,
		DryRun:   run.DryRun,
		Console:  os.Stdout,
	}
	if v, ok := common.LookupEnvBool("GITHUB_ACTIONS"); ok && v {
		p.GroupMarkers = true
	}
	if run.LogFeedURL != "" {
		p.Live = &logger.BufferedLiveLogger{
			LiveLogger: &logger.WebsocketLiveLogger{
				FeedStreamURL: run.LogFeedURL,
				Trace:         run.Trace,
			},
		}
	}
	summary, err := p.Run(ctx, event)
	if errors.Is(err, publisher.ErrNotTriggered) {
		run.Logger.Printf("Nothing to do: %v\n", err.Error())
		return 0
	}
	if summary != nil {
		printSummary(summary)
		if run.SummaryFile != "" {
			if werr := publisher.WriteSummary(run.SummaryFile, summary); werr != nil {
				run.Logger.Printf("Warning: failed to write %v: %v\n", run.SummaryFile, werr.Error())
			}
		}
	}
	if err != nil {
		run.Logger.Printf("Error: %v\n", err.Error())
	}
	return publisher.ExitCode(err)
}

func printSummary(summary *protocol.RunSummary) {
	for _, step := range summary.Steps {
		var c *color.Color
		switch step.Result {
		case protocol.ResultSucceeded:
			c = color.New(color.FgGreen)
		case protocol.ResultFailed, protocol.ResultCanceled:
			c = color.New(color.FgRed, color.Bold)
		default:
			c = color.New(color.FgYellow)
		}
		_, _ = c.Printf("%-10s", step.Result)
		fmt.Printf(" %v\n", step.Name)
	}
	if len(summary.Published) > 0 {
		fmt.Printf("Published %v %v for %v\n", humanize.Comma(int64(len(summary.Published))), plural(len(summary.Published), "file", "files"), summary.Tag)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

type interactive struct {
}

func (i *interactive) GetInput(prompt string, def string) string {
	return GetInput(prompt, def)
}
func (i *interactive) GetSelectInput(prompt string, options []string, def string) string {
	return GetSelectInput(prompt, options, def)
}
func (i *interactive) GetConfirm(prompt string, def bool) bool {
	return GetConfirm(prompt, def)
}

func main() {
	run := &RunPublisher{Logger: &publisher.ConsoleLogger{}}
	var cmdRun = &cobra.Command{
		Use:   "run",
		Short: "Check out, build and publish the release that triggered this job",
		Args:  cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(run.Run())
		},
	}
	cmdRun.Flags().StringVar(&run.Config, "config", publisherconfiguration.DefaultConfigFile, "publisher configuration file")
	cmdRun.Flags().StringVar(&run.EnvFile, "env-file", "", "godotenv file with environment variables read before the configuration")
	cmdRun.Flags().StringVar(&run.Tag, "tag", "", "publish this release tag instead of reading the release event")
	cmdRun.Flags().StringVar(&run.Ref, "ref", "", "target commitish of a manual release")
	cmdRun.Flags().BoolVar(&run.Trace, "trace", false, "trace http communication with the token service and the package index")
	cmdRun.Flags().BoolVar(&run.DryRun, "dry-run", false, "check out, set up and build, but neither archive nor publish")
	cmdRun.Flags().StringVar(&run.SummaryFile, "summary-file", "", "write a json summary of the run to this file")
	cmdRun.Flags().StringVar(&run.LogFeedURL, "log-feed-url", os.Getenv("RELEASE_PUBLISHER_INPUT_LOG_FEED_URL"), "stream the run log to this websocket feed")

	validateEnvironment := ""
	validateConfig := publisherconfiguration.DefaultConfigFile
	var cmdValidate = &cobra.Command{
		Use:   "validate [workflow files]",
		Short: "Check that workflows can publish releases with trusted publishing",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 {
				for _, pattern := range []string{".github/workflows/*.yml", ".github/workflows/*.yaml"} {
					matches, _ := filepath.Glob(pattern)
					args = append(args, matches...)
				}
				if len(args) == 0 {
					fmt.Println("No workflow files found")
					os.Exit(1)
				}
			}
			env := validateEnvironment
			if env == "" {
				if settings, err := publisherconfiguration.LoadSettings(validateConfig); err == nil {
					env = settings.Environment
				}
			}
			failed := false
			for _, path := range args {
				findings, err := workflowlint.LintFile(path, &workflowlint.Options{Environment: env})
				if err != nil {
					fmt.Printf("%v: %v\n", path, err.Error())
					failed = true
					continue
				}
				for _, f := range findings {
					fmt.Println(color.RedString(f.String()))
					failed = true
				}
			}
			if failed {
				os.Exit(1)
			}
			fmt.Println(color.GreenString("success"))
		},
	}
	cmdValidate.Flags().StringVar(&validateEnvironment, "environment", "", "deployment environment the publishing job must be bound to, defaults to the configured one")
	cmdValidate.Flags().StringVar(&validateConfig, "config", validateConfig, "publisher configuration file")

	initConfig := &publisherconfiguration.InitConfig{}
	initPath := publisherconfiguration.DefaultConfigFile
	var cmdInit = &cobra.Command{
		Use:   "init",
		Short: "Write a publisher configuration",
		Args:  cobra.MaximumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			settings, err := publisherconfiguration.LoadSettings(initPath)
			if err != nil {
				fmt.Printf("failed to configure: %v\n", err)
				os.Exit(1)
			}
			settings.ReadFromEnvironment()
			settings, err = initConfig.Configure(settings, &interactive{})
			if err == nil {
				err = settings.Save(initPath)
			}
			if err != nil {
				fmt.Printf("failed to configure: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("success\n")
		},
	}
	cmdInit.Flags().StringVar(&initConfig.Name, "name", "", "project name on the package index")
	cmdInit.Flags().StringVar(&initConfig.Environment, "environment", "", "deployment environment of the publishing job")
	cmdInit.Flags().BoolVar(&initConfig.Unattended, "unattended", false, "suppress shell prompts during init")
	cmdInit.Flags().StringVar(&initPath, "config", initPath, "configuration file to write")

	var rootCmd = &cobra.Command{
		Use:     "release-publisher",
		Version: version,
	}
	rootCmd.AddCommand(cmdRun, cmdValidate, cmdInit)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
