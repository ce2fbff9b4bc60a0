// Package workflowlint checks that a workflow can publish releases with trusted publishing.
package workflowlint

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rhysd/actionlint"
)

const (
	KindSyntax     = "syntax"
	KindTrigger    = "release-trigger"
	KindPermission = "id-token"
	KindEnv        = "environment"
)

type Finding struct {
	Path    string
	Line    int
	Column  int
	Kind    string
	Message string
}

func (f *Finding) String() string {
	return fmt.Sprintf("%v:%d:%d: %v [%v]", f.Path, f.Line, f.Column, f.Message, f.Kind)
}

type Options struct {
	// Environment requires a publishing job bound to this deployment environment
	Environment string
}

// LintFile reads and checks the workflow at path
func LintFile(path string, opts *Options) ([]*Finding, error) {
	//nolint:gosec // Path is given on the command line
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Lint(path, src, opts)
}

// Lint runs actionlint on src and verifies the release trigger, the id-token permission and the environment binding
func Lint(path string, src []byte, opts *Options) ([]*Finding, error) {
	if opts == nil {
		opts = &Options{}
	}
	linter, err := actionlint.NewLinter(io.Discard, &actionlint.LinterOptions{})
	if err != nil {
		return nil, err
	}
	errs, err := linter.Lint(path, src, nil)
	if err != nil {
		return nil, err
	}
	findings := make([]*Finding, 0, len(errs))
	for _, e := range errs {
		findings = append(findings, &Finding{Path: path, Line: e.Line, Column: e.Column, Kind: KindSyntax, Message: e.Message})
	}
	workflow, parseErrs := actionlint.Parse(src)
	if workflow == nil || len(parseErrs) > 0 {
		return findings, nil
	}
	findings = append(findings, checkTrustedPublishing(path, workflow, opts)...)
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		return findings[i].Column < findings[j].Column
	})
	return findings, nil
}

func position(pos *actionlint.Pos) (int, int) {
	if pos == nil {
		return 1, 1
	}
	return pos.Line, pos.Col
}

func newFinding(path string, pos *actionlint.Pos, kind, format string, a ...interface{}) *Finding {
	line, col := position(pos)
	return &Finding{Path: path, Line: line, Column: col, Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// releaseTrigger reports whether the workflow runs for published releases
func releaseTrigger(workflow *actionlint.Workflow) (found bool, published bool, pos *actionlint.Pos) {
	for _, on := range workflow.On {
		hook, ok := on.(*actionlint.WebhookEvent)
		if !ok || hook.Hook == nil || hook.Hook.Value != "release" {
			continue
		}
		found = true
		pos = hook.Pos
		if len(hook.Types) == 0 {
			return true, true, pos
		}
		for _, ty := range hook.Types {
			if ty != nil && ty.Value == "published" {
				return true, true, pos
			}
		}
	}
	return found, false, pos
}

func grantsIDToken(perms *actionlint.Permissions) (granted bool, explicit bool) {
	if perms == nil {
		return false, false
	}
	if perms.All != nil {
		return perms.All.Value == "write-all", true
	}
	if scope, ok := perms.Scopes["id-token"]; ok && scope != nil && scope.Value != nil {
		return scope.Value.Value == "write", true
	}
	return false, true
}

func jobName(id string, job *actionlint.Job) string {
	if job.ID != nil {
		return job.ID.Value
	}
	return id
}

func checkTrustedPublishing(path string, workflow *actionlint.Workflow, opts *Options) []*Finding {
	var findings []*Finding
	found, published, pos := releaseTrigger(workflow)
	switch {
	case !found:
		findings = append(findings, newFinding(path, nil, KindTrigger, "workflow is not triggered by the release event"))
	case !published:
		findings = append(findings, newFinding(path, pos, KindTrigger, "release trigger does not include the published activity type"))
	}

	workflowGrant, _ := grantsIDToken(workflow.Permissions)
	ids := make([]string, 0, len(workflow.Jobs))
	for id := range workflow.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var publishing []string
	for _, id := range ids {
		job := workflow.Jobs[id]
		granted, explicit := grantsIDToken(job.Permissions)
		if !explicit {
			granted = workflowGrant
		}
		if granted {
			publishing = append(publishing, id)
		}
		if !granted || opts.Environment == "" {
			continue
		}
		if job.Environment == nil || job.Environment.Name == nil {
			findings = append(findings, newFinding(path, job.Pos, KindEnv, "job %q can request identity tokens but is not bound to environment %q", jobName(id, job), opts.Environment))
		} else if env := job.Environment.Name.Value; env != opts.Environment && !strings.Contains(env, "${{") {
			findings = append(findings, newFinding(path, job.Environment.Name.Pos, KindEnv, "job %q is bound to environment %q, publishing requires %q", jobName(id, job), env, opts.Environment))
		}
	}
	if len(publishing) == 0 {
		findings = append(findings, newFinding(path, nil, KindPermission, "no job is granted the id-token: write permission"))
	}
	return findings
}
