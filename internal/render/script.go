package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"

	"github.com/yourorg/brokerctl/internal/deploy"
	"github.com/yourorg/brokerctl/internal/gcloud"
)

const (
	heredocMarker   = "BROKERCTL_EOF"
	scriptOutputVar = "brokerctl_out"
)

// Script writes plan as a bash script that performs the same steps.
// A tolerated step only continues when its stderr carries the tolerated reason.
func Script(w io.Writer, plan deploy.Plan) error {
	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\n")
	fmt.Fprintf(&b, "# brokerctl %s %s (project=%s survey=%s testid=%s)\n",
		plan.Action, plan.Module, plan.Names.Project, plan.Names.Survey, plan.Names.EnvTestID())
	b.WriteString("set -euo pipefail\n")

	stage := -1
	for _, step := range plan.Steps {
		if plan.Action == deploy.ActionTeardown && step.Stage != stage {
			stage = step.Stage
			fmt.Fprintf(&b, "\n# stage %d\n", stage)
		}
		b.WriteString("\n# " + step.Name + "\n")

		if step.File != nil {
			fmt.Fprintf(&b, "mkdir -p \"$(dirname %s)\"\n", shellescape.Quote(step.File.Path))
			fmt.Fprintf(&b, "cat > %s <<'%s'\n", shellescape.Quote(step.File.Path), heredocMarker)
			b.WriteString(step.File.Content)
			if !strings.HasSuffix(step.File.Content, "\n") {
				b.WriteString("\n")
			}
			b.WriteString(heredocMarker + "\n")
		}

		line := step.Command.ScriptString()
		switch {
		case step.Output != "":
			fmt.Fprintf(&b, "%s=$(%s)\n", step.Output, line)
		case step.Tolerate != "":
			writeTolerated(&b, line, step.Tolerate)
		default:
			b.WriteString(line + "\n")
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	return nil
}

// writeTolerated runs line and fails the script unless its output matches reason.
func writeTolerated(b *strings.Builder, line string, reason gcloud.Reason) {
	pattern := shellescape.Quote(strings.Join(gcloud.Markers(reason), "|"))
	fmt.Fprintf(b, "if ! %s=$(%s 2>&1); then  # tolerates %s\n", scriptOutputVar, line, reason)
	fmt.Fprintf(b, "  grep -qiE %s <<<\"$%s\" || { printf '%%s\\n' \"$%s\" >&2; exit 1; }\n",
		pattern, scriptOutputVar, scriptOutputVar)
	b.WriteString("fi\n")
}

// PlanTable renders plan steps as table rows.
func PlanTable(w io.Writer, plan deploy.Plan) error {
	rows := make([][]string, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(step.Stage),
			step.Name,
			step.Command.String(),
		})
	}
	return Table(w, []string{"#", "STAGE", "STEP", "COMMAND"}, rows)
}

// ReportTable renders an execution report as table rows.
func ReportTable(w io.Writer, report deploy.Report) error {
	rows := make([][]string, 0, len(report.Steps))
	for _, res := range report.Steps {
		detail := res.Output
		if res.Error != "" {
			detail = res.Error
		}
		rows = append(rows, []string{
			res.Name,
			string(res.Outcome),
			res.Duration.Round(time.Millisecond).String(),
			detail,
		})
	}
	return Table(w, []string{"STEP", "OUTCOME", "DURATION", "DETAIL"}, rows)
}
