package render_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/yourorg/brokerctl/internal/catalog"
	"github.com/yourorg/brokerctl/internal/deploy"
	"github.com/yourorg/brokerctl/internal/naming"
	"github.com/yourorg/brokerctl/internal/render"
)

func TestParseFormat(t *testing.T) {
	got, err := render.ParseFormat("", render.FormatTable, render.FormatJSON)
	if err != nil || got != render.FormatTable {
		t.Fatalf("ParseFormat(\"\") = %q, %v", got, err)
	}
	got, err = render.ParseFormat(" YAML ")
	if err != nil || got != render.FormatYAML {
		t.Fatalf("ParseFormat(YAML) = %q, %v", got, err)
	}
	if _, err := render.ParseFormat("script", render.FormatTable, render.FormatJSON); err == nil {
		t.Fatalf("expected error for disallowed format")
	}
}

func TestTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	if err := render.Table(&buf, []string{"NAME", "TOPIC"}, [][]string{{"supernnova", "SuperNNova"}, {"filtering", ""}}); err != nil {
		t.Fatalf("Table returned error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if strings.Index(lines[0], "TOPIC") != strings.Index(lines[1], "SuperNNova") {
		t.Fatalf("columns not aligned:\n%s", buf.String())
	}
}

func TestYAMLUsesTags(t *testing.T) {
	var buf bytes.Buffer
	v := struct {
		Dataset string `yaml:"dataset"`
	}{Dataset: "elasticc_alerts_t1"}
	if err := render.Structured(&buf, render.FormatYAML, v); err != nil {
		t.Fatalf("Structured returned error: %v", err)
	}
	if buf.String() != "dataset: elasticc_alerts_t1\n" {
		t.Fatalf("unexpected yaml: %q", buf.String())
	}
}

func setupPlan(t *testing.T) deploy.Plan {
	t.Helper()
	module, err := catalog.Lookup("supernnova")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	names, err := naming.Resolve(naming.Input{
		Project:   "my-broker-project",
		Region:    "us-central1",
		Survey:    "elasticc",
		TestID:    "t1",
		Module:    module.Name,
		TopicBase: module.TopicBase,
		Table:     module.Table,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	plan, err := deploy.PlanSetup(names, module, deploy.Options{WorkDir: "/tmp/brokerctl"})
	if err != nil {
		t.Fatalf("PlanSetup: %v", err)
	}
	return plan
}

func TestScriptCapturesServiceURL(t *testing.T) {
	var buf bytes.Buffer
	if err := render.Script(&buf, setupPlan(t)); err != nil {
		t.Fatalf("Script returned error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"#!/usr/bin/env bash\n",
		"set -euo pipefail\n",
		"cat > /tmp/brokerctl/bq_elasticc_alerts_t1_supernnova.json <<'BROKERCTL_EOF'\n",
		"SERVICE_URL=$(gcloud run services describe elasticc-supernnova-t1",
		`"--push-endpoint=${SERVICE_URL}/"`,
		"if ! brokerctl_out=$(bq --project_id=my-broker-project mk --dataset --location=US my-broker-project:elasticc_alerts_t1 2>&1); then  # tolerates already_exists\n",
		"  grep -qiE 'already_exists|already exists|",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("script missing %q:\n%s", want, out)
		}
	}
}

func TestScriptToleratesOnlyMatchingFailures(t *testing.T) {
	plan := setupPlan(t)
	teardown, err := deploy.PlanTeardown(plan.Names, mustModule(t, "supernnova"), deploy.Options{})
	if err != nil {
		t.Fatalf("PlanTeardown: %v", err)
	}

	var buf bytes.Buffer
	if err := render.Script(&buf, teardown); err != nil {
		t.Fatalf("Script returned error: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "|| true") {
		t.Fatalf("script should not swallow every failure:\n%s", out)
	}
	for _, want := range []string{
		"# tolerates not_found\n",
		"could not be found",
		`|| { printf '%s\n' "$brokerctl_out" >&2; exit 1; }`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("script missing %q:\n%s", want, out)
		}
	}
}

func mustModule(t *testing.T, name string) catalog.Module {
	t.Helper()
	module, err := catalog.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return module
}

func TestPlanTableListsSteps(t *testing.T) {
	plan := setupPlan(t)
	var buf bytes.Buffer
	if err := render.PlanTable(&buf, plan); err != nil {
		t.Fatalf("PlanTable returned error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != len(plan.Steps)+1 {
		t.Fatalf("got %d lines, want %d", len(lines), len(plan.Steps)+1)
	}
}
