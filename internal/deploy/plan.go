// Package deploy turns a module and its resource names into ordered gcloud/bq steps and runs them.
package deploy

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yourorg/brokerctl/internal/catalog"
	"github.com/yourorg/brokerctl/internal/gcloud"
	"github.com/yourorg/brokerctl/internal/naming"
)

// Action selects what a plan does.
type Action string

// Plan actions.
const (
	ActionSetup    Action = "setup"
	ActionTeardown Action = "teardown"
)

// ServiceURLVar holds the Cloud Run URL captured during setup.
const ServiceURLVar = "SERVICE_URL"

const (
	defaultMaxDeliveryAttempts = 5
	defaultBigQueryLocation    = "US"
)

// ErrProductionTeardown guards production resources from teardown.
var ErrProductionTeardown = errors.New("refusing to tear down production resources: supply a testid other than False")

// File is written to disk before its step runs.
type File struct {
	Path    string `json:"path" yaml:"path"`
	Content string `json:"content" yaml:"content"`
}

// Step is one CLI invocation within a plan.
type Step struct {
	Name     string         `json:"name" yaml:"name"`
	Command  gcloud.Command `json:"command" yaml:"command"`
	File     *File          `json:"file,omitempty" yaml:"file,omitempty"`
	Tolerate gcloud.Reason  `json:"tolerate,omitempty" yaml:"tolerate,omitempty"`
	Output   string         `json:"output,omitempty" yaml:"output,omitempty"`
	Stage    int            `json:"stage" yaml:"stage"`
}

// Plan is the ordered list of steps for one action on one module.
type Plan struct {
	Action Action       `json:"action" yaml:"action"`
	Module string       `json:"module" yaml:"module"`
	Names  naming.Names `json:"names" yaml:"names"`
	Steps  []Step       `json:"steps" yaml:"steps"`
}

// Options tunes plan construction.
type Options struct {
	SourceDir           string
	WorkDir             string
	BigQueryLocation    string
	MaxDeliveryAttempts int
	SkipBuild           bool
	IncludeShared       bool
}

func (o Options) withDefaults() Options {
	if o.SourceDir == "" {
		o.SourceDir = "."
	}
	if o.BigQueryLocation == "" {
		o.BigQueryLocation = defaultBigQueryLocation
	}
	if o.MaxDeliveryAttempts <= 0 {
		o.MaxDeliveryAttempts = defaultMaxDeliveryAttempts
	}
	return o
}

// Stages returns the distinct stage numbers in ascending order.
func (p Plan) Stages() []int {
	var stages []int
	seen := map[int]struct{}{}
	for _, s := range p.Steps {
		if _, ok := seen[s.Stage]; ok {
			continue
		}
		seen[s.Stage] = struct{}{}
		stages = append(stages, s.Stage)
	}
	sort.Ints(stages)
	return stages
}

// PlanSetup builds the provisioning steps for module.
func PlanSetup(names naming.Names, module catalog.Module, opts Options) (Plan, error) {
	opts = opts.withDefaults()
	plan := Plan{Action: ActionSetup, Module: module.Name, Names: names}
	add := func(s Step) { plan.Steps = append(plan.Steps, s) }
	project := names.Project

	if module.HasTable() {
		if err := module.Schema.Validate(); err != nil {
			return Plan{}, fmt.Errorf("%s table schema: %w", module.Name, err)
		}
		content, err := module.Schema.Indented()
		if err != nil {
			return Plan{}, err
		}
		schemaPath := filepath.Join(opts.WorkDir, fmt.Sprintf("bq_%s_%s.json", names.Dataset, strings.ToLower(names.Table)))

		add(Step{
			Name:     "create BigQuery dataset " + names.Dataset,
			Command:  gcloud.DatasetCreate(project, opts.BigQueryLocation, names.DatasetID()),
			Tolerate: gcloud.ReasonAlreadyExists,
		})
		add(Step{
			Name:     "create BigQuery table " + names.TableID(),
			Command:  gcloud.TableCreate(project, names.TableID(), schemaPath),
			File:     &File{Path: schemaPath, Content: string(content)},
			Tolerate: gcloud.ReasonAlreadyExists,
		})
	}

	if module.HasOutputTopic() {
		add(Step{
			Name:     "create output topic " + names.OutputTopic,
			Command:  gcloud.TopicCreate(project, names.OutputTopic),
			Tolerate: gcloud.ReasonAlreadyExists,
		})
	}

	add(Step{
		Name:     "create dead-letter topic " + names.DeadLetterTopic,
		Command:  gcloud.TopicCreate(project, names.DeadLetterTopic),
		Tolerate: gcloud.ReasonAlreadyExists,
	})
	add(Step{
		Name:     "create dead-letter subscription " + names.DeadLetterTopic,
		Command:  gcloud.SubscriptionCreate(project, names.DeadLetterTopic, names.DeadLetterTopic),
		Tolerate: gcloud.ReasonAlreadyExists,
	})
	add(Step{
		Name:     "create Artifact Registry repository " + names.Repository,
		Command:  gcloud.RepositoryCreate(project, names.Region, names.Repository),
		Tolerate: gcloud.ReasonAlreadyExists,
	})

	if !opts.SkipBuild {
		add(Step{
			Name:    "build image " + names.Image,
			Command: gcloud.BuildSubmit(project, opts.SourceDir, names.Image),
		})
	}

	add(Step{
		Name: "deploy Cloud Run service " + names.Service,
		Command: gcloud.ServiceDeployCommand(gcloud.ServiceDeploy{
			Project: project,
			Region:  names.Region,
			Service: names.Service,
			Image:   names.Image,
			Env:     catalog.Env(project, names.Survey, names.EnvTestID()),
		}),
	})
	add(Step{
		Name:    "resolve service URL",
		Command: gcloud.ServiceURL(project, names.Region, names.Service),
		Output:  ServiceURLVar,
	})
	add(Step{
		Name: "grant run.invoker to " + names.InvokerAccount,
		Command: gcloud.ServiceInvokerBinding(project, names.Region, names.Service,
			gcloud.ServiceAccountMember(names.InvokerAccount)),
	})
	add(Step{
		Name: "create trigger subscription " + names.TriggerSubscription,
		Command: gcloud.PushSubscriptionCreate(gcloud.PushSubscription{
			Project:             project,
			Name:                names.TriggerSubscription,
			Topic:               names.TriggerTopic,
			TopicProject:        names.TriggerTopicProject,
			Endpoint:            gcloud.Placeholder(ServiceURLVar) + module.Route,
			AuthAccount:         names.InvokerAccount,
			DeadLetterTopic:     names.DeadLetterTopic,
			AckDeadlineSeconds:  module.AckDeadlineSec,
			MaxDeliveryAttempts: opts.MaxDeliveryAttempts,
		}),
		Tolerate: gcloud.ReasonAlreadyExists,
	})

	return plan, nil
}

// PlanTeardown builds the deletion steps for module. Production names are refused.
func PlanTeardown(names naming.Names, module catalog.Module, opts Options) (Plan, error) {
	if names.Production || naming.IsProduction(names.TestID) {
		return Plan{}, ErrProductionTeardown
	}
	opts = opts.withDefaults()
	plan := Plan{Action: ActionTeardown, Module: module.Name, Names: names}
	add := func(stage int, name string, cmd gcloud.Command) {
		plan.Steps = append(plan.Steps, Step{
			Name:     name,
			Command:  cmd,
			Stage:    stage,
			Tolerate: gcloud.ReasonNotFound,
		})
	}
	project := names.Project

	add(0, "delete trigger subscription "+names.TriggerSubscription,
		gcloud.SubscriptionDelete(project, names.TriggerSubscription))
	add(0, "delete Cloud Run service "+names.Service,
		gcloud.ServiceDelete(project, names.Region, names.Service))

	if module.HasOutputTopic() {
		add(1, "delete output topic "+names.OutputTopic, gcloud.TopicDelete(project, names.OutputTopic))
	}
	if module.Table != "" {
		add(1, "delete BigQuery table "+names.TableID(), gcloud.TableDelete(project, names.TableID()))
	}

	if opts.IncludeShared {
		add(2, "delete dead-letter subscription "+names.DeadLetterTopic,
			gcloud.SubscriptionDelete(project, names.DeadLetterTopic))
		add(2, "delete dead-letter topic "+names.DeadLetterTopic,
			gcloud.TopicDelete(project, names.DeadLetterTopic))
		add(2, "delete Artifact Registry repository "+names.Repository,
			gcloud.RepositoryDelete(project, names.Region, names.Repository))
		add(2, "delete BigQuery dataset "+names.Dataset,
			gcloud.DatasetDelete(project, names.DatasetID()))
	}

	return plan, nil
}
