// Package naming derives Google Cloud resource names for a broker module deployment.
package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ProductionTestID is the testid value that marks a production deployment.
const ProductionTestID = "False"

const (
	datasetSuffix        = "_alerts"
	deadLetterBase       = "deadletter"
	registryBase         = "cloud-run-services"
	triggerBase          = "alerts"
	triggerSubSuffix     = "trigger"
	invokerAccountID     = "cloud-run-invoker"
	imageTag             = "latest"
	maxServiceNameLength = 49
	minPubSubIDLength    = 3
	maxPubSubIDLength    = 255
	maxDatasetIDLength   = 1024
	maxRegistryIDLength  = 63
)

var (
	testIDPattern   = regexp.MustCompile(`^[a-z0-9]+$`)
	surveyPattern   = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	pubsubPattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9\-_.~+%]*$`)
	servicePattern  = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)
	datasetPattern  = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	registryPattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)
	projectPattern  = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)
)

// ValidationError reports a derived or supplied name that breaks a cloud naming rule.
type ValidationError struct {
	Resource string
	Name     string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s name %q: %s", e.Resource, e.Name, e.Reason)
}

// IsProduction reports whether testid selects production resources.
func IsProduction(testid string) bool {
	testid = strings.TrimSpace(testid)
	return testid == "" || strings.EqualFold(testid, ProductionTestID)
}

// Input collects everything a deployment name depends on.
type Input struct {
	Project             string
	Region              string
	Survey              string
	TestID              string
	Module              string
	TopicBase           string
	Table               string
	TriggerTopic        string
	TriggerTopicProject string
	InvokerAccount      string
}

// Names is the full set of resources a module deployment touches.
type Names struct {
	Project             string `json:"project" yaml:"project"`
	Region              string `json:"region" yaml:"region"`
	Survey              string `json:"survey" yaml:"survey"`
	TestID              string `json:"testid" yaml:"testid"`
	Module              string `json:"module" yaml:"module"`
	Production          bool   `json:"production" yaml:"production"`
	Dataset             string `json:"dataset" yaml:"dataset"`
	Table               string `json:"table,omitempty" yaml:"table,omitempty"`
	OutputTopic         string `json:"output_topic,omitempty" yaml:"output_topic,omitempty"`
	Service             string `json:"service" yaml:"service"`
	TriggerTopic        string `json:"trigger_topic" yaml:"trigger_topic"`
	TriggerTopicProject string `json:"trigger_topic_project" yaml:"trigger_topic_project"`
	TriggerSubscription string `json:"trigger_subscription" yaml:"trigger_subscription"`
	DeadLetterTopic     string `json:"deadletter_topic" yaml:"deadletter_topic"`
	Repository          string `json:"repository" yaml:"repository"`
	Image               string `json:"image" yaml:"image"`
	InvokerAccount      string `json:"invoker_account" yaml:"invoker_account"`
}

// Resolve derives and validates every resource name for in.
func Resolve(in Input) (Names, error) {
	if err := validateInput(in); err != nil {
		return Names{}, err
	}

	prod := IsProduction(in.TestID)
	testid := strings.TrimSpace(in.TestID)
	if prod {
		testid = ProductionTestID
	}

	n := Names{
		Project:    in.Project,
		Region:     in.Region,
		Survey:     in.Survey,
		TestID:     testid,
		Module:     in.Module,
		Production: prod,
	}

	n.Dataset = WithTestIDUnderscore(DatasetBase(in.Survey), testid)
	n.Table = in.Table
	if in.TopicBase != "" {
		n.OutputTopic = WithTestID(in.Survey+"-"+in.TopicBase, testid)
	}
	n.Service = WithTestID(in.Survey+"-"+in.Module, testid)
	n.TriggerSubscription = WithTestID(in.Survey+"-"+in.Module+"-"+triggerSubSuffix, testid)
	n.DeadLetterTopic = WithTestID(in.Survey+"-"+deadLetterBase, testid)
	n.Repository = WithTestID(in.Survey+"-"+registryBase, testid)
	n.Image = fmt.Sprintf("%s-docker.pkg.dev/%s/%s/%s:%s", in.Region, in.Project, n.Repository, in.Module, imageTag)

	n.TriggerTopic = strings.TrimSpace(in.TriggerTopic)
	if n.TriggerTopic == "" {
		n.TriggerTopic = WithTestID(in.Survey+"-"+triggerBase, testid)
	}
	n.TriggerTopicProject = strings.TrimSpace(in.TriggerTopicProject)
	if n.TriggerTopicProject == "" {
		n.TriggerTopicProject = in.Project
	}
	n.InvokerAccount = strings.TrimSpace(in.InvokerAccount)
	if n.InvokerAccount == "" {
		n.InvokerAccount = InvokerAccount(in.Project)
	}

	if err := n.Validate(); err != nil {
		return Names{}, err
	}
	return n, nil
}

// WithTestID appends "-<testid>" to base unless testid is production.
func WithTestID(base, testid string) string {
	if IsProduction(testid) {
		return base
	}
	return base + "-" + strings.TrimSpace(testid)
}

// WithTestIDUnderscore appends "_<testid>" to base unless testid is production.
// BigQuery dataset ids do not allow hyphens.
func WithTestIDUnderscore(base, testid string) string {
	if IsProduction(testid) {
		return base
	}
	return base + "_" + strings.TrimSpace(testid)
}

// DatasetBase returns the production dataset id for survey. Hyphens become
// underscores because BigQuery dataset ids do not allow them.
func DatasetBase(survey string) string {
	return strings.ReplaceAll(survey, "-", "_") + datasetSuffix
}

// InvokerAccount returns the service account Pub/Sub uses to call Cloud Run.
func InvokerAccount(project string) string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", invokerAccountID, project)
}

// TableID returns the bq CLI form project:dataset.table.
func (n Names) TableID() string {
	return fmt.Sprintf("%s:%s.%s", n.Project, n.Dataset, n.Table)
}

// TableSQLID returns the SQL form project.dataset.table.
func (n Names) TableSQLID() string {
	return fmt.Sprintf("%s.%s.%s", n.Project, n.Dataset, n.Table)
}

// DatasetID returns the bq CLI form project:dataset.
func (n Names) DatasetID() string {
	return n.Project + ":" + n.Dataset
}

// EnvTestID is the TESTID value the container expects.
func (n Names) EnvTestID() string {
	if n.Production {
		return ProductionTestID
	}
	return n.TestID
}

// Validate checks every derived name against the cloud naming rules.
func (n Names) Validate() error {
	var errs []error
	check := func(resource, name string, fn func(string) string) {
		if name == "" {
			return
		}
		if reason := fn(name); reason != "" {
			errs = append(errs, &ValidationError{Resource: resource, Name: name, Reason: reason})
		}
	}

	if n.Table != "" {
		check("dataset", n.Dataset, datasetRule)
		check("table", n.Table, datasetRule)
	}
	check("output topic", n.OutputTopic, pubsubRule)
	check("trigger topic", n.TriggerTopic, pubsubRule)
	check("trigger subscription", n.TriggerSubscription, pubsubRule)
	check("dead-letter topic", n.DeadLetterTopic, pubsubRule)
	check("service", n.Service, serviceRule)
	check("repository", n.Repository, registryRule)

	return errors.Join(errs...)
}

func validateInput(in Input) error {
	var errs []error
	if in.Project == "" {
		errs = append(errs, errors.New("project is required (set --project, the profile, or GOOGLE_CLOUD_PROJECT)"))
	} else if !projectPattern.MatchString(in.Project) {
		errs = append(errs, &ValidationError{
			Resource: "project",
			Name:     in.Project,
			Reason:   "must be 6-30 lowercase letters, digits or hyphens",
		})
	}
	if in.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if !surveyPattern.MatchString(in.Survey) {
		errs = append(errs, &ValidationError{
			Resource: "survey",
			Name:     in.Survey,
			Reason:   "must start with a lowercase letter and contain only lowercase letters, digits or hyphens",
		})
	}
	if in.Module == "" {
		errs = append(errs, errors.New("module is required"))
	}
	if !IsProduction(in.TestID) && !testIDPattern.MatchString(strings.TrimSpace(in.TestID)) {
		errs = append(errs, &ValidationError{
			Resource: "testid",
			Name:     in.TestID,
			Reason:   "must contain only lowercase letters and digits",
		})
	}
	if in.TriggerTopicProject != "" && !projectPattern.MatchString(in.TriggerTopicProject) {
		errs = append(errs, &ValidationError{
			Resource: "trigger topic project",
			Name:     in.TriggerTopicProject,
			Reason:   "must be 6-30 lowercase letters, digits or hyphens",
		})
	}
	return errors.Join(errs...)
}

func pubsubRule(name string) string {
	switch {
	case len(name) < minPubSubIDLength || len(name) > maxPubSubIDLength:
		return fmt.Sprintf("must be %d-%d characters", minPubSubIDLength, maxPubSubIDLength)
	case strings.HasPrefix(strings.ToLower(name), "goog"):
		return `must not start with "goog"`
	case !pubsubPattern.MatchString(name):
		return "must start with a letter and use letters, digits, or -_.~+%"
	}
	return ""
}

func serviceRule(name string) string {
	switch {
	case len(name) > maxServiceNameLength:
		return fmt.Sprintf("must be at most %d characters", maxServiceNameLength)
	case !servicePattern.MatchString(name):
		return "must be lowercase letters, digits or hyphens, start with a letter and not end with a hyphen"
	}
	return ""
}

func datasetRule(name string) string {
	switch {
	case len(name) > maxDatasetIDLength:
		return fmt.Sprintf("must be at most %d characters", maxDatasetIDLength)
	case !datasetPattern.MatchString(name):
		return "must contain only letters, digits or underscores"
	}
	return ""
}

func registryRule(name string) string {
	switch {
	case len(name) > maxRegistryIDLength:
		return fmt.Sprintf("must be at most %d characters", maxRegistryIDLength)
	case !registryPattern.MatchString(name):
		return "must be lowercase letters, digits or hyphens and start with a letter"
	}
	return ""
}
