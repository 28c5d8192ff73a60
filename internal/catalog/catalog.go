// Package catalog describes the classifier modules brokerctl knows how to deploy.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yourorg/brokerctl/internal/bqschema"
)

// BrokerName is recorded as provenance by every module.
const BrokerName = "Pitt-Google Broker"

// DefaultRoute is the HTTP route the trigger subscription pushes to.
const DefaultRoute = "/"

// ErrUnknownModule is returned when a module name is not in the catalog.
var ErrUnknownModule = errors.New("unknown module")

// Module is a deployable Cloud Run classifier or filter.
type Module struct {
	Name           string           `json:"name" yaml:"name"`
	Description    string           `json:"description" yaml:"description"`
	TopicBase      string           `json:"topic_base,omitempty" yaml:"topic_base,omitempty"`
	Table          string           `json:"table,omitempty" yaml:"table,omitempty"`
	Route          string           `json:"route" yaml:"route"`
	Classifier     string           `json:"classifier,omitempty" yaml:"classifier,omitempty"`
	Version        string           `json:"version,omitempty" yaml:"version,omitempty"`
	DefaultSurvey  string           `json:"default_survey,omitempty" yaml:"default_survey,omitempty"`
	Schema         *bqschema.Schema `json:"schema,omitempty" yaml:"-"`
	AckDeadlineSec int              `json:"ack_deadline_seconds" yaml:"ack_deadline_seconds"`
}

// HasTable reports whether the module writes results to BigQuery.
func (m Module) HasTable() bool {
	return m.Table != "" && m.Schema.Len() > 0
}

// HasOutputTopic reports whether the module publishes results to Pub/Sub.
func (m Module) HasOutputTopic() bool {
	return m.TopicBase != ""
}

const defaultAckDeadline = 600

var modules = map[string]Module{
	"supernnova": {
		Name:           "supernnova",
		Description:    "SuperNNova Ia vs core-collapse classifier",
		TopicBase:      "SuperNNova",
		Table:          "SuperNNova",
		Route:          DefaultRoute,
		Classifier:     "SuperNNova_v1.3",
		Version:        "v0.6",
		DefaultSurvey:  "elasticc",
		AckDeadlineSec: defaultAckDeadline,
		Schema: bqschema.New(
			bqschema.Field{Name: "alertId", Type: bqschema.TypeInteger},
			bqschema.Field{Name: "diaObjectId", Type: bqschema.TypeInteger},
			bqschema.Field{Name: "diaSourceId", Type: bqschema.TypeInteger},
			bqschema.Field{Name: "prob_class0", Type: bqschema.TypeFloat},
			bqschema.Field{Name: "prob_class1", Type: bqschema.TypeFloat},
			bqschema.Field{Name: "predicted_class", Type: bqschema.TypeInteger},
			bqschema.Field{Name: "elasticcPublishTimestamp", Type: bqschema.TypeTimestamp},
			bqschema.Field{Name: "brokerIngestTimestamp", Type: bqschema.TypeTimestamp},
			bqschema.Field{Name: "classifierTimestamp", Type: bqschema.TypeTimestamp},
		),
	},
	"microlia": {
		Name:           "microlia",
		Description:    "MicroLIA microlensing classifier",
		TopicBase:      "MicroLIA",
		Table:          "MicroLIA",
		Route:          DefaultRoute,
		Classifier:     "MicroLIA_v2.6",
		Version:        "v0.6",
		DefaultSurvey:  "elasticc",
		AckDeadlineSec: defaultAckDeadline,
		Schema: bqschema.New(
			bqschema.Field{Name: "alertId", Type: bqschema.TypeInteger},
			bqschema.Field{Name: "diaObjectId", Type: bqschema.TypeInteger},
			bqschema.Field{Name: "diaSourceId", Type: bqschema.TypeInteger},
			bqschema.Field{Name: "prob_class0", Type: bqschema.TypeFloat},
			bqschema.Field{Name: "prob_class1", Type: bqschema.TypeFloat},
			bqschema.Field{Name: "prob_class2", Type: bqschema.TypeFloat},
			bqschema.Field{Name: "prob_class3", Type: bqschema.TypeFloat},
			bqschema.Field{Name: "predicted_class", Type: bqschema.TypeInteger},
			bqschema.Field{Name: "timestamp", Type: bqschema.TypeTimestamp},
		),
	},
	"filtering": {
		Name:           "filtering",
		Description:    "LSST stream filter for intra-night, never-before-seen transients",
		Route:          DefaultRoute,
		DefaultSurvey:  "lsst",
		AckDeadlineSec: defaultAckDeadline,
	},
}

// Lookup returns the module registered under name, ignoring case.
func Lookup(name string) (Module, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	m, ok := modules[key]
	if !ok {
		return Module{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownModule, name, strings.Join(Names(), ", "))
	}
	return m, nil
}

// Names returns the registered module names in sorted order.
func Names() []string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered module sorted by name.
func All() []Module {
	out := make([]Module, 0, len(modules))
	for _, name := range Names() {
		out = append(out, modules[name])
	}
	return out
}

// WithSchema returns a copy of m that writes rows using s.
func (m Module) WithSchema(s *bqschema.Schema) Module {
	m.Schema = s
	return m
}

// Env returns the container environment for a deployment.
func Env(project, survey, testid string) map[string]string {
	return map[string]string{
		"GCP_PROJECT": project,
		"SURVEY":      survey,
		"TESTID":      testid,
	}
}
