// Package gcloud builds and runs the gcloud and bq invocations used to manage broker resources.
package gcloud

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// Supported tools.
const (
	ToolGcloud = "gcloud"
	ToolBQ     = "bq"
)

// Command is a single CLI invocation.
type Command struct {
	Tool string   `json:"tool" yaml:"tool"`
	Args []string `json:"args" yaml:"args"`
}

// String renders the command as a shell-quoted line.
func (c Command) String() string {
	return shellescape.QuoteCommand(append([]string{c.Tool}, c.Args...))
}

// ScriptString renders the command for a bash script. Arguments holding ${NAME}
// placeholders are double-quoted so the shell expands them.
func (c Command) ScriptString() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, shellescape.Quote(c.Tool))
	for _, arg := range c.Args {
		if strings.Contains(arg, "${") {
			parts = append(parts, doubleQuote(arg))
			continue
		}
		parts = append(parts, shellescape.Quote(arg))
	}
	return strings.Join(parts, " ")
}

func doubleQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`")
	return `"` + r.Replace(s) + `"`
}

// Expand returns a copy of c with ${NAME} placeholders replaced from vars.
func (c Command) Expand(vars map[string]string) Command {
	if len(vars) == 0 {
		return c
	}
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		for name, value := range vars {
			arg = strings.ReplaceAll(arg, Placeholder(name), value)
		}
		args[i] = arg
	}
	return Command{Tool: c.Tool, Args: args}
}

// Placeholder returns the ${NAME} token used for captured outputs.
func Placeholder(name string) string {
	return "${" + name + "}"
}

func gcloud(project string, args ...string) Command {
	return Command{Tool: ToolGcloud, Args: append(args, "--project="+project)}
}

func bq(project string, args ...string) Command {
	return Command{Tool: ToolBQ, Args: append([]string{"--project_id=" + project}, args...)}
}

// TopicCreate creates a Pub/Sub topic.
func TopicCreate(project, topic string) Command {
	return gcloud(project, "pubsub", "topics", "create", topic)
}

// TopicDelete deletes a Pub/Sub topic.
func TopicDelete(project, topic string) Command {
	return gcloud(project, "pubsub", "topics", "delete", topic, "--quiet")
}

// SubscriptionCreate creates a pull subscription on topic.
func SubscriptionCreate(project, name, topic string) Command {
	return gcloud(project, "pubsub", "subscriptions", "create", name, "--topic="+topic)
}

// SubscriptionDelete deletes a Pub/Sub subscription.
func SubscriptionDelete(project, name string) Command {
	return gcloud(project, "pubsub", "subscriptions", "delete", name, "--quiet")
}

// PushSubscription describes the trigger subscription that pushes alerts to Cloud Run.
type PushSubscription struct {
	Project             string
	Name                string
	Topic               string
	TopicProject        string
	Endpoint            string
	AuthAccount         string
	DeadLetterTopic     string
	AckDeadlineSeconds  int
	MaxDeliveryAttempts int
}

// PushSubscriptionCreate creates an authenticated push subscription.
func PushSubscriptionCreate(s PushSubscription) Command {
	args := []string{
		"pubsub", "subscriptions", "create", s.Name,
		"--topic=" + s.Topic,
	}
	if s.TopicProject != "" && s.TopicProject != s.Project {
		args = append(args, "--topic-project="+s.TopicProject)
	}
	if s.AckDeadlineSeconds > 0 {
		args = append(args, "--ack-deadline="+strconv.Itoa(s.AckDeadlineSeconds))
	}
	args = append(args, "--push-endpoint="+s.Endpoint)
	if s.AuthAccount != "" {
		args = append(args, "--push-auth-service-account="+s.AuthAccount)
	}
	if s.DeadLetterTopic != "" {
		args = append(args, "--dead-letter-topic="+s.DeadLetterTopic)
		if s.MaxDeliveryAttempts > 0 {
			args = append(args, "--max-delivery-attempts="+strconv.Itoa(s.MaxDeliveryAttempts))
		}
	}
	return gcloud(s.Project, args...)
}

// RepositoryCreate creates a Docker Artifact Registry repository.
func RepositoryCreate(project, location, repo string) Command {
	return gcloud(project, "artifacts", "repositories", "create", repo,
		"--repository-format=docker",
		"--location="+location,
	)
}

// RepositoryDelete deletes an Artifact Registry repository and its images.
func RepositoryDelete(project, location, repo string) Command {
	return gcloud(project, "artifacts", "repositories", "delete", repo,
		"--location="+location,
		"--quiet",
	)
}

// BuildSubmit builds sourceDir with Cloud Build and pushes it as image.
func BuildSubmit(project, sourceDir, image string) Command {
	return gcloud(project, "builds", "submit", sourceDir, "--tag="+image)
}

// ServiceDeploy describes a Cloud Run deployment.
type ServiceDeploy struct {
	Project string
	Region  string
	Service string
	Image   string
	Env     map[string]string
}

// ServiceDeployCommand deploys an image to Cloud Run without public access.
func ServiceDeployCommand(d ServiceDeploy) Command {
	args := []string{
		"run", "deploy", d.Service,
		"--image=" + d.Image,
		"--region=" + d.Region,
		"--no-allow-unauthenticated",
	}
	if env := formatEnv(d.Env); env != "" {
		args = append(args, "--set-env-vars="+env)
	}
	args = append(args, "--quiet")
	return gcloud(d.Project, args...)
}

// ServiceURL prints the URL of a Cloud Run service.
func ServiceURL(project, region, service string) Command {
	return gcloud(project, "run", "services", "describe", service,
		"--region="+region,
		"--format=value(status.url)",
	)
}

// ServiceInvokerBinding grants member permission to invoke a Cloud Run service.
func ServiceInvokerBinding(project, region, service, member string) Command {
	return gcloud(project, "run", "services", "add-iam-policy-binding", service,
		"--region="+region,
		"--member="+member,
		"--role=roles/run.invoker",
	)
}

// ServiceDelete deletes a Cloud Run service.
func ServiceDelete(project, region, service string) Command {
	return gcloud(project, "run", "services", "delete", service,
		"--region="+region,
		"--quiet",
	)
}

// DatasetCreate creates a BigQuery dataset.
func DatasetCreate(project, location, datasetID string) Command {
	args := []string{"mk", "--dataset"}
	if location != "" {
		args = append(args, "--location="+location)
	}
	return bq(project, append(args, datasetID)...)
}

// DatasetDelete removes a BigQuery dataset and every table in it.
func DatasetDelete(project, datasetID string) Command {
	return bq(project, "rm", "-r", "-f", "-d", datasetID)
}

// TableCreate creates a BigQuery table from a schema file.
func TableCreate(project, tableID, schemaPath string) Command {
	return bq(project, "mk", "--table", tableID, schemaPath)
}

// TableDelete removes a BigQuery table.
func TableDelete(project, tableID string) Command {
	return bq(project, "rm", "-f", "-t", tableID)
}

// ServiceAccountMember formats an IAM member for a service account.
func ServiceAccountMember(email string) string {
	return "serviceAccount:" + email
}

func formatEnv(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return strings.Join(pairs, ",")
}
