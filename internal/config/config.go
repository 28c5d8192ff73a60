// Package config manages disk and keyring state for brokerctl profiles.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
)

const (
	serviceName = "brokerctl"
	envPrefix   = "BROKERCTL"

	// DefaultProfile is used when --profile is not given.
	DefaultProfile = "default"
	// DefaultRegion is the Cloud Run and Artifact Registry region.
	DefaultRegion = "us-central1"
	// DefaultBigQueryLocation is where datasets are created.
	DefaultBigQueryLocation = "US"

	// ProjectEnv is the fallback project variable the gcloud tooling sets.
	ProjectEnv = "GOOGLE_CLOUD_PROJECT"

	dirPermissions  = 0o700
	filePermissions = 0o600
)

// Profile keys.
const (
	KeyProject               = "project"
	KeyRegion                = "region"
	KeySurvey                = "survey"
	KeyBigQueryLocation      = "bigquery_location"
	KeyTriggerTopicProject   = "trigger_topic_project"
	KeyInvokerServiceAccount = "invoker_service_account"
)

var knownKeys = map[string]struct{}{
	KeyProject:               {},
	KeyRegion:                {},
	KeySurvey:                {},
	KeyBigQueryLocation:      {},
	KeyTriggerTopicProject:   {},
	KeyInvokerServiceAccount: {},
}

// Profile holds the settings resolved for one profile.
type Profile struct {
	Name                  string `json:"name" yaml:"name"`
	Project               string `json:"project,omitempty" yaml:"project,omitempty"`
	Region                string `json:"region" yaml:"region"`
	Survey                string `json:"survey,omitempty" yaml:"survey,omitempty"`
	BigQueryLocation      string `json:"bigquery_location" yaml:"bigquery_location"`
	TriggerTopicProject   string `json:"trigger_topic_project,omitempty" yaml:"trigger_topic_project,omitempty"`
	InvokerServiceAccount string `json:"invoker_service_account,omitempty" yaml:"invoker_service_account,omitempty"`
}

// Keys lists the settings a profile accepts, sorted.
func Keys() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvVar returns the environment variable that overrides key.
func EnvVar(key string) string {
	return envPrefix + "_" + strings.ToUpper(key)
}

// configDir returns the directory where we persist structured configuration.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "brokerctl"), nil
}

// ensureConfigDir ensures the configuration directory exists with restricted permissions.
func ensureConfigDir() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return dir, nil
}

// Path returns the location of the config file.
func Path() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func readConfig() (*viper.Viper, string, error) {
	dir, err := ensureConfigDir()
	if err != nil {
		return nil, "", err
	}
	cfg := viper.New()
	configPath := filepath.Join(dir, "config.yaml")
	cfg.SetConfigFile(configPath)
	readErr := cfg.ReadInConfig()
	if readErr != nil && !isConfigNotFound(readErr) {
		return nil, "", fmt.Errorf("read config: %w", readErr)
	}
	return cfg, configPath, nil
}

// SaveSetting persists key=value for a profile. An empty value clears the key.
func SaveSetting(profile, key, value string) error {
	if profile == "" {
		return errors.New("profile name cannot be empty")
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if _, ok := knownKeys[key]; !ok {
		return fmt.Errorf("unknown config key %q (expected one of %s)", key, strings.Join(Keys(), ", "))
	}

	cfg, configPath, err := readConfig()
	if err != nil {
		return err
	}
	cfg.Set(fmt.Sprintf("profiles.%s.%s", profile, key), strings.TrimSpace(value))

	if err := cfg.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Chmod(configPath, filePermissions); err != nil {
		return fmt.Errorf("restrict config permissions: %w", err)
	}
	return nil
}

// LoadProfile resolves a profile from disk, then applies BROKERCTL_<KEY>
// overrides, the GOOGLE_CLOUD_PROJECT fallback and the defaults.
func LoadProfile(profile string) (Profile, error) {
	if profile == "" {
		return Profile{}, errors.New("profile name cannot be empty")
	}

	cfg, _, err := readConfig()
	if err != nil {
		return Profile{}, err
	}
	get := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(EnvVar(key))); v != "" {
			return v
		}
		return cfg.GetString(fmt.Sprintf("profiles.%s.%s", profile, key))
	}

	p := Profile{
		Name:                  profile,
		Project:               get(KeyProject),
		Region:                get(KeyRegion),
		Survey:                get(KeySurvey),
		BigQueryLocation:      get(KeyBigQueryLocation),
		TriggerTopicProject:   get(KeyTriggerTopicProject),
		InvokerServiceAccount: get(KeyInvokerServiceAccount),
	}
	if p.Project == "" {
		p.Project = strings.TrimSpace(os.Getenv(ProjectEnv))
	}
	if p.Region == "" {
		p.Region = DefaultRegion
	}
	if p.BigQueryLocation == "" {
		p.BigQueryLocation = DefaultBigQueryLocation
	}
	return p, nil
}

// SaveToken stores a gcloud access token for the profile in the OS keyring.
func SaveToken(profile, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token cannot be empty")
	}
	if profile == "" {
		return errors.New("profile name cannot be empty")
	}
	if err := keyring.Set(serviceName, profile, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// LoadToken returns the stored token for a profile. ok is false when none is stored.
func LoadToken(profile string) (token string, ok bool, err error) {
	if profile == "" {
		return "", false, errors.New("profile name cannot be empty")
	}
	tok, err := keyring.Get(serviceName, profile)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("load token: %w", err)
	}
	return tok, true, nil
}

// DeleteToken removes the stored token for a profile. Missing tokens are not an error.
func DeleteToken(profile string) error {
	if profile == "" {
		return errors.New("profile name cannot be empty")
	}
	if err := keyring.Delete(serviceName, profile); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func isConfigNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf viper.ConfigFileNotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}
