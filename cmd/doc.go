// Package cmd wires the cobra-based CLI commands for brokerctl.
//
// Every command resolves resource names through internal/naming, builds a
// plan with internal/deploy and hands it to a gcloud.Runner. --dry-run swaps
// the runner for one that only records commands.
package cmd
