package client

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

// WorkerLauncher drives the pipe CLI to launch and stop additional worker
// runs and keeps the master hosts files in sync through the externally
// supplied shell helpers.
type WorkerLauncher struct {
	executor structs.CmdExecutor
}

// NewWorkerLauncher returns a worker launcher on top of the given executor.
func NewWorkerLauncher(executor structs.CmdExecutor) *WorkerLauncher {
	return &WorkerLauncher{executor: executor}
}

// LaunchParams are the fixed parameters of an additional worker run.
type LaunchParams struct {
	InstanceDisk  string
	InstanceImage string
	CmdTemplate   string
	ParentRunID   string
	PriceType     string
	RegionID      string

	// LaunchSystemParams are forwarded to the run as key value pairs.
	LaunchSystemParams map[string]string
}

// LaunchRun starts a new additional worker run for the given instance type
// and returns the run id printed by the pipe CLI.
func (l *WorkerLauncher) LaunchRun(params LaunchParams, instanceType, ownerParamName, owner string) (int, error) {
	logging.Info("client/pipe: launching additional worker (%s)...", instanceType)

	dynamicParams := map[string]string{ownerParamName: owner}
	command := fmt.Sprintf("pipe run --yes --quiet "+
		"--instance-disk %s "+
		"--instance-type %s "+
		"--docker-image %s "+
		"--cmd-template \"%s\" "+
		"--parent-id %s "+
		"--price-type %s "+
		"--region-id %s "+
		"cluster_role worker "+
		"cluster_role_type additional "+
		"%s "+
		"%s",
		params.InstanceDisk, instanceType, params.InstanceImage,
		params.CmdTemplate, params.ParentRunID,
		pipeCliPriceType(params.PriceType), params.RegionID,
		parametersStr(params.LaunchSystemParams),
		parametersStr(dynamicParams))

	lines, err := l.executor.ExecuteToLines(command)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, structs.NewScalingError("pipe run has not printed a run id")
	}

	runID, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, structs.NewParsingError("malformed pipe run output %q", lines[0])
	}

	logging.Info("client/pipe: additional worker #%d (%s) has been launched",
		runID, instanceType)
	return runID, nil
}

// StopRun stops a worker run.
func (l *WorkerLauncher) StopRun(runID int) error {
	logging.Info("client/pipe: stopping run #%d...", runID)
	if _, err := l.executor.Execute(fmt.Sprintf("pipe stop --yes %d", runID)); err != nil {
		return err
	}
	logging.Info("client/pipe: run #%d was stopped", runID)
	return nil
}

// AddToHosts appends a worker to the master hosts files through the
// add_to_hosts shell helper.
func (l *WorkerLauncher) AddToHosts(pod structs.KubernetesPod) error {
	logging.Info("client/pipe: adding host %s (%s) to hosts...", pod.Name, pod.IP)
	_, err := l.executor.Execute(fmt.Sprintf("add_to_hosts \"%s\" \"%s\"", pod.Name, pod.IP))
	return err
}

// RemoveFromHosts purges a worker from the master hosts files through the
// remove_from_hosts shell helper.
func (l *WorkerLauncher) RemoveFromHosts(host string) error {
	logging.Info("client/pipe: removing host %s from hosts...", host)
	_, err := l.executor.Execute(fmt.Sprintf("remove_from_hosts \"%s\"", host))
	return err
}

// RunIDFromHost extracts the run id from a worker host name. Worker pods are
// named with the run id as the last dash separated element.
func RunIDFromHost(host string) (int, error) {
	elements := strings.Split(host, "-")
	runID, err := strconv.Atoi(elements[len(elements)-1])
	if err != nil {
		return 0, structs.NewParsingError("host name %q carries no run id", host)
	}
	return runID, nil
}

// pipeCliPriceType converts a server side price type into the pipe CLI
// notation, e.g. on_demand becomes on-demand.
func pipeCliPriceType(priceType string) string {
	return strings.ReplaceAll(priceType, "_", "-")
}

// parametersStr renders launch parameters as space separated key value
// pairs, sorted for deterministic command lines.
func parametersStr(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, fmt.Sprintf("%s %s", key, params[key]))
	}
	return strings.Join(pairs, " ")
}
