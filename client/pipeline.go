package client

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

// Pipeline API retry policy. Every request is attempted this many times with
// a fixed delay before the last error surfaces to the caller.
const (
	NumberOfRetries       = 10
	SecsToWaitBeforeRetry = 15
)

const responseStatusOK = "OK"

// allowedInstanceTypesDockerKey is the payload key listing instance types
// allowed for worker containers.
const allowedInstanceTypesDockerKey = "cluster.allowed.instance.types.docker"

// PipelineAPI is a client for the Cloud Pipeline HTTP API. It implements
// the structs.PipelineAPI interface.
type PipelineAPI struct {
	apiURL     string
	token      string
	httpClient *http.Client
	retries    int
	retryDelay time.Duration
}

// NewPipelineAPI returns a pipeline API client for the given endpoint. The
// deployment serves the API behind self-signed certificates, so certificate
// verification is disabled the same way every other pipeline component does.
func NewPipelineAPI(apiURL, token string) *PipelineAPI {
	return &PipelineAPI{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		retries:    NumberOfRetries,
		retryDelay: SecsToWaitBeforeRetry * time.Second,
	}
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

// LoadRun fetches a run object by id.
func (api *PipelineAPI) LoadRun(runID int) (*structs.PipelineRun, error) {
	payload, err := api.execute("GET", fmt.Sprintf("/run/%d", runID), nil)
	if err != nil {
		return nil, err
	}

	run := &structs.PipelineRun{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, run); err != nil {
			return nil, structs.NewParsingError("malformed run #%d payload: %v", runID, err)
		}
	}
	return run, nil
}

// LoadTask fetches the task entries of a run filtered by task name.
func (api *PipelineAPI) LoadTask(runID int, task string) ([]structs.RunTask, error) {
	payload, err := api.execute("GET",
		fmt.Sprintf("/run/%d/task?taskName=%s", runID, task), nil)
	if err != nil {
		return nil, err
	}

	var tasks []structs.RunTask
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &tasks); err != nil {
			return nil, structs.NewParsingError("malformed run #%d task payload: %v", runID, err)
		}
	}
	return tasks, nil
}

// UpdateRunTags replaces the tags of a run.
func (api *PipelineAPI) UpdateRunTags(runID int, tags map[string]string) error {
	body := map[string]interface{}{"tags": tags}
	_, err := api.execute("PUT", fmt.Sprintf("/run/%d/tags", runID), body)
	return err
}

type allowedInstance struct {
	Name     string  `json:"name"`
	TermType string  `json:"termType"`
	VCPU     int     `json:"vcpu"`
	GPU      int     `json:"gpu"`
	Memory   float64 `json:"memory"`
}

// GetAllowedInstanceTypes lists the instance types allowed for worker
// containers in a region and price category.
func (api *PipelineAPI) GetAllowedInstanceTypes(regionID string, spot bool) ([]structs.Instance, error) {
	payload, err := api.execute("GET",
		fmt.Sprintf("/cluster/instance/allowed?regionId=%s&spot=%t", regionID, spot), nil)
	if err != nil {
		return nil, err
	}

	var allowed map[string]json.RawMessage
	if err := json.Unmarshal(payload, &allowed); err != nil {
		return nil, structs.NewParsingError("malformed allowed instance types payload: %v", err)
	}

	var rawInstances []allowedInstance
	if raw, ok := allowed[allowedInstanceTypesDockerKey]; ok {
		if err := json.Unmarshal(raw, &rawInstances); err != nil {
			return nil, structs.NewParsingError("malformed allowed instance types payload: %v", err)
		}
	}

	instances := make([]structs.Instance, 0, len(rawInstances))
	for _, raw := range rawInstances {
		instances = append(instances, structs.Instance{
			Name:      raw.Name,
			PriceType: raw.TermType,
			CPU:       raw.VCPU,
			GPU:       raw.GPU,
			Mem:       int(raw.Memory),
		})
	}
	return instances, nil
}

// RetrievePreference reads a server preference value, falling back to the
// given default when the preference cannot be fetched.
func (api *PipelineAPI) RetrievePreference(preference string, defaultValue string) string {
	payload, err := api.execute("GET", fmt.Sprintf("/preferences/%s", preference), nil)
	if err != nil {
		logging.Warning("client/pipeline: pipeline preference %s retrieving has "+
			"failed. Using default value: %s", preference, defaultValue)
		return defaultValue
	}

	var parsed struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil || parsed.Value == "" {
		logging.Warning("client/pipeline: pipeline preference %s retrieving has "+
			"failed. Using default value: %s", preference, defaultValue)
		return defaultValue
	}
	return parsed.Value
}

// FetchInstanceLaunchParams assembles the launch parameters passed to every
// additional worker run: system parameters flagged for workers resolved from
// the environment or the master run, plus the fixed worker role parameters.
func FetchInstanceLaunchParams(api structs.PipelineAPI, getenv func(string) string,
	masterRunID int, queue, hostlist string) (map[string]string, error) {

	parentRun, err := api.LoadRun(masterRunID)
	if err != nil {
		return nil, err
	}

	masterSystemParams := make(map[string]string)
	for _, param := range parentRun.Parameters {
		masterSystemParams[param.Name] = param.ResolvedValue
	}

	systemParamsString := api.RetrievePreference("launch.system.parameters", "[]")
	var systemParams []structs.LaunchSystemParameter
	if err := json.Unmarshal([]byte(systemParamsString), &systemParams); err != nil {
		return nil, structs.NewParsingError("malformed launch.system.parameters "+
			"preference: %v", err)
	}

	launchParams := make(map[string]string)
	for _, param := range systemParams {
		if !param.PassToWorkers {
			continue
		}
		value := getenv(param.Name)
		if value == "" {
			value = masterSystemParams[param.Name]
		}
		if value == "" {
			continue
		}
		launchParams[param.Name] = value
	}

	launchParams["CP_CAP_SGE"] = "false"
	launchParams["CP_CAP_AUTOSCALE"] = "false"
	launchParams["CP_CAP_AUTOSCALE_WORKERS"] = "0"
	launchParams["CP_DISABLE_RUN_ENDPOINTS"] = "true"
	launchParams["CP_CAP_SGE_QUEUE_NAME"] = queue
	launchParams["CP_CAP_SGE_HOSTLIST_NAME"] = hostlist

	return launchParams, nil
}

// execute performs one API request with the fixed retry policy and unwraps
// the response envelope down to the payload.
func (api *PipelineAPI) execute(method, path string, body interface{}) (json.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= api.retries; attempt++ {
		if attempt > 1 {
			time.Sleep(api.retryDelay)
		}

		payload, err := api.request(method, path, body)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		logging.Warning("client/pipeline: an error has occurred during request "+
			"%d/%d to API: %v", attempt, api.retries, err)
	}

	logging.Warning("client/pipeline: exceeded maximum retry count %d for API "+
		"request", api.retries)
	return nil, lastErr
}

func (api *PipelineAPI) request(method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, api.apiURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+api.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := api.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &structs.HTTPError{StatusCode: resp.StatusCode}
	}

	var response apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, structs.NewParsingError("malformed API response: %v", err)
	}

	if response.Status == "" {
		return nil, &structs.APIError{}
	}
	if response.Status != responseStatusOK {
		return nil, &structs.APIError{Status: response.Status, Message: response.Message}
	}
	return response.Payload, nil
}
