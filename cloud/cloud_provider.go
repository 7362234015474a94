// Package cloud enumerates candidate instance types for additional workers.
// A base provider lists the instance types allowed by the pipeline API and a
// chain of decorators narrows and orders them according to the configured
// autoscaling mode.
package cloud

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

// Provider identifies a cloud provider whose instance type naming scheme the
// autoscaler understands.
type Provider string

// Supported cloud providers.
const (
	ProviderAWS   Provider = "AWS"
	ProviderGCP   Provider = "GCP"
	ProviderAzure Provider = "AZURE"
)

// ParseProvider validates a raw cloud provider value.
func ParseProvider(value string) (Provider, error) {
	switch Provider(strings.ToUpper(value)) {
	case ProviderAWS, ProviderGCP, ProviderAzure:
		return Provider(strings.ToUpper(value)), nil
	}
	return "", structs.NewParsingError("wrong cloud provider value %q, only "+
		"AWS, GCP and AZURE are available", value)
}

var (
	awsFamilyPattern   = regexp.MustCompile(`^(\w+)\..*`)
	azureFamilyPattern = regexp.MustCompile(`^([a-zA-Z]+)\d+(.*)`)
)

// ExtractFamily derives the instance family from an instance type name. The
// extraction is provider specific: m5.large belongs to m5 on AWS,
// n1-standard-4 belongs to n1-standard on GCP and Standard_D2s_v3 belongs to
// Dsv3 on Azure. An empty family means the name carries no recognisable
// family.
func ExtractFamily(provider Provider, instanceType string) string {
	switch provider {
	case ProviderAWS:
		if match := awsFamilyPattern.FindStringSubmatch(instanceType); match != nil {
			return match[1]
		}
	case ProviderGCP:
		// The family is the first two dash separated groups unless either
		// of them marks a custom machine type.
		parts := strings.Split(instanceType, "-")
		if len(parts) < 2 || parts[0] == "custom" || parts[1] == "custom" {
			return ""
		}
		return parts[0] + "-" + parts[1]
	case ProviderAzure:
		parts := strings.SplitN(instanceType, "_", 2)
		if len(parts) != 2 {
			return ""
		}
		compact := strings.ReplaceAll(parts[1], "_", "")
		if match := azureFamilyPattern.FindStringSubmatch(compact); match != nil {
			return match[1] + match[2]
		}
	}
	return ""
}

// ProviderConfig carries everything needed to compose the instance provider
// chain for the configured autoscaling mode.
type ProviderConfig struct {
	CloudProvider Provider
	InstanceType  string

	HybridAutoscale      bool
	HybridInstanceFamily string
	HybridInstanceCores  int

	DescendingAutoscale bool

	UnavailabilityDelaySecs int
}

// NewInstanceProvider composes the instance provider chain over the given
// base provider:
//
//   - hybrid mode scales within a whole instance family, capped by size and
//     filtered by recent cloud capacity errors;
//   - descending mode does the same over the default instance's family,
//     ordered largest first so the default type is preferred while healthy;
//   - otherwise only the exact configured instance type is used.
func NewInstanceProvider(base structs.InstanceProvider, config ProviderConfig,
	recorder structs.WorkerRecorder, clock structs.Clock) (structs.InstanceProvider, error) {

	defaultProvider := NewDefaultInstanceProvider(base, config.InstanceType)

	if config.HybridAutoscale && config.HybridInstanceFamily != "" {
		logging.Info("cloud/provider: using hybrid autoscaling of %s instances...",
			config.HybridInstanceFamily)
		var provider structs.InstanceProvider = NewFamilyInstanceProvider(base,
			config.CloudProvider, config.HybridInstanceFamily)
		if config.HybridInstanceCores > 0 {
			logging.Info("cloud/provider: using instances with no more than %d cpus...",
				config.HybridInstanceCores)
			provider = NewSizeLimitingInstanceProvider(provider, config.HybridInstanceCores)
		}
		if config.UnavailabilityDelaySecs > 0 {
			logging.Info("cloud/provider: using only available instances...")
			provider = NewAvailableInstanceProvider(provider, recorder,
				config.UnavailabilityDelaySecs, clock)
		}
		return provider, nil
	}

	if config.DescendingAutoscale {
		defaultInstances, err := defaultProvider.Provide()
		if err != nil {
			return nil, fmt.Errorf("unable to resolve the default instance type: %w", err)
		}
		if len(defaultInstances) > 0 {
			descendingInstance := defaultInstances[len(defaultInstances)-1]
			family := ExtractFamily(config.CloudProvider, descendingInstance.Name)
			if family != "" && descendingInstance.CPU > 0 {
				logging.Info("cloud/provider: using descending autoscaling of %s "+
					"instances...", descendingInstance.Name)
				var provider structs.InstanceProvider = NewFamilyInstanceProvider(base,
					config.CloudProvider, family)
				logging.Info("cloud/provider: using instances with no more than %d cpus...",
					descendingInstance.CPU)
				provider = NewSizeLimitingInstanceProvider(provider, descendingInstance.CPU)
				if config.UnavailabilityDelaySecs > 0 {
					logging.Info("cloud/provider: using only available instances...")
					provider = NewAvailableInstanceProvider(provider, recorder,
						config.UnavailabilityDelaySecs, clock)
				}
				return NewDescendingInstanceProvider(provider), nil
			}
		}
	}

	logging.Info("cloud/provider: using default autoscaling of %s instances...",
		config.InstanceType)
	return defaultProvider, nil
}

// PipelineInstanceProvider is the base provider listing the instance types
// the pipeline API allows for worker containers in a region and price
// category.
type PipelineInstanceProvider struct {
	api       structs.PipelineAPI
	regionID  string
	priceType string
}

// NewPipelineInstanceProvider returns the base pipeline instance provider.
func NewPipelineInstanceProvider(api structs.PipelineAPI, regionID, priceType string) *PipelineInstanceProvider {
	return &PipelineInstanceProvider{
		api:       api,
		regionID:  regionID,
		priceType: priceType,
	}
}

// Provide lists the allowed instance types.
func (p *PipelineInstanceProvider) Provide() ([]structs.Instance, error) {
	instances, err := p.api.GetAllowedInstanceTypes(p.regionID,
		p.priceType == structs.PriceTypeSpot)
	if err != nil {
		return nil, fmt.Errorf("unable to list allowed instance types: %w", err)
	}
	return instances, nil
}
