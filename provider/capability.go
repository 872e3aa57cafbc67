package provider

import (
	"strings"

	rules "github.com/goliatone/go-rules"
)

// Capability names one pluggable backend slot of the engine.
type Capability string

const (
	CapabilityRegisters          Capability = "registers"
	CapabilityBlockchain         Capability = "blockchain"
	CapabilityExternalService    Capability = "externalService"
	CapabilityDocument           Capability = "document"
	CapabilityServicesRepository Capability = "servicesRepository"
)

// Capabilities lists every capability in a stable order.
func Capabilities() []Capability {
	return []Capability{
		CapabilityRegisters,
		CapabilityBlockchain,
		CapabilityExternalService,
		CapabilityDocument,
		CapabilityServicesRepository,
	}
}

func (c Capability) String() string {
	return string(c)
}

// ParseCapability accepts the configured name of a capability. Matching is
// case insensitive; anything else is a configuration error.
func ParseCapability(name string) (Capability, error) {
	trimmed := strings.TrimSpace(name)
	for _, c := range Capabilities() {
		if strings.EqualFold(trimmed, string(c)) {
			return c, nil
		}
	}
	return "", rules.NewConfigurationError(
		"unknown capability "+strings.TrimSpace(name),
		map[string]any{"capability": name},
	)
}
