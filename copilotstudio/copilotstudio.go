// Package copilotstudio is a thin client for the Copilot Studio conversation
// API: it derives the per-environment endpoint and token scope from the
// connection settings and exchanges activities with a published agent.
package copilotstudio

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/joeshaw/envdecode"
)

const apiVersion = "2022-03-01-preview"

// PowerPlatformCloud selects which Power Platform cloud hosts the agent's
// environment.
type PowerPlatformCloud string

const (
	CloudUnknown      PowerPlatformCloud = "Unknown"
	CloudProd         PowerPlatformCloud = "Prod"
	CloudPreprod      PowerPlatformCloud = "Preprod"
	CloudFirstRelease PowerPlatformCloud = "FirstRelease"
	CloudMooncake     PowerPlatformCloud = "Mooncake"
	CloudGov          PowerPlatformCloud = "Gov"
	CloudHigh         PowerPlatformCloud = "High"
	CloudDoD          PowerPlatformCloud = "DoD"
	// CloudOther routes to a caller-supplied cloud base address.
	CloudOther PowerPlatformCloud = "Other"
)

// AgentType distinguishes how the agent was published.
type AgentType string

const (
	AgentTypePublished AgentType = "Published"
	AgentTypePrebuilt  AgentType = "Prebuilt"
)

// ConnectionSettings locate one agent in one environment. Defaults can be
// loaded from the environment via SettingsFromEnv.
type ConnectionSettings struct {
	// EnvironmentID is the Power Platform environment GUID.
	// ENV: COPILOTSTUDIO_ENVIRONMENT_ID
	EnvironmentID string `env:"COPILOTSTUDIO_ENVIRONMENT_ID"`
	// AgentID is the agent (bot) identifier within the environment.
	// ENV: COPILOTSTUDIO_AGENT_ID
	AgentID string `env:"COPILOTSTUDIO_AGENT_ID"`
	// Cloud selects the hosting cloud. ENV: COPILOTSTUDIO_CLOUD
	Cloud PowerPlatformCloud `env:"COPILOTSTUDIO_CLOUD,default=Prod"`
	// CustomPowerPlatformCloud is the cloud base address used with
	// CloudOther. ENV: COPILOTSTUDIO_CUSTOM_CLOUD
	CustomPowerPlatformCloud string `env:"COPILOTSTUDIO_CUSTOM_CLOUD"`
	// AgentType selects the API surface. ENV: COPILOTSTUDIO_AGENT_TYPE
	AgentType AgentType `env:"COPILOTSTUDIO_AGENT_TYPE,default=Published"`
	// DirectConnectURL, when set, bypasses endpoint derivation entirely and
	// is used as the conversations base URL. ENV: COPILOTSTUDIO_DIRECT_URL
	DirectConnectURL string `env:"COPILOTSTUDIO_DIRECT_URL"`
}

// SettingsFromEnv builds ConnectionSettings from the environment.
func SettingsFromEnv() (*ConnectionSettings, error) {
	var s ConnectionSettings
	if err := envdecode.Decode(&s); err != nil {
		return nil, fmt.Errorf("copilotstudio settings from env: %w", err)
	}
	return &s, nil
}

var hostPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)+$`)

// cloudBaseAddress maps a cloud to its API host suffix. CloudOther uses the
// validated custom address instead.
func cloudBaseAddress(cloud PowerPlatformCloud, custom string) (string, error) {
	switch cloud {
	case CloudProd, CloudFirstRelease:
		return "api.powerplatform.com", nil
	case CloudPreprod:
		return "api.preprod.powerplatform.com", nil
	case CloudMooncake:
		return "api.powerplatform.partner.microsoftonline.cn", nil
	case CloudGov:
		return "api.gov.powerplatform.microsoft.us", nil
	case CloudHigh:
		return "api.high.powerplatform.microsoft.us", nil
	case CloudDoD:
		return "api.appsplatform.us", nil
	case CloudOther:
		if custom == "" {
			return "", errors.New("custom cloud base address required for cloud Other")
		}
		if !hostPattern.MatchString(custom) {
			return "", fmt.Errorf("invalid custom cloud base address %q", custom)
		}
		return custom, nil
	default:
		return "", fmt.Errorf("unsupported cloud %q", cloud)
	}
}

// environmentHost derives the per-environment API host: the environment GUID
// is lowercased, stripped of hyphens, and split into a prefix label and a
// short suffix label ahead of the cloud base address. Prod-family clouds use
// a two-character suffix, all others one.
func environmentHost(cloud PowerPlatformCloud, environmentID, custom string) (string, error) {
	base, err := cloudBaseAddress(cloud, custom)
	if err != nil {
		return "", err
	}
	normalized := strings.ToLower(strings.ReplaceAll(environmentID, "-", ""))
	suffixLen := 1
	if cloud == CloudProd || cloud == CloudFirstRelease {
		suffixLen = 2
	}
	if len(normalized) <= suffixLen {
		return "", fmt.Errorf("environment id %q too short", environmentID)
	}
	cut := len(normalized) - suffixLen
	return fmt.Sprintf("%s.%s.environment.%s", normalized[:cut], normalized[cut:], base), nil
}

// agentPathSegment maps the agent type to its API path segment.
func agentPathSegment(at AgentType) (string, error) {
	switch at {
	case AgentTypePublished:
		return "dataverse-backed", nil
	case AgentTypePrebuilt:
		return "prebuilt", nil
	default:
		return "", fmt.Errorf("unsupported agent type %q", at)
	}
}

// ConnectionURL returns the conversations endpoint for the settings. An
// empty conversationID addresses the collection (used to start a new
// conversation); otherwise the existing conversation is addressed.
func ConnectionURL(s *ConnectionSettings, conversationID string) (string, error) {
	if s.AgentID == "" {
		return "", errors.New("agent id required")
	}

	segment, err := agentPathSegment(s.AgentType)
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf("/copilotstudio/%s/authenticated/bots/%s/conversations", segment, url.PathEscape(s.AgentID))
	if conversationID != "" {
		path += "/" + url.PathEscape(conversationID)
	}
	path += "?api-version=" + apiVersion

	if s.DirectConnectURL != "" {
		return strings.TrimRight(s.DirectConnectURL, "/") + path, nil
	}
	if s.EnvironmentID == "" {
		return "", errors.New("environment id required")
	}
	host, err := environmentHost(s.Cloud, s.EnvironmentID, s.CustomPowerPlatformCloud)
	if err != nil {
		return "", err
	}
	return "https://" + host + path, nil
}

// AgentScope returns the OAuth scope to request for tokens addressed to the
// agent's cloud.
func AgentScope(cloud PowerPlatformCloud, custom string) (string, error) {
	base, err := cloudBaseAddress(cloud, custom)
	if err != nil {
		return "", err
	}
	return "https://" + base + "/.default", nil
}
