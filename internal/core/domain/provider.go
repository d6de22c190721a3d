package domain

// ProviderType identifies a connector implementation.
type ProviderType string

const (
	ProviderTypeConfluence  ProviderType = "confluence"
	ProviderTypeJira        ProviderType = "jira"
	ProviderTypeGoogleDrive ProviderType = "google-drive"
	ProviderTypeGmail       ProviderType = "gmail"
	ProviderTypeSlack       ProviderType = "slack"
	ProviderTypeFilesystem  ProviderType = "filesystem"
	ProviderTypeWeb         ProviderType = "web"
	ProviderTypeFireflies   ProviderType = "fireflies"
)

// ProviderInfo describes a connector available for configuration as a Source.
// Credential acquisition (OAuth, API keys) is owned by the connector process
// itself, not the core - see ports/driven.ConnectorRegistry.
type ProviderInfo struct {
	Type        ProviderType `json:"type"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Available   bool         `json:"available"`
}

// CoreProviders returns the providers the core ships a reference or
// documented integration for.
func CoreProviders() []ProviderType {
	return []ProviderType{
		ProviderTypeConfluence,
		ProviderTypeJira,
		ProviderTypeGoogleDrive,
		ProviderTypeGmail,
		ProviderTypeSlack,
		ProviderTypeFilesystem,
		ProviderTypeWeb,
		ProviderTypeFireflies,
	}
}

// ValidProviderType reports whether s names a known provider.
func ValidProviderType(s string) bool {
	for _, p := range CoreProviders() {
		if string(p) == s {
			return true
		}
	}
	return false
}
