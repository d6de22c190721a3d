package domain

import "time"

// ServiceCredential is an encrypted provider credential referenced by
// Source.Config's credential_id field. The core only decrypts/encrypts it
// to hand the connector a usable secret at /sync time; it never interprets
// the contents.
type ServiceCredential struct {
	ID           string    `json:"id"`
	ProviderType ProviderType `json:"provider_type"`
	Name         string    `json:"name"`
	Ciphertext   []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ServiceCredentialSummary is the API-safe projection of a credential.
type ServiceCredentialSummary struct {
	ID           string    `json:"id"`
	ProviderType ProviderType `json:"provider_type"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c *ServiceCredential) ToSummary() *ServiceCredentialSummary {
	return &ServiceCredentialSummary{
		ID:           c.ID,
		ProviderType: c.ProviderType,
		Name:         c.Name,
		CreatedAt:    c.CreatedAt,
	}
}
