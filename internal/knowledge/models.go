// Package knowledge persists jurisdiction resources and their per-provider upload state
package knowledge

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"gorm.io/datatypes"
)

// ResourceType classifies a jurisdiction document
type ResourceType string

// Known resource types
const (
	ResourceLawGuide    ResourceType = "law_guide"
	ResourceRequestTips ResourceType = "request_tips"
	ResourceExemptions  ResourceType = "exemptions"
	ResourceAgencyInfo  ResourceType = "agency_info"
	ResourceCaseLaw     ResourceType = "case_law"
	ResourceGeneral     ResourceType = "general"
)

var resourceTypeLabels = map[ResourceType]string{
	ResourceLawGuide:    "Law Guide",
	ResourceRequestTips: "Request Tips",
	ResourceExemptions:  "Exemptions",
	ResourceAgencyInfo:  "Agency Information",
	ResourceCaseLaw:     "Case Law",
	ResourceGeneral:     "General Information",
}

// ParseResourceType validates a resource type, defaulting empty to general
func ParseResourceType(s string) (ResourceType, bool) {
	if s == "" {
		return ResourceGeneral, true
	}
	t := ResourceType(s)
	_, ok := resourceTypeLabels[t]
	return t, ok
}

// Label is the human readable name of the type
func (t ResourceType) Label() string {
	if l, ok := resourceTypeLabels[t]; ok {
		return l
	}
	return resourceTypeLabels[ResourceGeneral]
}

// IndexStatus is the state of one resource in one provider's index
type IndexStatus string

// Upload states
const (
	StatusNotUploaded IndexStatus = "not_uploaded"
	StatusPending     IndexStatus = "pending"
	StatusUploading   IndexStatus = "uploading"
	StatusIndexing    IndexStatus = "indexing"
	StatusReady       IndexStatus = "ready"
	StatusError       IndexStatus = "error"
)

// JurisdictionResource is a document that informs answers for one jurisdiction
type JurisdictionResource struct {
	ID                 uint         `gorm:"primaryKey" json:"id"`
	JurisdictionID     uint         `gorm:"not null;index" json:"jurisdiction_id"`
	JurisdictionAbbrev string       `gorm:"size:5;not null;index" json:"jurisdiction_abbrev"`
	FilePath           string       `gorm:"size:255;not null" json:"file_path"`
	FileName           string       `gorm:"size:255" json:"file_name"`
	DisplayName        string       `gorm:"size:255;not null" json:"display_name"`
	Description        string       `gorm:"type:text" json:"description"`
	ResourceType       ResourceType `gorm:"size:50;not null;default:general" json:"resource_type"`
	IsActive           bool         `gorm:"not null;default:true;index" json:"is_active"`
	Order              int          `gorm:"column:display_order;not null;default:0" json:"order"`

	// Deprecated: per-provider ids live on ResourceProviderUpload. Mirrored
	// for older readers.
	ProviderFileID string `gorm:"size:255" json:"provider_file_id,omitempty"`
	GeminiFileID   string `gorm:"size:255" json:"gemini_file_id,omitempty"`

	Uploads []ResourceProviderUpload `gorm:"foreignKey:ResourceID;constraint:OnDelete:CASCADE" json:"uploads,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName implements gorm's tabler
func (JurisdictionResource) TableName() string { return "jurisdiction_resources" }

// ResourceProviderUpload tracks one resource in one provider's index
type ResourceProviderUpload struct {
	ID               uint                   `gorm:"primaryKey" json:"id"`
	ResourceID       uint                   `gorm:"not null;uniqueIndex:idx_resource_provider" json:"resource_id"`
	Provider         string                 `gorm:"size:20;not null;uniqueIndex:idx_resource_provider;index:idx_provider_status" json:"provider"`
	ProviderFileID   string                 `gorm:"size:255" json:"provider_file_id,omitempty"`
	ProviderStoreID  string                 `gorm:"size:255" json:"provider_store_id,omitempty"`
	ProviderMetadata datatypes.JSONMap      `json:"provider_metadata,omitempty"`
	IndexStatus      IndexStatus            `gorm:"size:20;not null;default:not_uploaded;index:idx_provider_status" json:"index_status"`
	ErrorMessage     string                 `gorm:"type:text" json:"error_message,omitempty"`
	IndexedAt        *time.Time             `json:"indexed_at,omitempty"`

	Resource *JurisdictionResource `gorm:"foreignKey:ResourceID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName implements gorm's tabler
func (ResourceProviderUpload) TableName() string { return "resource_provider_uploads" }

// DeriveDisplayName turns "colorado_open-records.pdf" into "Colorado Open Records".
// Names with no words left, like "_.pdf", derive to "".
func DeriveDisplayName(fileName string) string {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)

	words := strings.Fields(base)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
