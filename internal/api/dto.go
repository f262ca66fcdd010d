package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tagledger/internal/index"
	"github.com/starford/tagledger/internal/models"
	"github.com/starford/tagledger/internal/tagservice"
)

// DetailRef addresses one tag occurrence of a file by its position in the tag list.
type DetailRef struct {
	Path  string `json:"path" example:"projects/alpha.md" validate:"required"`
	Index *int   `json:"index" example:"0" validate:"required"`
}

// Validate validates the reference.
func (r DetailRef) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.Index, validation.NotNil, validation.Min(0)),
	)
}

// AttributeRequest sets or deletes one attribute. A null value is stored as null.
type AttributeRequest struct {
	DetailRef
	Name  string  `json:"name" example:"status" validate:"required"`
	Value *string `json:"value" example:"open"`
}

// Validate validates the request.
func (r AttributeRequest) Validate() error {
	if err := r.DetailRef.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
	)
}

// ItemRequest sets one typed item.
type ItemRequest struct {
	DetailRef
	Name string           `json:"name" example:"due" validate:"required"`
	Type *models.ItemType `json:"type" example:"date"`
	Raw  *string          `json:"raw" example:"2024-05-01"`
}

// Validate validates the request.
func (r ItemRequest) Validate() error {
	if err := r.DetailRef.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Type, validation.By(func(v any) error {
			if t, _ := v.(*models.ItemType); t != nil && !t.Valid() {
				return validation.NewError("validation_item_type", "must be one of text, number, date, link, checkbox")
			}
			return nil
		})),
	)
}

// FileDetails is the detail view of a file (aliased from the domain layer).
type FileDetails = tagservice.FileDetails

// TagRow is one indexed occurrence (aliased from the index layer).
type TagRow = index.TagRow

// ReviewItem is one flagged file (aliased from the index layer).
type ReviewItem = index.ReviewItem

// RecordResponse is returned after a detail edit.
type RecordResponse struct {
	Path   string         `json:"path" example:"projects/alpha.md" validate:"required"`
	Index  int            `json:"index" example:"0" validate:"required"`
	Detail *models.Record `json:"detail"`
}

// TagResponse wraps every occurrence of one tag.
type TagResponse struct {
	Tag     string   `json:"tag" example:"#project" validate:"required"`
	Results []TagRow `json:"results" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []TagRow `json:"results" validate:"required"`
}

// ReviewResponse wraps the review queue.
type ReviewResponse struct {
	Items []ReviewItem `json:"items" validate:"required"`
}
