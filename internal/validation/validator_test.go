package validation

import (
	"testing"

	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	CatalogID  string `json:"catalog_id" validate:"required,max=190"`
	Rating     int    `json:"rating" validate:"gte=1,lte=5"`
	ListenDate string `json:"listen_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	err := New().Validate(samplePayload{Rating: 9, ListenDate: "yesterday"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	details := apperr.As(err).Details()
	require.Equal(t, "is required", details["catalog_id"])
	require.Equal(t, "must be less than or equal to 5", details["rating"])
	require.Equal(t, "must be a date formatted as 2006-01-02", details["listen_date"])
}

func TestValidateAcceptsValidPayload(t *testing.T) {
	require.NoError(t, New().Validate(samplePayload{CatalogID: "alb-1", Rating: 3}))
}
