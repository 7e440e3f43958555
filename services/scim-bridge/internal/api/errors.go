package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stoik/mailbridge/internal/models"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/provisioning"
)

// statusOf maps a provisioning error kind to its HTTP status and scimType.
func statusOf(kind provisioning.Kind) (int, string) {
	switch kind {
	case provisioning.KindInvalidAttribute:
		return http.StatusBadRequest, "invalidSyntax"
	case provisioning.KindConflict:
		return http.StatusConflict, "uniqueness"
	case provisioning.KindNotFound:
		return http.StatusNotFound, "notFound"
	case provisioning.KindForbidden:
		return http.StatusForbidden, "mutability"
	case provisioning.KindUpstream:
		return http.StatusBadGateway, "serverError"
	case provisioning.KindUnauthorized:
		return http.StatusUnauthorized, ""
	default:
		return http.StatusInternalServerError, "serverError"
	}
}

func writeProvisioningError(c *gin.Context, err error) {
	_ = c.Error(err)

	status, scimType := statusOf(provisioning.KindOf(err))
	detail := "Internal server error"
	var perr *provisioning.Error
	if errors.As(err, &perr) {
		detail = perr.Detail
	}
	writeError(c, status, scimType, detail)
}

func writeError(c *gin.Context, status int, scimType, detail string) {
	c.AbortWithStatusJSON(status, models.Error{
		Schemas:  []string{models.MessageError},
		Status:   strconv.Itoa(status),
		ScimType: scimType,
		Detail:   detail,
	})
}
