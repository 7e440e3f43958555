package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stoik/mailbridge/internal/models"
)

type supported struct {
	Supported bool `json:"supported"`
}

type serviceProviderConfigResponse struct {
	Schemas        []string  `json:"schemas"`
	ID             string    `json:"id"`
	Patch          supported `json:"patch"`
	Bulk           supported `json:"bulk"`
	Filter         supported `json:"filter"`
	ChangePassword supported `json:"changePassword"`
	Sort           supported `json:"sort"`
	ETag           supported `json:"etag"`
}

var providerConfig = serviceProviderConfigResponse{
	Schemas: []string{models.SchemaServiceProviderConfig},
	ID:      "mailcow-scim-bridge",
}

func serviceProviderConfig(c *gin.Context) {
	c.JSON(http.StatusOK, providerConfig)
}
