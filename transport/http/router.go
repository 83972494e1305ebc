package http

import (
	"github.com/gin-gonic/gin"

	"github.com/keyward/keyward/service"
)

// SetupRouter sets up the gin router. Ceremony starts and finishes are
// public; device management requires an authenticated session.
func SetupRouter(ceremonies *service.CeremonyService) *gin.Engine {
	router := gin.Default()

	handlers := NewCeremonyHandlers(ceremonies)

	auth := router.Group("/auth")
	{
		auth.POST("/register/start", handlers.StartRegistration)
		auth.POST("/register/finish", handlers.FinishRegistration)
		auth.POST("/login/start", handlers.StartAuthentication)
		auth.POST("/login/finish", handlers.FinishAuthentication)
	}

	// Device bootstrap: the install key itself is the credential.
	router.POST("/devices/redeem", handlers.RedeemInstallKey)

	devices := router.Group("/devices")
	devices.Use(AuthMiddleware(ceremonies))
	{
		devices.POST("/install-key", handlers.CreateInstallKey)
		devices.POST("/sign/start", handlers.StartDeviceSign)
		devices.POST("/sign/finish", handlers.FinishDeviceSign)
	}

	api := router.Group("/api")
	api.Use(AuthMiddleware(ceremonies))
	{
		api.GET("/me", handlers.Me)
	}

	return router
}
