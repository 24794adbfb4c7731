package main

import (
	"fmt"
	"log"
	"net/http"

	"sevenscore/internal/auth"
	"sevenscore/internal/config"
	"sevenscore/internal/database"
	"sevenscore/internal/game"
	"sevenscore/internal/handler"
	"sevenscore/internal/hub"

	"github.com/gin-gonic/gin"

	_ "sevenscore/docs" // This is important for swag to find the generated docs

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func init() {
	config.LoadConfig()
}

// @title           7 Score API
// @version         1.0
// @description     Score-tracking backend for the 7 Score companion.
// @host            localhost:8080
// @BasePath        /api/v1
// @securityDefinitions.apiKey BearerAuth
// @in header
// @name Authorization
func main() {
	// Connect to the database
	database.Connect(config.AppConfig.DatabaseURL)

	handler.Init(game.NewService(database.DB, hub.GlobalHub))

	router := gin.Default()

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check endpoint
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := apiV1.Group("/auth")
		{
			authRoutes.POST("/anonymous", handler.AnonymousSession)
		}

		// Game routes (protected)
		gameRoutes := apiV1.Group("/games")
		gameRoutes.Use(auth.AuthMiddleware())
		{
			gameRoutes.POST("", handler.CreateGame)
			gameRoutes.POST("/join", handler.JoinGame)
			gameRoutes.GET("/by-code/:code", handler.GetGameByCode)
			gameRoutes.GET("/:id", handler.GetGame)
			gameRoutes.POST("/:id/start", handler.StartGame)
			gameRoutes.POST("/:id/rematch", handler.CreateRematch)
			gameRoutes.GET("/:id/totals", handler.GetGameTotals)
			gameRoutes.GET("/:id/can-advance", handler.CanAdvanceRound)
			gameRoutes.POST("/:id/rounds", handler.CreateRound)
			gameRoutes.GET("/:id/rounds/current", handler.GetCurrentRound)
			gameRoutes.GET("/:id/players", handler.ListPlayers)
			gameRoutes.GET("/:id/players/me", handler.GetOwnPlayer)
			gameRoutes.POST("/:id/players/reset", handler.ResetPlayers)
		}

		// Player routes (protected)
		playerRoutes := apiV1.Group("/players")
		playerRoutes.Use(auth.AuthMiddleware())
		{
			playerRoutes.PATCH("/:id", handler.UpdatePlayer)
		}

		// Round routes (protected)
		roundRoutes := apiV1.Group("/rounds")
		roundRoutes.Use(auth.AuthMiddleware())
		{
			roundRoutes.POST("/:id/scores", handler.SubmitScore)
			roundRoutes.GET("/:id/scores", handler.ListRoundScores)
		}

		// Realtime routes (protected; the socket authenticates via query token)
		realtimeRoutes := apiV1.Group("/realtime")
		realtimeRoutes.Use(auth.AuthMiddleware())
		{
			realtimeRoutes.GET("/ws", handler.RealtimeSocket)
			realtimeRoutes.POST("/broadcast", handler.BroadcastFallback)
		}
	}

	fmt.Printf("Server is running on %s\n", config.AppConfig.ListenAddr)
	log.Fatal(router.Run(config.AppConfig.ListenAddr))
}
