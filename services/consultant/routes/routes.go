// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/ConsultAudio/services/consultant/audio"
	"github.com/AleutianAI/ConsultAudio/services/consultant/catalog"
	"github.com/AleutianAI/ConsultAudio/services/consultant/handlers"
	"github.com/AleutianAI/ConsultAudio/services/consultant/history"
	"github.com/AleutianAI/ConsultAudio/services/consultant/session"
	"github.com/AleutianAI/ConsultAudio/services/consultant/vectorindex"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies is everything the HTTP surface needs wired in.
type Dependencies struct {
	Processor *audio.Processor
	Catalog   catalog.Store
	Index     vectorindex.Index
	Deleter   *catalog.TwoPhaseDeleter
	History   history.Store
	UploadDir string

	// One manager per chat policy: the consultant decides tool use
	// itself, the assistant never retrieves, the audio provider always
	// retrieves.
	Consultant    *session.Manager
	Assistant     *session.Manager
	AudioProvider *session.Manager
}

// SetupRoutes registers the full consultant API on the router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/upload-audio", handlers.HandleUploadAudio(deps.Processor, deps.Catalog, deps.Index, deps.UploadDir))
		v1.GET("/search", handlers.HandleSearch(deps.Index))

		// Audio catalog routes
		audioGroup := v1.Group("/audio")
		{
			audioGroup.GET("", handlers.HandleListAudio(deps.Catalog))
			audioGroup.GET("/:audioId", handlers.HandleGetAudio(deps.Catalog))
			audioGroup.GET("/:audioId/file", handlers.HandleServeAudio(deps.Catalog, deps.UploadDir))
			audioGroup.PATCH("/:audioId/status", handlers.HandleUpdateAudioStatus(deps.Catalog))
			audioGroup.DELETE("/:audioId", handlers.HandleDeleteAudio(deps.Deleter))
		}

		// Chat routes
		v1.POST("/chat", handlers.HandleChat(deps.Consultant, "chat"))
		v1.POST("/chat/direct", handlers.HandleChat(deps.Assistant, "chat_direct"))
		v1.POST("/chat/audio-provider", handlers.HandleChat(deps.AudioProvider, "chat_audio_provider"))
		v1.GET("/chat/history/:sessionId", handlers.GetSessionHistory(deps.History))
		v1.GET("/chat/status/:sessionId", handlers.GetSessionStats(deps.History))
		v1.POST("/chat/reset/:sessionId", handlers.ResetSession(deps.History,
			deps.Consultant, deps.Assistant, deps.AudioProvider))

		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.DELETE("/:sessionId", handlers.DeleteSession(deps.History,
				deps.Consultant, deps.Assistant, deps.AudioProvider))
		}

		// Admin routes
		admin := v1.Group("/admin")
		{
			admin.POST("/cache/clear", handlers.ClearSessionCache(
				deps.Consultant, deps.Assistant, deps.AudioProvider))
		}
	}
}
