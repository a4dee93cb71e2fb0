// Copyright (C) 2026 Kodiak AI (engineering@kodiakai.com)
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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KodiakAI/KodiakChat/services/chatd/handlers"
)

// SetupRoutes registers the full HTTP surface on the router.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers) {

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/models", h.ListModels)
		v1.GET("/chat/ws", h.ChatWebSocket)

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.CreateSession)
			sessions.GET("", h.ListSessions)
			sessions.POST("/reorder", h.ReorderSessions)
			sessions.GET("/:id", h.GetSession)
			sessions.PATCH("/:id/rename", h.RenameSession)
			sessions.DELETE("/:id", h.DeleteSession)
			sessions.GET("/:id/messages", h.ListMessages)
			sessions.GET("/:id/stream", h.StreamChat)
			sessions.POST("/:id/attachments", h.AttachFile)
			sessions.GET("/:id/attachments", h.ListFiles)
			sessions.DELETE("/:id/attachments/:fileId", h.DeleteFile)
		}

		memory := v1.Group("/memory")
		{
			memory.GET("", h.ListMemory)
			memory.POST("", h.AddMemory)
			memory.GET("/search", h.SearchMemory)
			memory.POST("/compress", h.CompressMemory)
			memory.PATCH("/:id/enable", h.EnableMemory)
			memory.PATCH("/:id/disable", h.DisableMemory)
			memory.DELETE("/:id", h.DeleteMemory)
		}

		v1.POST("/files/upload", h.UploadFile)

		rules := v1.Group("/rules")
		{
			rules.GET("", h.GetRules)
			rules.PUT("", h.UpdateRules)
			// Static route registered before the wildcard sibling.
			rules.GET("/client-config", h.GetClientConfig)
			rules.GET("/:sessionId", h.GetSessionRules)
			rules.PUT("/:sessionId", h.UpdateSessionRules)
		}

		web := v1.Group("/web")
		{
			web.GET("/search", h.WebSearch)
			web.GET("/quotas", h.WebQuotas)
		}
	}
}
