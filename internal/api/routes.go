package api

// setupRoutes configures all operational API routes (spec §6).
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleGetHealth)
		v1.GET("/status", s.handleGetStatus)

		v1.GET("/metrics", s.handleGetMetrics)
		v1.GET("/metrics/windowed", s.handleGetWindowedMetrics)

		breakerGroup := v1.Group("/breaker")
		{
			breakerGroup.GET("", s.handleGetBreakerState)
			breakerGroup.POST("/force-open", s.handleForceOpenBreaker)
			breakerGroup.POST("/force-close", s.handleForceCloseBreaker)
			breakerGroup.POST("/clear", s.handleClearBreaker)
		}

		dispatcherGroup := v1.Group("/dispatcher")
		{
			dispatcherGroup.POST("/pause", s.handlePauseDispatcher)
			dispatcherGroup.POST("/resume", s.handleResumeDispatcher)
			dispatcherGroup.GET("/highwatermark", s.handleGetHighWaterMark)

			tiers := dispatcherGroup.Group("/tier-overrides")
			{
				tiers.GET("", s.handleListTierOverrides)
				tiers.PUT("/:selector", s.handleSetTierOverride)
				tiers.DELETE("/:selector", s.handleClearTierOverride)
			}
		}
	}

	s.router.GET("/", s.handleRoot)
	s.router.GET("/healthz", s.handleGetHealth)
}
