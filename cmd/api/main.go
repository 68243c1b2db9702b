package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"property-intel/internal/config"
	"property-intel/internal/database"
	"property-intel/internal/ingest"
	"property-intel/internal/pipeline"
	"property-intel/internal/project"
	"property-intel/internal/scheduler"
	"property-intel/internal/search"
	"property-intel/internal/vector"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

var (
	store        database.Store
	searchClient *search.SearchClient
	vectorStore  *vector.VectorStore
	appConfig    *config.Config
	appPipeline  *pipeline.Pipeline
	appScheduler *scheduler.Scheduler
	queueWorker  *scheduler.QueueWorker
	projector    *project.Projector
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	configPath := getEnv("CONFIG_PATH", "config/config.yaml")
	var err error
	appConfig, err = config.LoadConfig(configPath)
	if err != nil {
		log.Printf("Warning: Failed to load config from %s: %v. Using defaults.", configPath, err)
		appConfig = config.DefaultConfig()
	} else {
		log.Printf("Loaded configuration from %s", configPath)
	}

	// Initialize structured store based on configuration
	dbType := appConfig.Database.Type
	if dbType == "" {
		dbType = getEnv("DB_TYPE", "postgres")
	}

	if dbType == "mysql" {
		log.Println("Using MySQL with GORM")
		mysqlCfg := appConfig.Database.MySQL

		portStr := ""
		if mysqlCfg.Port > 0 {
			portStr = fmt.Sprintf("%d", mysqlCfg.Port)
		}

		gormDB, err := database.NewGormDB(
			getEnvOrConfig(mysqlCfg.Host, "DB_HOST", "mysql"),
			getEnvOrConfig(portStr, "DB_PORT", "3306"),
			getEnvOrConfig(mysqlCfg.User, "DB_USER", "propintel_user"),
			getEnvOrConfig(mysqlCfg.Password, "DB_PASSWORD", "propintel_pass"),
			getEnvOrConfig(mysqlCfg.Database, "DB_NAME", "propintel_db"),
		)
		if err != nil {
			log.Fatalf("Failed to connect to MySQL: %v", err)
		}
		store = gormDB
	} else {
		log.Println("Using PostgreSQL")
		pgCfg := appConfig.Database.Postgres

		portStr := ""
		if pgCfg.Port > 0 {
			portStr = fmt.Sprintf("%d", pgCfg.Port)
		}

		pgDB, err := database.NewDB(
			getEnvOrConfig(pgCfg.Host, "DB_HOST", "db"),
			getEnvOrConfig(portStr, "DB_PORT", "5432"),
			getEnvOrConfig(pgCfg.User, "DB_USER", "propintel_user"),
			getEnvOrConfig(pgCfg.Password, "DB_PASSWORD", "propintel_pass"),
			getEnvOrConfig(pgCfg.Database, "DB_NAME", "propintel_db"),
			pgCfg.SSLMode,
		)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		store = pgDB
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Initialize Meilisearch using config
	meilisearchHost := getEnvOrConfig(appConfig.Search.Meilisearch.Host, "MEILISEARCH_HOST", "http://meilisearch:7700")
	meilisearchKey := getEnvOrConfig(appConfig.Search.Meilisearch.APIKey, "MEILISEARCH_KEY", "masterKey123")
	searchClient = search.NewSearchClient(meilisearchHost, meilisearchKey)

	if err := searchClient.InitIndex(); err != nil {
		log.Printf("Warning: Failed to initialize search index: %v", err)
	}

	// Initialize vector store. Falls back to a deterministic local embedder
	// when no embedding service is configured.
	var embedder vector.Embedder
	embeddingHost := getEnvOrConfig(appConfig.Vector.EmbeddingHost, "EMBEDDING_HOST", "")
	if embeddingHost != "" {
		embedder, err = vector.NewOpenAIEmbedder(
			embeddingHost,
			getEnv("EMBEDDING_TOKEN", "none"),
			appConfig.Vector.EmbeddingModel,
			appConfig.Vector.Dimensions,
		)
		if err != nil {
			log.Fatalf("Failed to create embedder: %v", err)
		}
		log.Printf("Using embedding service at %s (model: %s)", embeddingHost, appConfig.Vector.EmbeddingModel)
	} else {
		embedder = vector.NewHashEmbedder(appConfig.Vector.Dimensions)
		log.Println("No embedding service configured, using local hash embedder")
	}

	vectorAddr := getEnvOrConfig(appConfig.Vector.Addr, "QDRANT_ADDR", "qdrant:6334")
	vectorStore, err = vector.New(vectorAddr, appConfig.Vector.Collection, embedder)
	if err != nil {
		log.Fatalf("Failed to connect to vector store: %v", err)
	}
	defer vectorStore.Close()

	ensureCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := vectorStore.EnsureCollection(ensureCtx, embedder.Dimensions()); err != nil {
		log.Printf("Warning: Failed to ensure vector collection: %v", err)
	}
	cancel()

	// Pipeline, projector, scheduler, queue worker
	appPipeline = pipeline.New(appConfig, store, searchClient)
	projector = project.NewProjector(appConfig.Visibility)

	appScheduler = scheduler.NewScheduler(appPipeline, appConfig)
	if err := appScheduler.Start(); err != nil {
		log.Printf("Warning: Failed to start scheduler: %v", err)
	}
	defer appScheduler.Stop()

	queueWorker = scheduler.NewQueueWorker(store, vectorStore, appConfig.Vector.GetTimeout(), appConfig.Vector.MaxAttempts)
	queueWorker.Start()
	defer queueWorker.Stop()

	// Setup Gin router
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{getEnv("CORS_ORIGIN", "http://localhost:5176")},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
	}))

	r.GET("/health", healthCheck)

	// Ingestion
	r.POST("/api/ingest", processSource)
	r.POST("/api/ingest/batch", processBatch)

	// Read API (role-projected)
	r.GET("/api/properties", queryProperties)
	r.GET("/api/properties/:id", getProperty)

	// Search
	r.GET("/api/search", searchProperties)
	r.GET("/api/filter", filterProperties)
	r.GET("/api/search/facets", getSearchFacets)
	r.GET("/api/search/semantic", semanticSearch)
	r.POST("/api/search/reindex", reindexAllProperties)

	// Statistics and operations
	r.GET("/api/stats", getStats)
	r.GET("/api/runs", getRecentRuns)
	r.GET("/api/runs/:id/quarantined", getQuarantined)
	r.GET("/api/queue/stats", getQueueStats)
	r.POST("/api/scheduler/run", triggerScheduledRun)

	port := getEnv("PORT", "8084")
	log.Printf("Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now(),
	})
}

// processSource runs the full pipeline over one source file.
func processSource(c *gin.Context) {
	var req struct {
		Source string `json:"source" binding:"required"`
		Format string `json:"format"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	format := ingest.Format(req.Format)
	if req.Format == "" {
		detected, ok := ingest.DetectFormat(req.Source)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot detect format from source name, pass format explicitly"})
			return
		}
		format = detected
	}

	result := appPipeline.Process(c.Request.Context(), req.Source, format)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}

// processBatch runs the pipeline over every matching file in a directory.
func processBatch(c *gin.Context) {
	var req struct {
		Directory string   `json:"directory" binding:"required"`
		Formats   []string `json:"formats"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	formats := make([]ingest.Format, 0, len(req.Formats))
	for _, f := range req.Formats {
		formats = append(formats, ingest.Format(f))
	}
	if len(formats) == 0 {
		formats = []ingest.Format{ingest.FormatCSV, ingest.FormatJSON, ingest.FormatXLSX}
	}

	result, err := appPipeline.RunBatch(c.Request.Context(), req.Directory, formats)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// queryProperties returns role-projected views matching the filters.
func queryProperties(c *gin.Context) {
	role := c.DefaultQuery("role", project.RoleClient)

	filters := database.PropertyFilters{
		Area:         c.Query("area"),
		PropertyType: c.Query("property_type"),
	}
	if minPriceStr := c.Query("min_price"); minPriceStr != "" {
		if minPrice, parseErr := strconv.ParseFloat(minPriceStr, 64); parseErr == nil {
			filters.MinPrice = &minPrice
		}
	}
	if maxPriceStr := c.Query("max_price"); maxPriceStr != "" {
		if maxPrice, parseErr := strconv.ParseFloat(maxPriceStr, 64); parseErr == nil {
			filters.MaxPrice = &maxPrice
		}
	}
	if bedroomsStr := c.Query("bedrooms"); bedroomsStr != "" {
		if bedrooms, parseErr := strconv.Atoi(bedroomsStr); parseErr == nil {
			filters.Bedrooms = &bedrooms
		}
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, parseErr := strconv.Atoi(limitStr); parseErr == nil && limit > 0 {
			filters.Limit = limit
		}
	}

	records, err := store.QueryProperties(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := projector.ProjectAll(records, role)
	c.JSON(http.StatusOK, gin.H{
		"role":       role,
		"count":      len(views),
		"properties": views,
	})
}

func getProperty(c *gin.Context) {
	role := c.DefaultQuery("role", project.RoleClient)
	id := c.Param("id")

	record, err := store.GetProperty(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		return
	}

	c.JSON(http.StatusOK, projector.Project(record, role))
}

func searchProperties(c *gin.Context) {
	role := c.DefaultQuery("role", project.RoleClient)
	query := c.Query("q")
	limitStr := c.DefaultQuery("limit", "20")

	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil {
		limit = 20
	}

	if query == "" {
		records, err := store.AllProperties(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, projector.ProjectAll(records, role))
		return
	}

	records, err := searchClient.Search(query, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, projector.ProjectAll(records, role))
}

func filterProperties(c *gin.Context) {
	role := c.DefaultQuery("role", project.RoleClient)
	limitStr := c.DefaultQuery("limit", "20")

	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil {
		limit = 20
	}

	params := search.FilterParams{
		Query: c.Query("q"),
		Area:  c.Query("area"),
		Limit: limit,
	}
	if minPriceStr := c.Query("min_price"); minPriceStr != "" {
		if minPrice, parseErr := strconv.ParseFloat(minPriceStr, 64); parseErr == nil {
			params.MinPrice = &minPrice
		}
	}
	if maxPriceStr := c.Query("max_price"); maxPriceStr != "" {
		if maxPrice, parseErr := strconv.ParseFloat(maxPriceStr, 64); parseErr == nil {
			params.MaxPrice = &maxPrice
		}
	}
	if bedroomsStr := c.Query("bedrooms"); bedroomsStr != "" {
		if bedrooms, parseErr := strconv.Atoi(bedroomsStr); parseErr == nil {
			params.Bedrooms = &bedrooms
		}
	}
	if types := c.Query("property_types"); types != "" {
		params.PropertyTypes = strings.Split(types, ",")
	}
	if sortBy := c.Query("sort_by"); sortBy != "" {
		params.SortBy = sortBy
	}

	records, err := searchClient.FilterSearch(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, projector.ProjectAll(records, role))
}

func getSearchFacets(c *gin.Context) {
	facetsParam := c.DefaultQuery("facets", "area,property_type,investment_grade")
	facets := strings.Split(facetsParam, ",")

	facetDist, err := searchClient.GetFacets(facets)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"facets": facetDist})
}

// semanticSearch performs k-NN similarity search over listing embeddings.
func semanticSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
		return
	}
	topK, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || topK <= 0 {
		topK = 10
	}

	results, err := vectorStore.Search(c.Request.Context(), query, topK)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

// reindexAllProperties rebuilds the Meilisearch index from the structured
// store. The search index is derived; the store stays authoritative.
func reindexAllProperties(c *gin.Context) {
	log.Println("[Reindex] Starting full reindex of all properties")

	records, err := store.AllProperties(c.Request.Context())
	if err != nil {
		log.Printf("[Reindex] Error fetching properties from database: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch properties from database"})
		return
	}

	log.Printf("[Reindex] Found %d properties in database", len(records))

	successCount := 0
	failCount := 0
	for i := range records {
		if err := searchClient.IndexProperty(&records[i]); err != nil {
			log.Printf("[Reindex] Error indexing property %s: %v", records[i].ID, err)
			failCount++
		} else {
			successCount++
		}
		if (i+1)%100 == 0 {
			log.Printf("[Reindex] Progress: %d/%d indexed", i+1, len(records))
		}
	}

	// Re-enqueue vector writes for rows whose index write never completed.
	requeued := 0
	for i := range records {
		if records[i].VectorIndexPending {
			if err := store.EnqueueVectorWrite(c.Request.Context(), records[i].ID); err == nil {
				requeued++
			}
		}
	}

	log.Printf("[Reindex] Reindex complete. Success: %d, Failed: %d, Vector requeued: %d", successCount, failCount, requeued)

	c.JSON(http.StatusOK, gin.H{
		"message":         "Reindex complete",
		"total":           len(records),
		"indexed":         successCount,
		"failed":          failCount,
		"vector_requeued": requeued,
	})
}

func getStats(c *gin.Context) {
	stats, err := store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_properties":        stats.TotalProperties,
		"average_quality_score":   stats.AverageQualityScore,
		"average_processing_time": stats.AverageProcessingTime.String(),
		"recent_runs":             stats.RecentRuns,
	})
}

func getRecentRuns(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "20")
	limit, _ := strconv.Atoi(limitStr)
	if limit <= 0 {
		limit = 20
	}

	runs, err := store.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(runs),
		"runs":  runs,
	})
}

func getQuarantined(c *gin.Context) {
	runID := c.Param("id")

	records, err := store.QuarantinedForRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":      runID,
		"count":       len(records),
		"quarantined": records,
	})
}

// getQueueStats returns current queue worker statistics
func getQueueStats(c *gin.Context) {
	stats := queueWorker.GetQueueStats(c.Request.Context())
	c.JSON(http.StatusOK, stats)
}

// triggerScheduledRun manually triggers the scheduled ingestion job
func triggerScheduledRun(c *gin.Context) {
	go func() {
		if err := appScheduler.RunNow(); err != nil {
			log.Printf("Manual ingestion failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Scheduled ingestion job started in background",
		"status":  "running",
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrConfig returns config value if set, otherwise falls back to environment variable, then default
func getEnvOrConfig(configValue, envKey, defaultValue string) string {
	if configValue != "" {
		return configValue
	}
	return getEnv(envKey, defaultValue)
}
