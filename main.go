package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	config := LoadConfig()

	if err := InitDB(config.Storage.Database); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer CloseDB()

	storage := NewStorage(config.Storage.Path)
	for _, dir := range []string{config.Storage.Path, storage.ChunkDir(), storage.LogoDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal("Failed to create storage directory:", err)
		}
	}

	assembler := NewAssembler(storage, config.Storage.MaxUploadSize)

	httpClient := &http.Client{Timeout: time.Duration(config.Logo.Timeout)}
	var providers []LogoProvider
	google := NewGoogleImageSearch(config.Logo.GoogleAPIKey, config.Logo.GoogleCX, httpClient)
	if google.Configured() {
		providers = append(providers, google)
	} else {
		log.Printf("Google search credentials not set, using keyless logo fallback only")
	}
	providers = append(providers, NewClearbitLogo())
	logos := NewLogoResolver(storage, providers, httpClient)

	var mirror *Mirror
	if config.Mirror.Enabled {
		var err error
		mirror, err = NewMirror(storage, config.Mirror)
		if err != nil {
			log.Fatal("Failed to configure mirror:", err)
		}
		log.Printf("Asset mirroring enabled (bucket %s)", config.Mirror.Bucket)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reaper := NewSessionReaper(assembler, time.Duration(config.Storage.SessionTTL), time.Duration(config.Storage.ReapInterval))
	reaper.Start(ctx)

	api := NewAPI(storage, assembler, logos, mirror, config.API.Key)

	router := gin.Default()
	api.RegisterRoutes(router)

	log.Printf("Starting server on port %s", config.API.Port)
	if err := router.Run(":" + config.API.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
