package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/scannsing/scannsing/internal/storage"
	"github.com/scannsing/scannsing/pkg/scannsing"
)

var (
	port           int
	dbPath         string
	allowedOrigins string
	logRequests    bool
	seed           bool
)

func init() {
	// .env must be loaded before the flag defaults read the environment.
	_ = godotenv.Load()

	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("SCANNSING_DB_PATH", storage.DefaultDBFile), "Path to SQLite database")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
	flag.BoolVar(&logRequests, "log-requests", false, "Log every request")
	flag.BoolVar(&seed, "seed", false, "Add the sample tracks on startup")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	flag.Parse()

	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	engine, err := scannsing.New(scannsing.WithDBPath(dbPath))
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer engine.Close()

	if seed {
		added, err := engine.SeedSampleTracks()
		if err != nil {
			log.Fatalf("Failed to seed sample tracks: %v", err)
		}
		log.Printf("Seeded %d sample track(s)", added)
	}

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		AllowedOrigins: origins,
		LogRequests:    logRequests,
	}

	server := NewServer(engine, config)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
