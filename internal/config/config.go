package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress      string
	AgentWSURL       string
	AgentType        string
	PermissionMode   string
	SessionCwd       string
	ResumeSessionID  string
	DeepgramKey      string
	DeepgramTTSModel string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	agentURL := os.Getenv("AGENT_WS_URL")
	if agentURL == "" {
		agentURL = "ws://127.0.0.1:9100/acp"
		log.Printf("AGENT_WS_URL not set - using %s", agentURL)
	}

	agentType := os.Getenv("AGENT_TYPE")
	if agentType == "" {
		agentType = "claude"
	}

	mode := os.Getenv("PERMISSION_MODE")
	if mode == "" {
		mode = "default"
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - speech synthesis will not work")
	}

	log.Printf("config: HTTP_ADDRESS=%s AGENT_TYPE=%s", addr, agentType)
	return Config{
		HTTPAddress:      addr,
		AgentWSURL:       agentURL,
		AgentType:        agentType,
		PermissionMode:   mode,
		SessionCwd:       os.Getenv("SESSION_CWD"),
		ResumeSessionID:  os.Getenv("RESUME_SESSION_ID"),
		DeepgramKey:      deepgramKey,
		DeepgramTTSModel: os.Getenv("DEEPGRAM_TTS_MODEL"),
	}
}
