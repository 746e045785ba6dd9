package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:8000"
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.Upload.PollInterval <= 0 {
		cfg.Upload.PollInterval = 3 * time.Second
	}
	if cfg.Upload.RefreshInterval <= 0 {
		cfg.Upload.RefreshInterval = 10 * time.Second
	}
	if cfg.Upload.Concurrency <= 0 {
		cfg.Upload.Concurrency = 3
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = ".local/share/intellilearn/state.db"
	}
	if cfg.Store.ChatHistoryKey == "" {
		cfg.Store.ChatHistoryKey = "intellilearn_chat_history"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.DevServer.Host == "" {
		cfg.DevServer.Host = "localhost"
	}
	if cfg.DevServer.Port == 0 {
		cfg.DevServer.Port = 8000
	}
	if cfg.DevServer.DatabasePath == "" {
		cfg.DevServer.DatabasePath = ".local/share/intellilearn/devserver/rag.db"
	}
	if cfg.DevServer.IndexPath == "" {
		cfg.DevServer.IndexPath = ".local/share/intellilearn/devserver/bleve"
	}
	if cfg.DevServer.UploadDir == "" {
		cfg.DevServer.UploadDir = ".local/share/intellilearn/devserver/uploads"
	}
	if cfg.DevServer.StageDelay == 0 {
		cfg.DevServer.StageDelay = 500 * time.Millisecond
	}
	if cfg.DevServer.ChunkSize == 0 {
		cfg.DevServer.ChunkSize = 200
	}
	if cfg.DevServer.Workers <= 0 {
		cfg.DevServer.Workers = 2
	}
	if cfg.DevServer.MaxUploadSize == "" {
		cfg.DevServer.MaxUploadSize = "100MB"
	}
	if cfg.DevServer.ChunkOverlap == 0 {
		cfg.DevServer.ChunkOverlap = 20
	}
}
