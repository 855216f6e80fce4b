package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "livesync", cfg.Mongo.DatabaseName)
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Mongo: MongoConfig{DatabaseName: "custom"}}
	cfg.ApplyDefaults()

	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "custom", cfg.Mongo.DatabaseName)
	assert.Equal(t, 10*time.Second, cfg.Mongo.ConnectTimeout)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LIVESYNC_MONGO_URI", "mongodb://env:27017")
	t.Setenv("LIVESYNC_MONGO_DB", "envdb")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, BackendMongo, cfg.Backend)
	assert.Equal(t, "mongodb://env:27017", cfg.Mongo.URI)
	assert.Equal(t, "envdb", cfg.Mongo.DatabaseName)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"memory", Config{Backend: BackendMemory}, ""},
		{"mongo", Config{Backend: BackendMongo, Mongo: MongoConfig{URI: "mongodb://x", DatabaseName: "db"}}, ""},
		{"mongo without uri", Config{Backend: BackendMongo, Mongo: MongoConfig{DatabaseName: "db"}}, "uri is required"},
		{"mongo without db", Config{Backend: BackendMongo, Mongo: MongoConfig{URI: "mongodb://x"}}, "database_name is required"},
		{"unknown", Config{Backend: "redis"}, "unknown storage backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
