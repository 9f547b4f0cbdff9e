package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
)

func TestDefaultConfig_Limits(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, storage.DefaultLimits(), cfg.Limits())
	assert.Equal(t, storage.Layout{Root: "data"}, cfg.Layout())
	assert.Len(t, cfg.TrainerOptions(), 3)
}

func TestConfig_Limits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStorageMB = 10
	cfg.WarnStorageMB = 8
	cfg.SessionRetention = 1
	l := cfg.Limits()
	assert.Equal(t, int64(10*1024*1024), l.MaxTotalBytes)
	assert.Equal(t, int64(8*1024*1024), l.WarnBytes)
	assert.Equal(t, 24.0, l.SessionRetention.Hours())
}
