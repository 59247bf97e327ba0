package state

import (
	"context"
	"fmt"
)

// Mirror keeps a remote copy of run files.
type Mirror interface {
	// Put stores body under name and returns its location.
	Put(ctx context.Context, name string, body []byte) (string, error)

	// Get returns the content stored under name.
	Get(ctx context.Context, name string) ([]byte, error)
}

// MirrorConfig selects and configures a mirror.
type MirrorConfig struct {
	Type   string            `json:"type" mapstructure:"type"` // "s3"
	Config map[string]string `json:"config" mapstructure:"config"`

	// S3, when set, is used instead of a client built from Config.
	S3 S3API `json:"-" mapstructure:"-"`
}

// NewMirror creates a mirror from configuration.
func NewMirror(ctx context.Context, cfg *MirrorConfig) (Mirror, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mirror configuration is nil")
	}

	switch cfg.Type {
	case "s3", "":
		return newS3Mirror(ctx, cfg.Config, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown mirror type: %s", cfg.Type)
	}
}
