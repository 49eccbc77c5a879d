package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings is read from REPL_-prefixed variables only. Fields carry no
// envconfig name tag, so an unset REPL_SHELL never falls back to the login
// $SHELL.
type Settings struct {
	ListenAddr     string `split_words:"true" default:":3001"`
	InitListenAddr string `split_words:"true" default:":3000"`
	WorkspaceDir   string `split_words:"true" default:"/workspace"`
	DatabasePath   string `split_words:"true" default:"/app/data/init-service.db"`

	// Identity resolution: "subdomain", "header", or a comma-separated chain.
	IdentitySource []string `split_words:"true" default:"subdomain"`
	IdentityHeader string   `split_words:"true" default:"X-Repl-Id"`

	// Object store
	S3Endpoint  string `split_words:"true" default:""`
	S3Bucket    string `split_words:"true" default:""`
	S3Region    string `split_words:"true" default:"auto"`
	S3AccessKey string `split_words:"true" default:""`
	S3SecretKey string `split_words:"true" default:""`

	// Mirroring of live edits and template replication
	MirrorStrategy  string `split_words:"true" default:"immediate"`
	MirrorInterval  string `split_words:"true" default:"5s"`
	CopyConcurrency int    `split_words:"true" default:"16"`

	// Terminal settings
	Shell             string `split_words:"true" default:"/bin/bash"`
	TerminalRateLimit int    `split_words:"true" default:"200"`
	TerminalRateBurst int    `split_words:"true" default:"200"`

	LogLevel  string `split_words:"true" default:"info"`
	LogFormat string `split_words:"true" default:"json"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("REPL", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// MirrorFlushInterval parses MirrorInterval, falling back to 5s on bad input.
func (s Settings) MirrorFlushInterval() time.Duration {
	d, err := time.ParseDuration(s.MirrorInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}
