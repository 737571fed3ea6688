package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Engine struct {
	DBPath      string `env:"DB_PATH, default=loom.db"`
	Runner      string `env:"RUNNER, default=docker"`
	Concurrency int    `env:"CONCURRENCY, default=0"` // 0 = host parallelism
	JobTimeout  string `env:"JOB_TIMEOUT, default=30m"`
	Workspace   string `env:"WORKSPACE, default=/var/lib/loom/workspaces"`
	Dev         bool   `env:"DEV, default=false"`
}

type Cache struct {
	Backend string   `env:"BACKEND, default=fs"`
	Dir     string   `env:"DIR, default=/var/cache/loom"`
	S3      S3Config `env:",prefix=S3_"`
}

type S3Config struct {
	Endpoint  string `env:"ENDPOINT"`
	Bucket    string `env:"BUCKET, default=loom-cache"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	UseSSL    bool   `env:"USE_SSL, default=true"`
}

type Config struct {
	Engine Engine `env:",prefix=LOOM_ENGINE_"`
	Cache  Cache  `env:",prefix=LOOM_CACHE_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
