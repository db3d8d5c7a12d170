// Package config содержит логику чтения конфигурации SMM-панели.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/smmpanel/internal/provider"
)

// Config содержит параметры конфигурации SMM-панели.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	ProvidersFile string `env:"PROVIDERS_FILE"`

	JWTSecret     string `env:"JWT_SECRET"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	RedisAddress  string `env:"REDIS_ADDRESS"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     string `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPSender   string `env:"SMTP_SENDER"`
	SiteURL      string `env:"SITE_URL" envDefault:"http://localhost:5173"`

	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"0s"`
	SweepBatch      int           `env:"SWEEP_BATCH" envDefault:"100"`
	CatalogCacheTTL time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"5m"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:","`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами; файл .env, если он есть, подгружается заранее.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envProvidersFile := cfg.ProvidersFile

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ProvidersFile, "p", "", "providers YAML file")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envProvidersFile != "" {
		cfg.ProvidersFile = envProvidersFile
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}

	return cfg, nil
}

type providersFile struct {
	Providers []struct {
		Name     string `yaml:"name"`
		Endpoint string `yaml:"endpoint"`
		Key      string `yaml:"key"`
		Active   *bool  `yaml:"active"`
	} `yaml:"providers"`
}

// LoadProviders читает список поставщиков из YAML-файла; ссылки вида ${VAR} в поле key заменяются
// значениями переменных окружения, остальные символы $ сохраняются. Порядок в файле задаёт порядок перебора при размещении заказов.
// Без файла используется встроенный список с ключами из SMM_PROVIDER{1,2,3}_API_KEY.
func LoadProviders(path string) ([]provider.Registration, error) {
	if path == "" {
		return DefaultProviders(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var f providersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	regs := make([]provider.Registration, 0, len(f.Providers))
	seen := make(map[string]struct{}, len(f.Providers))
	for i, p := range f.Providers {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("provider #%d: name is required", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("provider %q: duplicate name", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(p.Endpoint) == "" {
			return nil, fmt.Errorf("provider %q: endpoint is required", name)
		}

		active := true
		if p.Active != nil {
			active = *p.Active
		}
		regs = append(regs, provider.Registration{
			Name:     name,
			Endpoint: strings.TrimSpace(p.Endpoint),
			Key:      expandEnvRefs(strings.TrimSpace(p.Key)),
			Active:   active,
		})
	}

	return regs, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvRefs подставляет только ссылки вида ${VAR}; незаданная переменная даёт пустую строку.
func expandEnvRefs(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// DefaultProviders возвращает встроенный список поставщиков.
func DefaultProviders() []provider.Registration {
	return []provider.Registration{
		{Name: "JustAnotherPanel", Endpoint: "https://justanotherpanel.com/api/v2", Key: os.Getenv("SMM_PROVIDER1_API_KEY"), Active: true},
		{Name: "Peakerr", Endpoint: "https://peakerr.com/api/v2", Key: os.Getenv("SMM_PROVIDER2_API_KEY"), Active: true},
		{Name: "SMM Heaven", Endpoint: "https://smmheaven.com/api/v2", Key: os.Getenv("SMM_PROVIDER3_API_KEY"), Active: true},
	}
}
