package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "/etc/slamp/config.ini"
	configPathEnv     = "SLAMP_CONFIG"
)

const (
	IdentityCache   = "cache"
	IdentityDurable = "durable"

	AckSync     = "sync"
	AckDeferred = "deferred"

	CacheRedis  = "redis"
	CacheMemory = "memory"
	CacheNone   = "none"

	DBPostgres = "postgres"
	DBSQLite   = "sqlite"
)

type Config struct {
	AppEnv  string
	BaseURL string
	Port    int

	SlackToken             string
	SlackVerificationToken string
	SlackSigningSecret     string
	SlackClientID          string
	SlackClientSecret      string
	SlackScopes            string
	SlackUserScopes        string
	SlackRedirectURL       string
	// SlackAPIURL overrides https://slack.com/api/ (used against local fakes).
	SlackAPIURL string

	StampCommand  string
	StampIdentity string
	StampAck      string

	CacheBackend string
	CacheURL     string

	DBDriver     string
	DBURL        string
	DBHost       string
	DBPort       int
	DBName       string
	DBUser       string
	DBPassword   string
	DBSSLMode    string
	DBSQLitePath string

	RabbitMQURL   string
	RabbitMQQueue string

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// Load reads the config file (INI or YAML) and overlays the environment. A
// missing file is not an error so the service can run on env vars alone.
func Load() (Config, error) {
	configPath := os.Getenv(configPathEnv)
	if configPath == "" {
		configPath = defaultConfigPath
	}

	ini, err := readConfigFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load config %s: %w", configPath, err)
		}
		ini = iniData{sections: map[string]map[string]string{}}
	}

	cfg := fromINI(ini)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func fromINI(ini iniData) Config {
	cfg := Config{}
	cfg.AppEnv = ini.getDefault("app", "env", "production")
	cfg.BaseURL = strings.TrimRight(firstNonEmpty(ini.get("app", "base_url"), os.Getenv("BASE_URL")), "/")
	cfg.Port = firstNonEmptyIntDefault(8124, ini.get("app", "port"), os.Getenv("PORT"))

	cfg.SlackToken = firstNonEmpty(ini.get("slack", "token"), os.Getenv("TOKEN"), os.Getenv("SLACK_BOT_TOKEN"))
	cfg.SlackVerificationToken = firstNonEmpty(ini.get("slack", "verification_token"), os.Getenv("SLASH_COMMANDS_TOKEN"))
	cfg.SlackSigningSecret = firstNonEmpty(ini.get("slack", "signing_secret"), os.Getenv("SLACK_SIGNING_SECRET"))
	cfg.SlackClientID = firstNonEmpty(ini.get("slack", "client_id"), os.Getenv("SLACK_CLIENT_ID"))
	cfg.SlackClientSecret = firstNonEmpty(ini.get("slack", "client_secret"), os.Getenv("SLACK_CLIENT_SECRET"))
	cfg.SlackScopes = firstNonEmpty(ini.get("slack", "scopes"), os.Getenv("SLACK_SCOPES"))
	cfg.SlackUserScopes = firstNonEmpty(ini.get("slack", "user_scopes"), os.Getenv("SLACK_USER_SCOPES"), "chat:write,users:read")
	cfg.SlackRedirectURL = firstNonEmpty(ini.get("slack", "redirect_url"), os.Getenv("SLACK_REDIRECT_URL"))
	cfg.SlackAPIURL = firstNonEmpty(ini.get("slack", "api_url"), os.Getenv("SLACK_API_URL"))

	cfg.StampCommand = firstNonEmpty(ini.get("stamp", "command"), os.Getenv("STAMP_COMMAND"), "/stamp")
	cfg.StampIdentity = strings.ToLower(firstNonEmpty(ini.get("stamp", "identity"), os.Getenv("STAMP_IDENTITY"), IdentityCache))
	cfg.StampAck = strings.ToLower(firstNonEmpty(ini.get("stamp", "ack"), os.Getenv("STAMP_ACK"), AckSync))

	cfg.CacheURL = firstNonEmpty(ini.get("cache", "url"), os.Getenv("REDISTOGO_URL"), os.Getenv("REDIS_URL"))
	cfg.CacheBackend = strings.ToLower(firstNonEmpty(ini.get("cache", "backend"), os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		if cfg.CacheURL != "" {
			cfg.CacheBackend = CacheRedis
		} else {
			cfg.CacheBackend = CacheMemory
		}
	}

	cfg.DBDriver = strings.ToLower(firstNonEmpty(ini.get("db", "driver"), os.Getenv("DB_DRIVER"), DBPostgres))
	cfg.DBURL = firstNonEmpty(ini.get("db", "url"), ini.get("db", "database_url"), os.Getenv("DATABASE_URL"))
	cfg.DBHost = ini.getDefault("db", "host", "127.0.0.1")
	cfg.DBPort = ini.getIntDefault("db", "port", 5432)
	cfg.DBName = ini.getDefault("db", "name", "slamp")
	cfg.DBUser = ini.getDefault("db", "user", "slamp")
	cfg.DBPassword = ini.get("db", "password")
	cfg.DBSSLMode = ini.getDefault("db", "sslmode", "prefer")
	cfg.DBSQLitePath = ini.getDefault("db", "sqlite_path", "/var/lib/slamp/slamp.db")

	cfg.RabbitMQURL = firstNonEmpty(ini.get("rabbitmq", "url"), os.Getenv("RABBITMQ_URL"))
	cfg.RabbitMQQueue = ini.getDefault("rabbitmq", "queue", "stamp_usage")

	cfg.LogFile = firstNonEmpty(ini.get("log", "file"), os.Getenv("SLAMP_LOG_FILE"))
	cfg.LogMaxSizeMB = ini.getIntDefault("log", "max_size_mb", 100)
	cfg.LogMaxBackups = ini.getIntDefault("log", "max_backups", 3)
	return cfg
}

// Validate rejects combinations the server cannot run with.
func (c Config) Validate() error {
	if c.SlackVerificationToken == "" {
		return errors.New("slack.verification_token (or SLASH_COMMANDS_TOKEN) must be set")
	}
	switch c.StampIdentity {
	case IdentityCache:
	case IdentityDurable:
		if c.BaseURL == "" {
			return errors.New("app.base_url must be set when stamp.identity=durable")
		}
		if c.SlackClientID == "" || c.SlackClientSecret == "" {
			return errors.New("slack.client_id and slack.client_secret must be set when stamp.identity=durable")
		}
	default:
		return fmt.Errorf("unknown stamp.identity %q (supported: cache, durable)", c.StampIdentity)
	}
	switch c.StampAck {
	case AckSync, AckDeferred:
	default:
		return fmt.Errorf("unknown stamp.ack %q (supported: sync, deferred)", c.StampAck)
	}
	switch c.CacheBackend {
	case CacheRedis:
		if c.CacheURL == "" {
			return errors.New("cache.url (or REDISTOGO_URL) must be set when cache.backend=redis")
		}
	case CacheMemory, CacheNone:
	default:
		return fmt.Errorf("unknown cache.backend %q (supported: redis, memory, none)", c.CacheBackend)
	}
	switch c.DBDriver {
	case DBPostgres, DBSQLite:
	default:
		return fmt.Errorf("unknown db.driver %q (supported: postgres, sqlite)", c.DBDriver)
	}
	return nil
}

// NeedsStore reports whether a durable store must be opened.
func (c Config) NeedsStore() bool {
	return c.StampIdentity == IdentityDurable
}

// RegisterURL is where unregistered users are sent to sign up.
func (c Config) RegisterURL() string {
	if c.BaseURL == "" {
		return "/slack/install"
	}
	return c.BaseURL + "/slack/install"
}

// OAuthRedirectURL defaults to the callback route under the base URL.
func (c Config) OAuthRedirectURL() string {
	if c.SlackRedirectURL != "" {
		return c.SlackRedirectURL
	}
	if c.BaseURL == "" {
		return ""
	}
	return c.BaseURL + "/slack/oauth/callback"
}

func (c Config) DBConnString() string {
	if c.DBURL != "" {
		return c.DBURL
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBUser,
		c.DBPassword,
		c.DBSSLMode,
	)
}

// RedactURL hides the password part of a connection URL for logging.
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if parsed.User == nil {
		return parsed.String()
	}
	username := parsed.User.Username()
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(username, "REDACTED")
	} else {
		parsed.User = url.User(username)
	}
	return parsed.String()
}

type iniData struct {
	sections map[string]map[string]string
}

func readConfigFile(path string) (iniData, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return readYAML(path)
	default:
		return readINI(path)
	}
}

// readYAML accepts the same two-level section/key layout as the INI file.
func readYAML(path string) (iniData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return iniData{}, err
	}
	var doc map[string]map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return iniData{}, err
	}
	data := iniData{sections: map[string]map[string]string{}}
	for section, values := range doc {
		section = strings.ToLower(strings.TrimSpace(section))
		if _, ok := data.sections[section]; !ok {
			data.sections[section] = map[string]string{}
		}
		for key, value := range values {
			if value == nil {
				continue
			}
			data.sections[section][strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(fmt.Sprint(value))
		}
	}
	return data, nil
}

func readINI(path string) (iniData, error) {
	file, err := os.Open(path)
	if err != nil {
		return iniData{}, err
	}
	defer file.Close()

	data := iniData{sections: map[string]map[string]string{}}
	section := "default"
	data.sections[section] = map[string]string{}

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if section == "" {
				return iniData{}, fmt.Errorf("invalid section header at line %d", lineNo)
			}
			if _, ok := data.sections[section]; !ok {
				data.sections[section] = map[string]string{}
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return iniData{}, fmt.Errorf("invalid line %d: %q", lineNo, line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return iniData{}, fmt.Errorf("empty key at line %d", lineNo)
		}
		data.sections[section][key] = trimQuotes(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return iniData{}, err
	}
	return data, nil
}

func trimQuotes(value string) string {
	if len(value) < 2 {
		return value
	}
	if value[0] == '"' && value[len(value)-1] == '"' {
		return value[1 : len(value)-1]
	}
	if value[0] == '\'' && value[len(value)-1] == '\'' {
		return value[1 : len(value)-1]
	}
	return value
}

func (ini iniData) get(section, key string) string {
	if len(ini.sections) == 0 {
		return ""
	}
	section = strings.ToLower(section)
	key = strings.ToLower(key)
	if section == "" {
		section = "default"
	}
	if values, ok := ini.sections[section]; ok {
		return values[key]
	}
	return ""
}

func (ini iniData) getDefault(section, key, fallback string) string {
	value := ini.get(section, key)
	if value == "" {
		return fallback
	}
	return value
}

func (ini iniData) getIntDefault(section, key string, fallback int) int {
	value := ini.get(section, key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func firstNonEmptyInt(values ...string) (int, bool) {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		return parsed, true
	}
	return 0, false
}

func firstNonEmptyIntDefault(fallback int, values ...string) int {
	if parsed, ok := firstNonEmptyInt(values...); ok {
		return parsed
	}
	return fallback
}
