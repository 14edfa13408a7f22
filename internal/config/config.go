package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the bot configuration
type Config struct {
	Local    SiteConfig    `yaml:"local"`
	Remote   SiteConfig    `yaml:"remote"`
	Bot      BotConfig     `yaml:"bot"`
	Ledger   LedgerConfig  `yaml:"ledger"`
	Journal  JournalConfig `yaml:"journal"`
	Archive  ArchiveConfig `yaml:"archive"`
	LogLevel string        `yaml:"log_level"`
}

// SiteConfig describes one MediaWiki installation
type SiteConfig struct {
	APIURL         string        `yaml:"api_url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	UserAgent      string        `yaml:"user_agent"`
	MinInterval    time.Duration `yaml:"min_interval"`
	Timeout        time.Duration `yaml:"timeout"`
	FileNamespace  string        `yaml:"file_namespace"`
	FileNamespaces []string      `yaml:"file_namespaces"`
}

// BotConfig holds the verification rules
type BotConfig struct {
	SourceHost           string   `yaml:"source_host"`
	CandidateCategory    string   `yaml:"candidate_category"`
	SpeedyTemplates      []string `yaml:"speedy_templates"`
	FileSpeedyTemplates  []string `yaml:"file_speedy_templates"`
	NowCommonsTemplates  []string `yaml:"nowcommons_templates"`
	BoilerplateTemplates []string `yaml:"boilerplate_templates"`
	KeepLocalTemplates   []string `yaml:"keep_local_templates"`
	RecordTemplate       string   `yaml:"record_template"`
	UploadLogHeading     string   `yaml:"upload_log_heading"`
	CategoryPrefixes     []string `yaml:"category_prefixes"`
	ExceptCategories     []string `yaml:"except_categories"`
	ExemptUsers          []string `yaml:"exempt_users"`
	NoticePattern        string   `yaml:"notice_pattern"`
	ImporterTag          string   `yaml:"importer_tag"`
	MaxRenameHops        int      `yaml:"max_rename_hops"`
	MaxUploads           int      `yaml:"max_uploads"`
	MaxEdits             int      `yaml:"max_edits"`
	DeleteSummary        string   `yaml:"delete_summary"`
	RecordSummary        string   `yaml:"record_summary"`
}

// LedgerConfig locates the persisted skip list
type LedgerConfig struct {
	Page       string `yaml:"page"`
	User       string `yaml:"user"`
	TableClass string `yaml:"table_class"`
	Summary    string `yaml:"summary"`
}

// JournalConfig locates the local run journal
type JournalConfig struct {
	Path string `yaml:"path"`
}

// ArchiveConfig configures the optional S3-compatible archive of deleted pages
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Folder    string `yaml:"folder"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Insecure  bool   `yaml:"insecure"`
}

// Enabled reports whether deleted pages should be archived.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != ""
}

// Default returns the configuration used by SeitenBot2 on the Japanese
// Wikipedia.
func Default() *Config {
	return &Config{
		Local: SiteConfig{
			APIURL:         "https://ja.wikipedia.org/w/api.php",
			UserAgent:      "SeitenBot2-sdfile (https://github.com/Honjitsu-Seiten/SeitenBot2)",
			MinInterval:    time.Second,
			Timeout:        60 * time.Second,
			FileNamespace:  "ファイル",
			FileNamespaces: []string{"ファイル", "画像", "File", "Image"},
		},
		Remote: SiteConfig{
			APIURL:         "https://commons.wikimedia.org/w/api.php",
			UserAgent:      "SeitenBot2-sdfile (https://github.com/Honjitsu-Seiten/SeitenBot2)",
			MinInterval:    time.Second,
			Timeout:        60 * time.Second,
			FileNamespace:  "File",
			FileNamespaces: []string{"File", "Image"},
		},
		Bot: BotConfig{
			SourceHost:          "ja.wikipedia.org",
			CandidateCategory:   "コモンズへの移動により即時削除対象となったファイル",
			SpeedyTemplates:     []string{"即時削除"},
			FileSpeedyTemplates: []string{"即時削除/ファイル1-5"},
			NowCommonsTemplates: []string{"NowCommons"},
			BoilerplateTemplates: []string{
				"コモンズへの移動推奨", "GFDL", "GFDL-ja", "Self", "Copy to Wikimedia Commons", "MTC",
			},
			KeepLocalTemplates: []string{"Keep local"},
			RecordTemplate:     "Moved from Japanese Wikipedia",
			UploadLogHeading:   "Original upload log",
			CategoryPrefixes:   []string{"category:", "カテゴリ:"},
			ExceptCategories: []string{
				"自由利用できない画像",
				"屋外美術を含む画像",
				"屋外美術写真の利用方針に違反している画像",
				"日本ではパブリックドメインにあり、米国でパブリックドメインにない画像",
				"ライセンスの正確性に疑義がある画像",
				"パブリックドメインとなる理由が不明の画像",
				"著作権放棄したとされる著作者が不明の画像",
				"ライセンス不明の画像",
				"出典不明の画像",
				"削除依頼中のページ",
				"即時削除対象のページ",
			},
			ExemptUsers:   []string{"MGA73", "MGA73bot"},
			NoticePattern: `コモンズ.+?(コピー|転載|移[行出入す])`,
			ImporterTag:   "fileimporter",
			MaxRenameHops: 10,
			MaxUploads:    9,
			MaxEdits:      19,
			DeleteSummary: "Bot: [[WP:CSD#ファイル1-5]] [[c:%s]]へ移行",
			RecordSummary: "Bot: Adding upload logs and histories of the original file on Japanese Wikipedia",
		},
		Ledger: LedgerConfig{
			Page:       "利用者:SeitenBot2/即時削除を見送ったファイル",
			User:       "SeitenBot2",
			TableClass: "seitenbot2",
			Summary:    "Botによる: 一覧の更新",
		},
		LogLevel: "info",
	}
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables (SDFILE_*)
// 2. ./.env.local (dotenv)
// 3. the YAML file at path, or ~/.config/sdfile/config.yaml when path is empty
// 4. built-in defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(".env.local"); err == nil {
		_ = godotenv.Load(".env.local")
	}

	explicit := path != ""
	if !explicit {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".config", "sdfile", "config.yaml")
		}
	}
	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	applyEnv(cfg)

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaultJournalPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings needed for a run are present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Local.APIURL) == "" {
		return fmt.Errorf("config missing local.api_url")
	}
	if strings.TrimSpace(c.Remote.APIURL) == "" {
		return fmt.Errorf("config missing remote.api_url")
	}
	if strings.TrimSpace(c.Ledger.Page) == "" {
		return fmt.Errorf("config missing ledger.page")
	}
	if c.Bot.MaxRenameHops <= 0 {
		return fmt.Errorf("bot.max_rename_hops must be positive")
	}
	if c.Bot.MaxUploads <= 0 || c.Bot.MaxEdits <= 0 {
		return fmt.Errorf("bot.max_uploads and bot.max_edits must be positive")
	}
	if c.Local.MinInterval < 0 || c.Remote.MinInterval < 0 {
		return fmt.Errorf("min_interval must not be negative")
	}
	if (c.Archive.Endpoint == "") != (c.Archive.Bucket == "") {
		return fmt.Errorf("archive.endpoint and archive.bucket must be set together")
	}
	return nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Local.Username, getEnvOrFile("SDFILE_LOCAL_USERNAME", ""))
	setString(&cfg.Local.Password, getEnvOrFile("SDFILE_LOCAL_PASSWORD", "SDFILE_LOCAL_PASSWORD_FILE"))
	setString(&cfg.Remote.Username, getEnvOrFile("SDFILE_REMOTE_USERNAME", ""))
	setString(&cfg.Remote.Password, getEnvOrFile("SDFILE_REMOTE_PASSWORD", "SDFILE_REMOTE_PASSWORD_FILE"))
	setString(&cfg.Journal.Path, os.Getenv("SDFILE_JOURNAL_PATH"))
	setString(&cfg.LogLevel, os.Getenv("SDFILE_LOG_LEVEL"))
	setString(&cfg.Archive.Endpoint, os.Getenv("SDFILE_ARCHIVE_ENDPOINT"))
	setString(&cfg.Archive.Bucket, os.Getenv("SDFILE_ARCHIVE_BUCKET"))
	setString(&cfg.Archive.AccessKey, getEnvOrFile("SDFILE_ARCHIVE_ACCESS_KEY", "SDFILE_ARCHIVE_ACCESS_KEY_FILE"))
	setString(&cfg.Archive.SecretKey, getEnvOrFile("SDFILE_ARCHIVE_SECRET_KEY", "SDFILE_ARCHIVE_SECRET_KEY_FILE"))
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	if fileVar == "" {
		return ""
	}
	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

func defaultJournalPath() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "sdfile.db"
		}
		stateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateHome, "sdfile", "sdfile.db")
}
