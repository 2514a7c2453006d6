// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Scale and questionnaire definitions live in their own YAML files named here.
// - External errors must be wrapped via this package's error kinds.
package config

// Catalog sources.
const (
	SourceLocal = "local"
	SourceGCS   = "gcs"
)

// Playback modes surfaced to clients.
const (
	PlaybackLoop = "loop"
	PlaybackOnce = "once"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// MinRatingsPerItem is the per-item quota across all raters.
	MinRatingsPerItem int `koanf:"min_ratings_per_item"`

	// StoreBackend selects the record store: file, badger or sqlite.
	StoreBackend string `koanf:"store_backend"`
	// StorePath is the directory (file, badger) or database file (sqlite).
	StorePath string `koanf:"store_path"`

	// CatalogSource selects where videos are listed from: local or gcs.
	CatalogSource  string `koanf:"catalog_source"`
	VideoPath      string `koanf:"video_path"`
	VideoExtension string `koanf:"video_extension"`

	GCSBucket          string `koanf:"gcs_bucket"`
	GCSPrefix          string `koanf:"gcs_prefix"`
	GCSCredentialsFile string `koanf:"gcs_credentials_file"`

	// CacheDir holds downloaded remote videos.
	CacheDir string `koanf:"cache_dir"`

	// MetadataDBPath points at a duckdb file with an events table. Empty disables lookups.
	MetadataDBPath  string `koanf:"metadata_db_path"`
	DisplayMetadata bool   `koanf:"display_metadata"`

	// VideoPlaybackMode is loop or once.
	VideoPlaybackMode string `koanf:"video_playback_mode"`

	RatingScalesFile        string `koanf:"rating_scales_file"`
	QuestionnaireFieldsFile string `koanf:"questionnaire_fields_file"`

	// Prefetch downloads upcoming session items in the background.
	PrefetchWorkers   int `koanf:"prefetch_workers"`
	PrefetchDepth     int `koanf:"prefetch_depth"`
	PrefetchQueueSize int `koanf:"prefetch_queue_size"`

	// SessionTTLMinutes drops idle sessions from memory. Records are unaffected.
	SessionTTLMinutes int `koanf:"session_ttl_minutes"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		Addr:                    ":9080",
		MinRatingsPerItem:       3,
		StoreBackend:            "file",
		StorePath:               "data",
		CatalogSource:           SourceLocal,
		VideoPath:               "videos",
		VideoExtension:          ".mp4",
		CacheDir:                "video_cache",
		DisplayMetadata:         true,
		VideoPlaybackMode:       PlaybackLoop,
		RatingScalesFile:        "config/rating_scales.yaml",
		QuestionnaireFieldsFile: "config/questionnaire_fields.yaml",
		PrefetchWorkers:         2,
		PrefetchDepth:           2,
		PrefetchQueueSize:       64,
		SessionTTLMinutes:       120,
	}
}
