package config

const (
	defaultDataDir            = "~/.local/share/shelf"
	defaultLogDir             = "~/.local/share/shelf/logs"
	defaultCatalogBaseURL     = "https://openlibrary.org/search.json"
	defaultCatalogMaxResults  = 5
	defaultDialTimeoutSeconds = 15
	defaultRequestTimeout     = 60
	defaultRequestsPerMinute  = 60
	defaultAcceptThreshold    = 50
	defaultAmbiguityMargin    = 10
	defaultMaxAttempts        = 4
	defaultFuzzyThreshold     = 80
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultNtfyTimeout        = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Catalog: Catalog{
			BaseURL:            defaultCatalogBaseURL,
			MaxResults:         defaultCatalogMaxResults,
			DialTimeoutSeconds: defaultDialTimeoutSeconds,
			RequestTimeout:     defaultRequestTimeout,
			RequestsPerMinute:  defaultRequestsPerMinute,
		},
		Enrichment: Enrichment{
			AcceptThreshold: defaultAcceptThreshold,
			AmbiguityMargin: defaultAmbiguityMargin,
			ReviewAmbiguous: false,
			MaxAttempts:     defaultMaxAttempts,
			FuzzyThreshold:  defaultFuzzyThreshold,
		},
		Worker: Worker{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			Batches:        true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
