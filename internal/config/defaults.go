package config

const (
	defaultStateDir  = "~/.local/share/quill/state"
	defaultNotesDir  = "~/notes"
	defaultLogDir    = "~/.local/share/quill/logs"
	defaultVectorDir = "~/.local/share/quill/vector"

	defaultLLMBaseURL        = "https://openrouter.ai/api/v1"
	defaultLLMModel          = "google/gemini-3-flash-preview"
	defaultEmbeddingModel    = "openai/text-embedding-3-small"
	defaultLLMTimeoutSeconds = 60
	defaultLLMReferer        = "https://github.com/quill-engine/quill"
	defaultLLMTitle          = "Quill Authoring Engine"

	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 5
	defaultMaxAttempts        = 3
	defaultMaxConcurrent      = 2
	defaultLockTTLSeconds     = 300
	defaultLockSweepInterval  = 30

	defaultRetryBaseDelayMS = 500
	defaultRetryMultiplier  = 2.0
	defaultRetryMaxDelayMS  = 30000

	defaultVectorCollection  = "quill_concepts"
	defaultDuplicateThresh   = 0.92
	defaultVectorSearchTopK  = 5
	defaultSnapshotRetention = 30

	defaultNtfyTimeoutSeconds = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			NotesDir:  defaultNotesDir,
			LogDir:    defaultLogDir,
			VectorDir: defaultVectorDir,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			EmbeddingModel: defaultEmbeddingModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			MaxAttempts:        defaultMaxAttempts,
			MaxConcurrent:      defaultMaxConcurrent,
			LockTTLSeconds:     defaultLockTTLSeconds,
			LockSweepInterval:  defaultLockSweepInterval,
			AutoVerify:         false,
		},
		Retry: Retry{
			BaseDelayMS: defaultRetryBaseDelayMS,
			Multiplier:  defaultRetryMultiplier,
			MaxDelayMS:  defaultRetryMaxDelayMS,
		},
		Vector: Vector{
			Collection:         defaultVectorCollection,
			DuplicateThreshold: defaultDuplicateThresh,
			SearchTopK:         defaultVectorSearchTopK,
		},
		Snapshots: Snapshots{
			RetentionDays: defaultSnapshotRetention,
		},
		Notify: Notify{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
