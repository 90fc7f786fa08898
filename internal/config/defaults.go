package config

const (
	defaultConfigPath             = "~/.config/ferry/config.toml"
	defaultDataDir                = "~/.local/share/ferry"
	defaultLogDir                 = "~/.local/share/ferry/logs"
	defaultSocketName             = "ferry.sock"
	defaultStoreVersion           = 2
	defaultMaxAvatarDim           = 256
	defaultAvatarQuality          = 85
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "google/gemini-3-flash-preview"
	defaultLLMTemperature         = 0.8
	defaultLLMMaxTokens           = 2048
	defaultLLMReferer             = "https://github.com/ferry-dev/ferry"
	defaultLLMTitle               = "Ferry"
	defaultLLMTimeoutSeconds      = 60
	defaultLLMRetryAttempts       = 1
	defaultDaemonWorkers          = 2
	defaultDaemonQueueSize        = 64
	defaultDaemonMailboxSize      = 256
	defaultPollWaitSeconds        = 25
	defaultCleanupIntervalMinutes = 60
	defaultTaskRetentionHours     = 7 * 24
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Store: Store{
			Version: defaultStoreVersion,
		},
		Blobs: Blobs{
			MaxAvatarDim:  defaultMaxAvatarDim,
			AvatarQuality: defaultAvatarQuality,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Temperature:    defaultLLMTemperature,
			MaxTokens:      defaultLLMMaxTokens,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			RetryAttempts:  defaultLLMRetryAttempts,
		},
		Daemon: Daemon{
			Workers:                defaultDaemonWorkers,
			QueueSize:              defaultDaemonQueueSize,
			MailboxSize:            defaultDaemonMailboxSize,
			PollWaitSeconds:        defaultPollWaitSeconds,
			CleanupIntervalMinutes: defaultCleanupIntervalMinutes,
			TaskRetentionHours:     defaultTaskRetentionHours,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completed:      true,
			Failed:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
