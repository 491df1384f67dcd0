package config

const (
	defaultConfigPath            = "~/.config/reelgrab/config.toml"
	defaultDownloadDir           = "~/Downloads/reelgrab"
	defaultLogDir                = "~/.local/share/reelgrab/logs"
	defaultWorkerBaseURL         = "http://localhost:5000"
	defaultPreviewTimeoutSecs    = 15
	defaultSubmitTimeoutSecs     = 10
	defaultBundleTimeoutSecs     = 600
	defaultHealthTimeoutSecs     = 5
	defaultDownloadTimeoutSecs   = 1800
	defaultHeartbeatIntervalSecs = 15
	defaultReconnectAttempts     = 10
	defaultReconnectDelayMillis  = 1000
	defaultReconnectMaxMillis    = 5000
	defaultConnectTimeoutSecs    = 20
	defaultPollWaitSecs          = 25
	defaultCancelConfirmSecs     = 30
	defaultPreviewDebounceMillis = 600
	defaultDeliveryStaggerMillis = 750
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Channel transport names accepted in channel.transports.
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DownloadDir: defaultDownloadDir,
			StateDir:    defaultStateDir(),
			LogDir:      defaultLogDir,
		},
		Worker: Worker{
			BaseURL:             defaultWorkerBaseURL,
			PreviewTimeoutSecs:  defaultPreviewTimeoutSecs,
			SubmitTimeoutSecs:   defaultSubmitTimeoutSecs,
			BundleTimeoutSecs:   defaultBundleTimeoutSecs,
			HealthTimeoutSecs:   defaultHealthTimeoutSecs,
			DownloadTimeoutSecs: defaultDownloadTimeoutSecs,
		},
		Channel: Channel{
			Transports:            []string{TransportWebSocket, TransportPolling},
			HeartbeatIntervalSecs: defaultHeartbeatIntervalSecs,
			ReconnectAttempts:     defaultReconnectAttempts,
			ReconnectDelayMillis:  defaultReconnectDelayMillis,
			ReconnectMaxMillis:    defaultReconnectMaxMillis,
			ConnectTimeoutSecs:    defaultConnectTimeoutSecs,
			PollWaitSecs:          defaultPollWaitSecs,
			CancelConfirmSecs:     defaultCancelConfirmSecs,
		},
		Preview: Preview{
			DebounceMillis: defaultPreviewDebounceMillis,
		},
		Delivery: Delivery{
			StaggerMillis: defaultDeliveryStaggerMillis,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completed:      true,
			Errors:         true,
			Connection:     true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
