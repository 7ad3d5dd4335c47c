package models

// MConfig Structure
type MConfig struct {
	Name      string         `yaml:"name"`
	Host      string         `yaml:"host"`
	Port      int            `yaml:"port"`
	LogLevel  string         `yaml:"log_level"`
	GrpcHost  string         `yaml:"grpc_host"`
	GrpcPort  int            `yaml:"grpc_port"`
	Backend   MBackendConfig `yaml:"backend"`
	Polling   MPollingConfig `yaml:"polling"`
	History   MHistoryConfig `yaml:"history"`
	Watchlist []string       `yaml:"watchlist"`
}

type MBackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	StreamURL      string        `yaml:"stream_url"`
	Provider       string        `yaml:"provider"`
	RequestTimeout int           `yaml:"timeout"`
	MaxRetries     int           `yaml:"retries"`
	UserAgent      string        `yaml:"user_agent"`
	Paths          MBackendPaths `yaml:"paths"`
}

type MBackendPaths struct {
	Orders    string `yaml:"orders"`
	Fills     string `yaml:"fills"`
	Positions string `yaml:"positions"`
	Quotes    string `yaml:"quotes"`
	Metrics   string `yaml:"metrics"`
	Start     string `yaml:"start"`
	Stop      string `yaml:"stop"`
	StopAll   string `yaml:"stop_all"`
	Flatten   string `yaml:"flatten"`
}

type MPollingConfig struct {
	IntervalSeconds int  `yaml:"interval_seconds"`
	PauseWhenHidden bool `yaml:"pause_when_hidden"`
	MarketHoursOnly bool `yaml:"market_hours_only"`
}

type MHistoryConfig struct {
	Cap int `yaml:"cap"`
}

// LogLevelName lets the logger pick its level straight from the config.
func (c *MConfig) LogLevelName() string {
	return c.LogLevel
}
