package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every setting in the environment: DETOX_SHELL, DETOX_LOG_LEVEL, ...
const EnvPrefix = "DETOX"

type Config struct {
	WorkDir          string
	ConfigFile       string
	Shell            string
	EnvDir           string
	Python           string
	Installer        string
	Classify         string
	TeardownAttempts int

	LogLevel    string
	LogEncoding string
	LogOutput   string

	// job output storage
	LogDir      string
	LogBucket   string
	LogPrefix   string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	MetricsFile    string
	PushgatewayURL string
	OTLPEndpoint   string

	DatabaseURL   string
	RedisAddr     string
	EtcdEndpoints []string
	LockTTL       int

	Schedule     string
	StatusPort   string
	StatusSecret string
}

var defaults = map[string]any{
	"workdir":           ".",
	"config":            "",
	"shell":             "/bin/bash",
	"env_dir":           ".detoxenv",
	"python":            "python3",
	"installer":         "pip install",
	"classify":          "output",
	"teardown_attempts": 3,
	"log_level":         "info",
	"log_encoding":      "console",
	"log_output":        "stdout",
	"log_dir":           "",
	"log_bucket":        "",
	"log_prefix":        "detox/",
	"s3_region":         "us-east-1",
	"s3_endpoint":       "",
	"s3_access_key":     "",
	"s3_secret_key":     "",
	"metrics_file":      "",
	"pushgateway_url":   "",
	"otlp_endpoint":     "",
	"database_url":      "",
	"redis_addr":        "",
	"etcd_endpoints":    "",
	"lock_ttl":          30,
	"schedule":          "",
	"status_port":       "",
	"status_secret":     "",
}

// Bind registers defaults and environment lookup on v.
func Bind(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// LoadConfig reads the settings from v. Flags bound to v take precedence over
// the environment, which takes precedence over defaults.
func LoadConfig(v *viper.Viper) *Config {
	Bind(v)
	return &Config{
		WorkDir:          v.GetString("workdir"),
		ConfigFile:       v.GetString("config"),
		Shell:            v.GetString("shell"),
		EnvDir:           v.GetString("env_dir"),
		Python:           v.GetString("python"),
		Installer:        v.GetString("installer"),
		Classify:         v.GetString("classify"),
		TeardownAttempts: atLeast(v.GetInt("teardown_attempts"), 1),

		LogLevel:    v.GetString("log_level"),
		LogEncoding: v.GetString("log_encoding"),
		LogOutput:   v.GetString("log_output"),

		LogDir:      v.GetString("log_dir"),
		LogBucket:   v.GetString("log_bucket"),
		LogPrefix:   v.GetString("log_prefix"),
		S3Region:    v.GetString("s3_region"),
		S3Endpoint:  v.GetString("s3_endpoint"),
		S3AccessKey: v.GetString("s3_access_key"),
		S3SecretKey: v.GetString("s3_secret_key"),

		MetricsFile:    v.GetString("metrics_file"),
		PushgatewayURL: v.GetString("pushgateway_url"),
		OTLPEndpoint:   v.GetString("otlp_endpoint"),

		DatabaseURL:   v.GetString("database_url"),
		RedisAddr:     v.GetString("redis_addr"),
		EtcdEndpoints: splitList(v.GetString("etcd_endpoints")),
		LockTTL:       atLeast(v.GetInt("lock_ttl"), 5),

		Schedule:     v.GetString("schedule"),
		StatusPort:   v.GetString("status_port"),
		StatusSecret: v.GetString("status_secret"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atLeast(n, min int) int {
	if n < min {
		return min
	}
	return n
}
