package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/flagx"
	"github.com/dmitrijs2005/outofsight/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations use
// timex.Duration so "30s" and integer nanoseconds are both accepted.
type JsonConfig struct {
	HealthAddrGRPC    string         `json:"health_addr_grpc"`
	DatabaseDSN       string         `json:"database_dsn"`
	RootSecret        string         `json:"root_secret"`
	TokenSecret       string         `json:"token_secret"`
	ConfirmTokenTTL   timex.Duration `json:"confirm_token_ttl"`
	ConfirmBaseURL    string         `json:"confirm_base_url"`
	MailFrom          string         `json:"mail_from"`
	S3RootUser        string         `json:"s3_root_user"`
	S3RootPassword    string         `json:"s3_root_password"`
	S3Bucket          string         `json:"s3_bucket"`
	S3Region          string         `json:"s3_region"`
	S3BaseEndpoint    string         `json:"s3_base_endpoint"`
	SQSBaseEndpoint   string         `json:"sqs_base_endpoint"`
	QueueURL          string         `json:"queue_url"`
	DeadLetterURL     string         `json:"dead_letter_url"`
	MailQueueURL      string         `json:"mail_queue_url"`
	Workers           int            `json:"workers"`
	MaxAttempts       int            `json:"max_attempts"`
	VisibilityTimeout timex.Duration `json:"visibility_timeout"`
	ReceiveWait       timex.Duration `json:"receive_wait"`
	ReconcileInterval timex.Duration `json:"reconcile_interval"`
	StaleAfter        timex.Duration `json:"stale_after"`
	MaxFileSize       int64          `json:"max_file_size"`
	AllowedTypes      []string       `json:"allowed_types"`
	MemoryMode        *bool          `json:"memory_mode"`
	LogLevel          string         `json:"log_level"`
}

// parseJson loads the file named by -c/-config in args, if any, and copies
// every field present in it over config. Unreadable or invalid files panic.
func parseJson(config *Config, args []string) {
	path := flagx.JsonConfigFlags(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.HealthAddrGRPC, c.HealthAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.RootSecret, c.RootSecret)
	setString(&config.TokenSecret, c.TokenSecret)
	setDuration(&config.ConfirmTokenTTL, c.ConfirmTokenTTL)
	setString(&config.ConfirmBaseURL, c.ConfirmBaseURL)
	setString(&config.MailFrom, c.MailFrom)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.SQSBaseEndpoint, c.SQSBaseEndpoint)
	setString(&config.QueueURL, c.QueueURL)
	setString(&config.DeadLetterURL, c.DeadLetterURL)
	setString(&config.MailQueueURL, c.MailQueueURL)
	setInt(&config.Workers, c.Workers)
	setInt(&config.MaxAttempts, c.MaxAttempts)
	setDuration(&config.VisibilityTimeout, c.VisibilityTimeout)
	setDuration(&config.ReceiveWait, c.ReceiveWait)
	setDuration(&config.ReconcileInterval, c.ReconcileInterval)
	setDuration(&config.StaleAfter, c.StaleAfter)
	if c.MaxFileSize > 0 {
		config.MaxFileSize = c.MaxFileSize
	}
	if len(c.AllowedTypes) > 0 {
		config.AllowedTypes = c.AllowedTypes
	}
	if c.MemoryMode != nil {
		config.MemoryMode = *c.MemoryMode
	}
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
