package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/flagx"
)

// Flags lists every flag parseFlags understands. Binaries strip these before
// parsing their own arguments.
var Flags = []string{
	"-a", "-d", "-k", "-s", "-t", "-l",
	"-u", "-p", "-b", "-g", "-e",
	"-q", "-i", "-x", "-m",
	"-w", "-n", "-v", "-r", "-o", "-f",
	"-level",
	"-c", "-config",
}

// BoolFlags are the flags that never take a separate value.
var BoolFlags = []string{"-memory"}

// parseFlags overlays Config fields from command-line flags.
//
//	-a string   gRPC health bind address
//	-d string   PostgreSQL DSN
//	-k string   root secret for master key derivation
//	-s string   confirmation token HMAC secret
//	-t int      confirmation token validity, minutes
//	-l string   confirmation link base URL
//	-u/-p/-b/-g/-e   S3 user, password, bucket, region, base endpoint
//	-q string   SQS base endpoint
//	-i/-x/-m    processing, dead-letter and mail queue URLs
//	-w int      number of consumer workers
//	-n int      max delivery attempts before dead-lettering
//	-v int      visibility timeout, seconds
//	-r int      reconcile interval, seconds
//	-o int      age in seconds after which an "uploaded" file is stale
//	-f int      max file size, bytes
//	-memory     run with in-memory collaborators
//	-level      log level
//
// Malformed values panic, matching parseJson.
func parseFlags(config *Config, args []string) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HealthAddrGRPC, "a", config.HealthAddrGRPC, "health gRPC address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RootSecret, "k", config.RootSecret, "root secret")
	fs.StringVar(&config.TokenSecret, "s", config.TokenSecret, "token secret")
	ttl := fs.Int("t", int(config.ConfirmTokenTTL.Minutes()), "confirmation token validity (in minutes)")
	fs.StringVar(&config.ConfirmBaseURL, "l", config.ConfirmBaseURL, "confirmation link base URL")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "AWS region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.SQSBaseEndpoint, "q", config.SQSBaseEndpoint, "SQS base endpoint")
	fs.StringVar(&config.QueueURL, "i", config.QueueURL, "processing queue URL")
	fs.StringVar(&config.DeadLetterURL, "x", config.DeadLetterURL, "dead-letter queue URL")
	fs.StringVar(&config.MailQueueURL, "m", config.MailQueueURL, "mail queue URL")

	fs.IntVar(&config.Workers, "w", config.Workers, "consumer workers")
	fs.IntVar(&config.MaxAttempts, "n", config.MaxAttempts, "max delivery attempts")
	visibility := fs.Int("v", int(config.VisibilityTimeout.Seconds()), "visibility timeout (in seconds)")
	reconcile := fs.Int("r", int(config.ReconcileInterval.Seconds()), "reconcile interval (in seconds)")
	stale := fs.Int("o", int(config.StaleAfter.Seconds()), "stale after (in seconds)")
	fs.Int64Var(&config.MaxFileSize, "f", config.MaxFileSize, "max file size (in bytes)")

	fs.BoolVar(&config.MemoryMode, "memory", config.MemoryMode, "in-memory collaborators")
	fs.StringVar(&config.LogLevel, "level", config.LogLevel, "log level")

	// owned by parseJson, declared so Parse accepts them
	fs.String("c", "", "config file")
	fs.String("config", "", "config file")

	if err := fs.Parse(flagx.FilterArgs(args, Flags, BoolFlags...)); err != nil {
		panic(err)
	}

	config.ConfirmTokenTTL = time.Duration(*ttl) * time.Minute
	config.VisibilityTimeout = time.Duration(*visibility) * time.Second
	config.ReconcileInterval = time.Duration(*reconcile) * time.Second
	config.StaleAfter = time.Duration(*stale) * time.Second
}
