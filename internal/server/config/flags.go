package config

import (
	"flag"
	"os"

	"github.com/jambasimaging/bizdesk/internal/flagx"
)

var knownFlags = []string{
	"-a", "-m", "-g", "-d", "-s", "-log-format",
	"-otp-length", "-otp-ttl", "-otp-cooldown", "-otp-attempts",
	"-login-attempts", "-login-lockout", "-session-ttl",
	"-session-backend", "-redis-url",
	"-b", "-e", "-admin-exempt",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string             HTTP bind address (e.g. ":8080")
//	-m string             metrics bind address (e.g. "127.0.0.1:9091")
//	-g string             gRPC bind address (e.g. ":50051")
//	-d string             PostgreSQL DSN
//	-s string             session signing secret
//	-log-format string    json | text | zap
//	-otp-length int       OTP digits
//	-otp-ttl duration     OTP lifetime
//	-otp-cooldown dur     minimum delay between OTP sends
//	-otp-attempts int     wrong OTP entries before the code is burnt
//	-login-attempts int   failed passwords before lockout
//	-login-lockout dur    lockout window
//	-session-ttl dur      session lifetime
//	-session-backend str  memory | redis
//	-redis-url string     redis URL for the redis backend
//	-b string             S3 bucket for report exports
//	-e string             S3 base endpoint
//	-admin-exempt bool    exempt /admin/ from the OTP gate
//
// Only these flags are looked at (flagx.FilterArgs), so -c/-config and -env
// stay with their own layers. Parse errors panic.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run HTTP server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address and port to serve Prometheus metrics")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "address and port to run gRPC server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "log format")

	fs.IntVar(&config.OTPLength, "otp-length", config.OTPLength, "OTP length")
	fs.DurationVar(&config.OTPTTL, "otp-ttl", config.OTPTTL, "OTP time to live")
	fs.DurationVar(&config.OTPResendCooldown, "otp-cooldown", config.OTPResendCooldown, "OTP resend cooldown")
	fs.IntVar(&config.OTPMaxAttempts, "otp-attempts", config.OTPMaxAttempts, "OTP max verify attempts")
	fs.IntVar(&config.LoginMaxFailedAttempts, "login-attempts", config.LoginMaxFailedAttempts, "max failed logins")
	fs.DurationVar(&config.LoginLockoutDuration, "login-lockout", config.LoginLockoutDuration, "lockout duration")
	fs.DurationVar(&config.SessionTTL, "session-ttl", config.SessionTTL, "session lifetime")

	fs.StringVar(&config.SessionBackend, "session-backend", config.SessionBackend, "session backend")
	fs.StringVar(&config.RedisURL, "redis-url", config.RedisURL, "redis URL")

	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.BoolVar(&config.AdminBackofficeExempt, "admin-exempt", config.AdminBackofficeExempt, "exempt back-office from OTP gate")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
