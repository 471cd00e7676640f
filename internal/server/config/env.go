package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/jambasimaging/bizdesk/internal/flagx"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// loadDotenv seeds the process environment from the file named by -env, or
// from ./.env when present. Variables already set in the environment win.
func loadDotenv() error {
	if file := flagx.EnvFileFlag(); file != "" {
		return godotenv.Load(file)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type envBinding struct {
	name string
	set  func(string) error
}

func envString(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func envInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func envBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

// envDuration accepts Go duration strings; bare integers are seconds.
func envDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func envDecimal(dst *decimal.Decimal) func(string) error {
	return func(v string) error {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func envBindings(c *Config) []envBinding {
	return []envBinding{
		{"HTTP_ADDR", envString(&c.HTTPAddr)},
		{"METRICS_ADDR", envString(&c.MetricsAddr)},
		{"GRPC_ADDR", envString(&c.EndpointAddrGRPC)},
		{"DATABASE_DSN", envString(&c.DatabaseDSN)},
		{"SECRET_KEY", envString(&c.SecretKey)},
		{"LOG_FORMAT", envString(&c.LogFormat)},
		{"DEBUG", envBool(&c.Debug)},
		{"APP_NAME", envString(&c.AppName)},

		{"OTP_LENGTH", envInt(&c.OTPLength)},
		{"OTP_TTL", envDuration(&c.OTPTTL)},
		{"OTP_RESEND_COOLDOWN", envDuration(&c.OTPResendCooldown)},
		{"OTP_MAX_VERIFY_ATTEMPTS", envInt(&c.OTPMaxAttempts)},
		{"LOGIN_MAX_FAILED_ATTEMPTS", envInt(&c.LoginMaxFailedAttempts)},
		{"LOGIN_LOCKOUT", envDuration(&c.LoginLockoutDuration)},
		{"SESSION_TTL", envDuration(&c.SessionTTL)},
		{"SECURE_COOKIES", envBool(&c.SecureCookies)},

		{"SESSION_BACKEND", envString(&c.SessionBackend)},
		{"REDIS_URL", envString(&c.RedisURL)},

		{"SMTP_HOST", envString(&c.SMTPHost)},
		{"SMTP_PORT", envInt(&c.SMTPPort)},
		{"SMTP_USER", envString(&c.SMTPUser)},
		{"SMTP_PASSWORD", envString(&c.SMTPPassword)},
		{"SMTP_FROM", envString(&c.SMTPFrom)},
		{"SMTP_ENCRYPTION", envString(&c.SMTPEncryption)},

		{"S3_ROOT_USER", envString(&c.S3RootUser)},
		{"S3_ROOT_PASSWORD", envString(&c.S3RootPassword)},
		{"S3_BUCKET", envString(&c.S3Bucket)},
		{"S3_REGION", envString(&c.S3Region)},
		{"S3_BASE_ENDPOINT", envString(&c.S3BaseEndpoint)},
		{"EXPORT_URL_TTL", envDuration(&c.ExportURLTTL)},

		{"ADMIN_USER", envString(&c.AdminUser)},
		{"ADMIN_PASSWORD", envString(&c.AdminPassword)},
		{"ADMIN_BACKOFFICE_EXEMPT", envBool(&c.AdminBackofficeExempt)},

		{"DEFAULT_VAT_RATE", envDecimal(&c.DefaultVATRate)},
		{"DEFAULT_CURRENCY", envString(&c.DefaultCurrency)},
	}
}

// parseEnv overlays every recognised variable that is set and non-empty.
func parseEnv(c *Config) error {
	if err := loadDotenv(); err != nil {
		return fmt.Errorf("dotenv: %w", err)
	}
	return applyEnv(c, os.LookupEnv)
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings(c) {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			return fmt.Errorf("env %s: %w", b.name, err)
		}
	}
	return nil
}
