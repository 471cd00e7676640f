package config

import (
	"encoding/json"
	"os"

	"github.com/jambasimaging/bizdesk/internal/flagx"
	"github.com/jambasimaging/bizdesk/internal/timex"
	"github.com/shopspring/decimal"
)

// JsonConfig is the on-disk shape of the JSON config file. Pointer fields
// distinguish "absent" from zero so a file may override only some settings.
type JsonConfig struct {
	HTTPAddr         string `json:"http_addr"`
	MetricsAddr      string `json:"metrics_addr"`
	EndpointAddrGRPC string `json:"endpoint_addr_grpc"`
	DatabaseDSN      string `json:"database_dsn"`
	SecretKey        string `json:"secret_key"`
	LogFormat        string `json:"log_format"`
	Debug            *bool  `json:"debug"`
	AppName          string `json:"app_name"`

	OTPLength              int             `json:"otp_length"`
	OTPTTL                 *timex.Duration `json:"otp_ttl"`
	OTPResendCooldown      *timex.Duration `json:"otp_resend_cooldown"`
	OTPMaxAttempts         int             `json:"otp_max_verify_attempts"`
	LoginMaxFailedAttempts int             `json:"login_max_failed_attempts"`
	LoginLockoutDuration   *timex.Duration `json:"login_lockout"`
	SessionTTL             *timex.Duration `json:"session_ttl"`
	SecureCookies          *bool           `json:"secure_cookies"`

	SessionBackend string `json:"session_backend"`
	RedisURL       string `json:"redis_url"`

	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port"`
	SMTPUser       string `json:"smtp_user"`
	SMTPPassword   string `json:"smtp_password"`
	SMTPFrom       string `json:"smtp_from"`
	SMTPEncryption string `json:"smtp_encryption"`

	S3RootUser     string          `json:"s3_root_user"`
	S3RootPassword string          `json:"s3_root_password"`
	S3Bucket       string          `json:"s3_bucket"`
	S3Region       string          `json:"s3_region"`
	S3BaseEndpoint string          `json:"s3_base_endpoint"`
	ExportURLTTL   *timex.Duration `json:"export_url_ttl"`

	AdminUser             string `json:"admin_user"`
	AdminPassword         string `json:"admin_password"`
	AdminBackofficeExempt *bool  `json:"admin_backoffice_exempt"`

	DefaultVATRate  *decimal.Decimal `json:"default_vat_rate"`
	DefaultCurrency string           `json:"default_currency"`
}

// parseJson overlays values from the JSON file named by -c / -config.
// Without the flag nothing is loaded. An unreadable file or invalid JSON
// panics: the process cannot start on a config it failed to read.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFileFlag()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
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

func (c *JsonConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.AppName, c.AppName)
	if c.Debug != nil {
		config.Debug = *c.Debug
	}

	setInt(&config.OTPLength, c.OTPLength)
	setInt(&config.OTPMaxAttempts, c.OTPMaxAttempts)
	setInt(&config.LoginMaxFailedAttempts, c.LoginMaxFailedAttempts)
	if c.OTPTTL != nil {
		config.OTPTTL = c.OTPTTL.Duration
	}
	if c.OTPResendCooldown != nil {
		config.OTPResendCooldown = c.OTPResendCooldown.Duration
	}
	if c.LoginLockoutDuration != nil {
		config.LoginLockoutDuration = c.LoginLockoutDuration.Duration
	}
	if c.SessionTTL != nil {
		config.SessionTTL = c.SessionTTL.Duration
	}
	if c.SecureCookies != nil {
		config.SecureCookies = *c.SecureCookies
	}

	setString(&config.SessionBackend, c.SessionBackend)
	setString(&config.RedisURL, c.RedisURL)

	setString(&config.SMTPHost, c.SMTPHost)
	setInt(&config.SMTPPort, c.SMTPPort)
	setString(&config.SMTPUser, c.SMTPUser)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.SMTPFrom, c.SMTPFrom)
	setString(&config.SMTPEncryption, c.SMTPEncryption)

	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if c.ExportURLTTL != nil {
		config.ExportURLTTL = c.ExportURLTTL.Duration
	}

	setString(&config.AdminUser, c.AdminUser)
	setString(&config.AdminPassword, c.AdminPassword)
	if c.AdminBackofficeExempt != nil {
		config.AdminBackofficeExempt = *c.AdminBackofficeExempt
	}

	if c.DefaultVATRate != nil {
		config.DefaultVATRate = *c.DefaultVATRate
	}
	setString(&config.DefaultCurrency, c.DefaultCurrency)
}
