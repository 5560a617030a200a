package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// GatewayConfig holds the payment-gateway endpoint and merchant credentials.
// It lives in a watched config file so credentials can rotate without a restart.
type GatewayConfig struct {
	BaseURL   string `mapstructure:"baseUrl"`
	AppKey    string `mapstructure:"appKey"`
	AppSecret string `mapstructure:"appSecret"`

	// MerchantReference is either a gateway integration code or a tracking
	// number. The two are not distinguishable up front; see gateway.ClassifyReference.
	MerchantReference string `mapstructure:"merchantReference"`

	// SandboxOrigins are gateway-controlled origins allowed to post payment
	// results back to the host.
	SandboxOrigins []string `mapstructure:"sandboxOrigins"`

	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		BaseURL:        "https://provisioning.sipay.com.tr/ccpayment",
		SandboxOrigins: []string{"https://provisioning.sipay.com.tr"},
		TimeoutSeconds: 15,
	}
}

type GatewayConfigHolder struct {
	current atomic.Value // holds GatewayConfig
}

func NewGatewayConfigHolder() (*GatewayConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("gateway")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/payflow/config")
	v.AddConfigPath("/etc/payflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultGatewayConfig()
		v.SetDefault("gateway.baseUrl", defaults.BaseURL)
		v.SetDefault("gateway.sandboxOrigins", defaults.SandboxOrigins)
		v.SetDefault("gateway.timeoutSeconds", defaults.TimeoutSeconds)
	}

	var cfg GatewayConfig
	if err := v.UnmarshalKey("gateway", &cfg); err != nil {
		return nil, err
	}
	if err := validateGatewayConfig(cfg); err != nil {
		return nil, err
	}

	holder := &GatewayConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated GatewayConfig
		if err := v.UnmarshalKey("gateway", &updated); err != nil {
			log.Printf("[gateway-config] reload failed: %v", err)
			return
		}
		if err := validateGatewayConfig(updated); err != nil {
			log.Printf("[gateway-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[gateway-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *GatewayConfigHolder) Get() GatewayConfig {
	return h.current.Load().(GatewayConfig)
}

// NewStaticGatewayConfigHolder wraps a fixed config, for tests.
func NewStaticGatewayConfigHolder(cfg GatewayConfig) *GatewayConfigHolder {
	holder := &GatewayConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateGatewayConfig(cfg GatewayConfig) error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return errors.New("gateway.baseUrl cannot be empty")
	}
	if cfg.TimeoutSeconds <= 0 {
		return errors.New("gateway.timeoutSeconds must be positive")
	}
	return nil
}
