package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	GatewayPort        int
	LogLevel           string
	OrdersServiceURL   string
	PaymentsServiceURL string
	CORSAllowedOrigins []string
	ProxyTimeout       time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("GATEWAY_PORT", 80)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ORDERS_SERVICE_HOST", "http://localhost:8081")
	v.SetDefault("PAYMENTS_SERVICE_HOST", "http://localhost:8082")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("GATEWAY_PROXY_TIMEOUT", 30*time.Second)
}

func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		GatewayPort:        v.GetInt("GATEWAY_PORT"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		OrdersServiceURL:   v.GetString("ORDERS_SERVICE_HOST"),
		PaymentsServiceURL: v.GetString("PAYMENTS_SERVICE_HOST"),
		ProxyTimeout:       v.GetDuration("GATEWAY_PROXY_TIMEOUT"),
	}
	for _, origin := range strings.Split(v.GetString("CORS_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	if cfg.GatewayPort <= 0 {
		return nil, fmt.Errorf("invalid GATEWAY_PORT: %d", cfg.GatewayPort)
	}
	for key, raw := range map[string]string{
		"ORDERS_SERVICE_HOST":   cfg.OrdersServiceURL,
		"PAYMENTS_SERVICE_HOST": cfg.PaymentsServiceURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid %s %q: must be an absolute URL", key, raw)
		}
	}
	return cfg, nil
}
