package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/spf13/viper"
)

// ErrConfigurationInvalid 配置值非法，边界处拒绝，保留旧配置
var ErrConfigurationInvalid = errors.New("configuration invalid")

type Config struct {
	Exchange  ExchangeConfig  `mapstructure:"Exchange"`
	Ranking   RankingConfig   `mapstructure:"Ranking"`
	Server    ServerConfig    `mapstructure:"Server"`
	Log       LogConfig       `mapstructure:"Log"`
	Trading   TradingConfig   `mapstructure:"Trading"`
	Execution ExecutionConfig `mapstructure:"Execution"`
}

// ExchangeConfig 定义了交易所的连接信息
type ExchangeConfig struct {
	Name          string
	Mode          string `validate:"oneof=live paper"` // live 走真实 REST，paper 使用内存撮合
	RESTURL       string
	APIKey        string
	SecretKey     string
	Passphrase    string
	QuoteCurrency string        `validate:"required"`
	Timeout       time.Duration `validate:"gt=0"`
	PaperCash     float64       `validate:"gte=0"`
}

// RankingConfig 市值排行数据源 (CoinMarketCap)
type RankingConfig struct {
	Enabled bool
	URL     string
	APIKey  string
	Timeout time.Duration `validate:"gt=0"`
}

type ServerConfig struct {
	Addr string
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// TradingConfig 策略配置。一轮循环开始时取一份快照，循环内只读
type TradingConfig struct {
	WakeInterval           time.Duration `mapstructure:"WakeInterval" json:"-" validate:"min=1s"`
	Fraction               float64       `mapstructure:"Fraction" json:"fraction" validate:"gt=0,lte=1"`
	Margin                 float64       `mapstructure:"Margin" json:"margin" validate:"gt=0"`
	StopMargin             float64       `mapstructure:"StopMargin" json:"stopMargin" validate:"gt=0"`
	WalkAway               float64       `mapstructure:"WalkAway" json:"walkAway" validate:"gte=0"`
	Strategy               string        `mapstructure:"Strategy" json:"strategy" validate:"oneof=compositeScore vwap slope change volatility relativeVolume"`
	MaxVWAP                float64       `mapstructure:"MaxVWAP" json:"maxVwap"`
	MinSlope               float64       `mapstructure:"MinSlope" json:"minSlope"`
	DryRun                 bool          `mapstructure:"DryRun" json:"dryRun"`
	MaxOrders              int           `mapstructure:"MaxOrders" json:"maxOrders" validate:"gte=0"`
	MaxVolatility          float64       `mapstructure:"MaxVolatility" json:"maxVolatility" validate:"gte=0"`
	MinLoss                float64       `mapstructure:"MinLoss" json:"minLoss"`
	MaxRSI                 float64       `mapstructure:"MaxRSI" json:"maxRSI" validate:"gte=0,lte=100"`
	MinRelVol              float64       `mapstructure:"MinRelVol" json:"minRelVol" validate:"gte=0"`
	MaxRounds              int           `mapstructure:"MaxRounds" json:"maxRounds" validate:"gte=0"`
	MinMarketSlopeCategory int           `mapstructure:"MinMarketSlopeCategory" json:"minMarketSlopeCategory" validate:"gte=0,lte=5"`
	MaxRank                int           `mapstructure:"MaxRank" json:"maxRank" validate:"gte=0"`
}

// MarshalJSON 唤醒周期以简写形式输出，例如 "10m"
func (c TradingConfig) MarshalJSON() ([]byte, error) {
	type alias TradingConfig
	return json.Marshal(struct {
		WakeTime string `json:"wakeTime"`
		alias
	}{FormatInterval(c.WakeInterval), alias(c)})
}

// ExecutionConfig 交易所调用的节奏和重试参数，测试中可以注入接近 0 的延迟
type ExecutionConfig struct {
	Pacing            time.Duration `validate:"gte=0"`
	CandleAttempts    int           `validate:"gte=1"`
	CandleDelay       time.Duration `validate:"gte=0"`
	CandleGranularity int           `validate:"gt=0"`
	LookbackMultiple  int           `validate:"gte=1"`
	FillAttempts      int           `validate:"gte=1"`
	FillInterval      time.Duration `validate:"gte=0"`
	SellRetryDelay    time.Duration `validate:"gte=0"`
	ExitMargin        float64       `validate:"gte=0"`
}

var validate = validator.New()

// Validate 校验全部配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationInvalid, err)
	}
	return nil
}

// Validate 只校验策略配置
func (c TradingConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationInvalid, err)
	}
	return nil
}

// TradingPatch 外部配置接口提交的部分更新，nil 字段保持原值
type TradingPatch struct {
	WakeTime               *string  `json:"wakeTime"`
	Fraction               *float64 `json:"fraction"`
	Margin                 *float64 `json:"margin"`
	StopMargin             *float64 `json:"stopMargin"`
	WalkAway               *float64 `json:"walkAway"`
	Strategy               *string  `json:"strategy"`
	MaxVWAP                *float64 `json:"maxVwap"`
	MinSlope               *float64 `json:"minSlope"`
	DryRun                 *bool    `json:"dryRun"`
	MaxOrders              *int     `json:"maxOrders"`
	MaxVolatility          *float64 `json:"maxVolatility"`
	MinLoss                *float64 `json:"minLoss"`
	MaxRSI                 *float64 `json:"maxRSI"`
	MinRelVol              *float64 `json:"minRelVol"`
	MaxRounds              *int     `json:"maxRounds"`
	MinMarketSlopeCategory *int     `json:"minMarketSlopeCategory"`
	MaxRank                *int     `json:"maxRank"`
}

// Apply 在 base 的副本上合并补丁并校验。校验失败时返回 ErrConfigurationInvalid，base 不受影响
func (p TradingPatch) Apply(base TradingConfig) (TradingConfig, error) {
	next := base
	if p.WakeTime != nil {
		d, err := ParseIntervalDuration(*p.WakeTime)
		if err != nil {
			return base, fmt.Errorf("%w: wakeTime: %v", ErrConfigurationInvalid, err)
		}
		next.WakeInterval = d
	}
	setFloat(&next.Fraction, p.Fraction)
	setFloat(&next.Margin, p.Margin)
	setFloat(&next.StopMargin, p.StopMargin)
	setFloat(&next.WalkAway, p.WalkAway)
	setFloat(&next.MaxVWAP, p.MaxVWAP)
	setFloat(&next.MinSlope, p.MinSlope)
	setFloat(&next.MaxVolatility, p.MaxVolatility)
	setFloat(&next.MinLoss, p.MinLoss)
	setFloat(&next.MaxRSI, p.MaxRSI)
	setFloat(&next.MinRelVol, p.MinRelVol)
	setInt(&next.MaxOrders, p.MaxOrders)
	setInt(&next.MaxRounds, p.MaxRounds)
	setInt(&next.MinMarketSlopeCategory, p.MinMarketSlopeCategory)
	setInt(&next.MaxRank, p.MaxRank)
	if p.Strategy != nil {
		next.Strategy = *p.Strategy
	}
	if p.DryRun != nil {
		next.DryRun = *p.DryRun
	}

	if err := next.Validate(); err != nil {
		return base, err
	}
	return next, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDefaults() {
	viper.SetDefault("Exchange.Name", "coinbase")
	viper.SetDefault("Exchange.Mode", "paper")
	viper.SetDefault("Exchange.RESTURL", "https://api.exchange.coinbase.com")
	viper.SetDefault("Exchange.APIKey", "")
	viper.SetDefault("Exchange.SecretKey", "")
	viper.SetDefault("Exchange.Passphrase", "")
	viper.SetDefault("Exchange.QuoteCurrency", "USD")
	viper.SetDefault("Exchange.Timeout", "15s")
	viper.SetDefault("Exchange.PaperCash", 1000)

	viper.SetDefault("Ranking.Enabled", false)
	viper.SetDefault("Ranking.URL", "https://pro-api.coinmarketcap.com")
	viper.SetDefault("Ranking.APIKey", "")
	viper.SetDefault("Ranking.Timeout", "10s")

	viper.SetDefault("Server.Addr", ":8080")

	viper.SetDefault("Log.Level", "info")
	viper.SetDefault("Log.File", "")
	viper.SetDefault("Log.MaxSizeMB", 100)
	viper.SetDefault("Log.MaxBackups", 5)
	viper.SetDefault("Log.MaxAgeDays", 14)

	viper.SetDefault("Trading.WakeInterval", "10m")
	viper.SetDefault("Trading.Fraction", 0.75)
	viper.SetDefault("Trading.Margin", 0.01)
	viper.SetDefault("Trading.StopMargin", 0.005)
	viper.SetDefault("Trading.WalkAway", 0.03)
	viper.SetDefault("Trading.Strategy", "change")
	viper.SetDefault("Trading.MaxVWAP", -0.001)
	viper.SetDefault("Trading.MinSlope", 0.001)
	viper.SetDefault("Trading.DryRun", true)
	viper.SetDefault("Trading.MaxOrders", 1)
	viper.SetDefault("Trading.MaxVolatility", 0.01)
	viper.SetDefault("Trading.MinLoss", -0.5)
	viper.SetDefault("Trading.MaxRSI", 30)
	viper.SetDefault("Trading.MinRelVol", 5)
	viper.SetDefault("Trading.MaxRounds", 100)
	viper.SetDefault("Trading.MinMarketSlopeCategory", 3)
	viper.SetDefault("Trading.MaxRank", 10)

	viper.SetDefault("Execution.Pacing", "300ms")
	viper.SetDefault("Execution.CandleAttempts", 50)
	viper.SetDefault("Execution.CandleDelay", "300ms")
	viper.SetDefault("Execution.CandleGranularity", 60)
	viper.SetDefault("Execution.LookbackMultiple", 5)
	viper.SetDefault("Execution.FillAttempts", 100)
	viper.SetDefault("Execution.FillInterval", "300ms")
	viper.SetDefault("Execution.SellRetryDelay", "1s")
	viper.SetDefault("Execution.ExitMargin", 0.001)
}

// LoadConfig 读取并解析配置文件，环境变量 TRADER_<SECTION>_<KEY> 可覆盖任意配置项。
// 配置文件不存在时使用默认值
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)

	viper.SetEnvPrefix("TRADER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decodeConfig()
}

func decodeConfig() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WatchConfig 监听配置文件变更，解析成功后回调；解析或校验失败时保留旧配置并回调 onError
func WatchConfig(onChange func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decodeConfig()
		if err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}
