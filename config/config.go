// Package config 读取服务端与客户端的运行配置：默认值 → .env → 环境变量 → 命令行
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 运行配置
type Config struct {
	Addr       string // 监听地址，如 :54555
	PublicAddr string // 对外地址（二维码加入链接），为空则使用 localhost+Addr

	LogFile   string
	LogLevel  string
	LogStderr bool

	// 重开轮次的重试策略
	RetryInterval time.Duration
	MaxAttempts   int
	SweepInterval time.Duration

	// 客户端侧
	ConnectTimeout time.Duration
	MenuWatchdog   time.Duration
}

// Default 默认配置
func Default() Config {
	return Config{
		Addr:           ":54555",
		LogFile:        "coop.log",
		LogLevel:       "debug",
		RetryInterval:  500 * time.Millisecond,
		MaxAttempts:    5,
		SweepInterval:  100 * time.Millisecond,
		ConnectTimeout: 5 * time.Second,
		MenuWatchdog:   3 * time.Second,
	}
}

// FromEnv 在默认值基础上叠加 .env 文件与 COOP_* 环境变量
// envFile 不存在时忽略
func FromEnv(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	c := Default()
	var err error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			b, perr := strconv.ParseBool(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = b
		}
	}

	str("COOP_ADDR", &c.Addr)
	str("COOP_PUBLIC_ADDR", &c.PublicAddr)
	str("COOP_LOG_FILE", &c.LogFile)
	str("COOP_LOG_LEVEL", &c.LogLevel)
	boolean("COOP_LOG_STDERR", &c.LogStderr)
	dur("COOP_RETRY_INTERVAL", &c.RetryInterval)
	num("COOP_MAX_ATTEMPTS", &c.MaxAttempts)
	dur("COOP_SWEEP_INTERVAL", &c.SweepInterval)
	dur("COOP_CONNECT_TIMEOUT", &c.ConnectTimeout)
	dur("COOP_MENU_WATCHDOG", &c.MenuWatchdog)
	if err != nil {
		return Config{}, err
	}
	return c, nil
}

// RegisterFlags 将配置字段注册为命令行参数，当前值作为默认值
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address, e.g. :54555")
	fs.StringVar(&c.PublicAddr, "public-addr", c.PublicAddr, "address advertised in the join QR code")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "rotating log file path (empty: stderr only)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&c.LogStderr, "log-stderr", c.LogStderr, "also write logs to stderr")
	fs.DurationVar(&c.RetryInterval, "retry-interval", c.RetryInterval, "restart request resend interval")
	fs.IntVar(&c.MaxAttempts, "max-attempts", c.MaxAttempts, "restart request attempts per connection")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "retry sweep period")
	fs.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "client connect timeout")
	fs.DurationVar(&c.MenuWatchdog, "menu-watchdog", c.MenuWatchdog, "client return-to-menu watchdog")
}

// Validate 检查取值范围
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("addr must not be empty")
	case c.RetryInterval <= 0:
		return errors.New("retry interval must be positive")
	case c.MaxAttempts < 1:
		return errors.New("max attempts must be at least 1")
	case c.SweepInterval <= 0:
		return errors.New("sweep interval must be positive")
	case c.ConnectTimeout <= 0:
		return errors.New("connect timeout must be positive")
	case c.MenuWatchdog <= 0:
		return errors.New("menu watchdog must be positive")
	}
	return nil
}

// Load 完整加载流程：默认值 → .env → 环境变量 → args
func Load(envFile string, args []string) (Config, error) {
	c, err := FromEnv(envFile)
	if err != nil {
		return Config{}, err
	}
	fs := flag.NewFlagSet("coopsession", flag.ContinueOnError)
	c.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
