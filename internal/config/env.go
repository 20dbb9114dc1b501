package config

import (
	"os"
	"strconv"
)

// EnvConfig 进程级环境配置
type EnvConfig struct {
	Port           int
	Env            string
	ProxyAccessKey string // 管理 API 访问密钥
	EnableCORS     bool
	CORSOrigin     string

	QuietPollingLogs bool // 静默轮询端点日志

	// 存储
	DBPath   string // SQLite 数据库文件路径
	RedisURL string // 协调存储（队列/信号量/发布订阅）

	// 检测引擎
	WorkerConcurrency    int    // 工作协程数量
	ChannelConcurrency   int    // 单渠道并发上限（默认值，可被调度配置覆盖）
	MaxGlobalConcurrency int    // 全局并发上限（默认值，可被调度配置覆盖）
	DetectionMinDelayMs  int    // 探测前随机延迟下限
	DetectionMaxDelayMs  int    // 探测前随机延迟上限
	GlobalProxy          string // 进程级默认代理（http/https/socks5）
	DetectPrompt         string // 探测用提示词

	// 定时任务
	AutoDetectEnabled     bool
	AutoDetectAllChannels bool
	CronSchedule          string // cron 列表或 interval 语法
	CleanupSchedule       string // 日志清理 cron
	CronTimezone          string
	LogRetentionDays      int // CheckLog 保留天数

	// 日志文件配置
	LogDir        string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
	LogToConsole  bool
}

// NewEnvConfig 创建环境配置
func NewEnvConfig() *EnvConfig {
	env := getEnv("ENV", "")
	if env == "" {
		env = getEnv("NODE_ENV", "development")
	}

	minDelay := getEnvAsInt("DETECTION_MIN_DELAY_MS", 3000)
	maxDelay := getEnvAsInt("DETECTION_MAX_DELAY_MS", 5000)
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	return &EnvConfig{
		Port:           getEnvAsInt("PORT", 3000),
		Env:            env,
		ProxyAccessKey: getEnv("PROXY_ACCESS_KEY", "your-proxy-access-key"),
		EnableCORS:     getEnv("ENABLE_CORS", "true") != "false",
		CORSOrigin:     getEnv("CORS_ORIGIN", "*"),

		QuietPollingLogs: getEnv("QUIET_POLLING_LOGS", "true") != "false",

		DBPath:   getEnv("DB_PATH", ".config/model-radar.db"),
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		WorkerConcurrency:    clampInt(getEnvAsInt("WORKER_CONCURRENCY", 50), 1, 500),
		ChannelConcurrency:   clampInt(getEnvAsInt("CHANNEL_CONCURRENCY", 1), 1, 100),
		MaxGlobalConcurrency: clampInt(getEnvAsInt("MAX_GLOBAL_CONCURRENCY", 5), 1, 500),
		DetectionMinDelayMs:  minDelay,
		DetectionMaxDelayMs:  maxDelay,
		GlobalProxy:          getEnv("GLOBAL_PROXY", ""),
		DetectPrompt:         getEnv("DETECT_PROMPT", "1+1=2? yes or no"),

		AutoDetectEnabled:     getEnv("AUTO_DETECT_ENABLED", "false") == "true",
		AutoDetectAllChannels: getEnv("AUTO_DETECT_ALL_CHANNELS", "true") != "false",
		CronSchedule:          getEnv("CRON_SCHEDULE", "0 */6 * * *"),
		CleanupSchedule:       getEnv("CLEANUP_SCHEDULE", "0 2 * * *"),
		CronTimezone:          getEnv("CRON_TIMEZONE", "UTC"),
		LogRetentionDays:      clampInt(getEnvAsInt("LOG_RETENTION_DAYS", 7), 1, 90),

		LogDir:        getEnv("LOG_DIR", "logs"),
		LogFile:       getEnv("LOG_FILE", "app.log"),
		LogMaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 10),
		LogMaxAge:     getEnvAsInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnv("LOG_COMPRESS", "true") != "false",
		LogToConsole:  getEnv("LOG_TO_CONSOLE", "true") != "false",
	}
}

// IsDevelopment 是否为开发环境
func (c *EnvConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction 是否为生产环境
func (c *EnvConfig) IsProduction() bool {
	return c.Env == "production"
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt 获取环境变量并转换为整数
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// clampInt 将整数限制在指定范围内
func clampInt(value, minVal, maxVal int) int {
	if value < minVal {
		return minVal
	}
	if value > maxVal {
		return maxVal
	}
	return value
}
