// Package store 提供渠道/模型目录的持久化层（SQLite + gorm）
package store

import "time"

// 端点家族常量，与探测协议一一对应
const (
	EndpointChat   = "CHAT"
	EndpointClaude = "CLAUDE"
	EndpointGemini = "GEMINI"
	EndpointCodex  = "CODEX"
	EndpointImage  = "IMAGE"
)

// Key 模式
const (
	KeyModeSingle = "single"
	KeyModeMulti  = "multi"
)

// 路由策略（multi 模式下由下游代理数据面使用）
const (
	RouteRoundRobin = "round_robin"
	RouteRandom     = "random"
)

// MainKeyID 模型未绑定额外 Key 时的签名占位符
const MainKeyID = "__main__"

// Channel 上游渠道
type Channel struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	BaseURL       string    `gorm:"column:base_url;size:512;not null" json:"baseUrl"`
	APIKey        string    `gorm:"column:api_key;size:512;not null" json:"apiKey"`
	ProxyURL      string    `gorm:"column:proxy_url;size:512" json:"proxyUrl,omitempty"`
	Enabled       bool      `gorm:"default:true" json:"enabled"`
	SortOrder     int       `gorm:"default:0" json:"sortOrder"`
	KeyMode       string    `gorm:"size:16;default:single" json:"keyMode"`
	RouteStrategy string    `gorm:"size:16;default:round_robin" json:"routeStrategy"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	Keys   []ChannelKey `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE" json:"channelKeys,omitempty"`
	Models []Model      `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE" json:"models,omitempty"`
}

// ChannelKey 渠道的额外 API Key
type ChannelKey struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ChannelID string    `gorm:"size:36;index;not null" json:"channelId"`
	APIKey    string    `gorm:"column:api_key;size:512;not null" json:"apiKey"`
	Name      string    `gorm:"size:255" json:"name,omitempty"`
	Valid     *bool     `json:"valid"` // nil=未知 true=有效 false=无效
	CreatedAt time.Time `json:"createdAt"`
}

// Model 渠道下的一个模型
type Model struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	ChannelID     string     `gorm:"size:36;index;not null" json:"channelId"`
	ModelName     string     `gorm:"column:model_name;size:255;not null;index" json:"modelName"`
	ChannelKeyID  *string    `gorm:"column:channel_key_id;size:36" json:"channelKeyId,omitempty"`
	LastStatus    *bool      `gorm:"column:last_status" json:"lastStatus"`
	LastLatency   *int64     `gorm:"column:last_latency" json:"lastLatency"` // 毫秒
	LastCheckedAt *time.Time `gorm:"column:last_checked_at" json:"lastCheckedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`

	Endpoints []ModelEndpoint `gorm:"foreignKey:ModelID;constraint:OnDelete:CASCADE" json:"-"`

	// 只读视图字段，由 Endpoints 派生，不落库
	DetectedEndpoints []string `gorm:"-" json:"detectedEndpoints"`
}

// ModelEndpoint 模型已探测可用的端点。
// 用 (model_id, endpoint_type) 唯一约束的旁表代替数组列：
// 成功时 upsert、失败时 delete，各自对单行原子，多端点并发探测不会互相覆盖。
type ModelEndpoint struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	ModelID      string    `gorm:"size:36;not null;uniqueIndex:idx_model_endpoint,priority:1" json:"modelId"`
	EndpointType string    `gorm:"size:16;not null;uniqueIndex:idx_model_endpoint,priority:2" json:"endpointType"`
	CreatedAt    time.Time `json:"-"`
}

// 探测结果状态
const (
	CheckStatusSuccess = "SUCCESS"
	CheckStatusFail    = "FAIL"
)

// CheckLog 探测日志（只追加，按天数清理）
type CheckLog struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	ModelID         string    `gorm:"size:36;index" json:"modelId"`
	EndpointType    string    `gorm:"size:16" json:"endpointType"`
	Status          string    `gorm:"size:16;not null" json:"status"`
	Latency         int64     `json:"latency"` // 毫秒
	StatusCode      *int      `json:"statusCode,omitempty"`
	ResponseContent string    `gorm:"size:500" json:"responseContent,omitempty"`
	ErrorMsg        string    `gorm:"size:500" json:"errorMsg,omitempty"`
	CreatedAt       time.Time `gorm:"index" json:"createdAt"`
}

// SchedulerConfigID 调度配置单例行的固定主键
const SchedulerConfigID = "default"

// SchedulerConfig 调度配置（单例行 id=default）
type SchedulerConfig struct {
	ID                   string    `gorm:"primaryKey;size:36" json:"id"`
	Enabled              bool      `json:"enabled"`
	CronSchedule         string    `gorm:"size:512" json:"cronSchedule"`
	Timezone             string    `gorm:"size:64" json:"timezone"`
	ChannelConcurrency   int       `json:"channelConcurrency"`
	MaxGlobalConcurrency int       `json:"maxGlobalConcurrency"`
	MinDelayMs           int       `json:"minDelayMs"`
	MaxDelayMs           int       `json:"maxDelayMs"`
	DetectAllChannels    bool      `json:"detectAllChannels"`
	SelectedChannelIDs   *string   `gorm:"column:selected_channel_ids;type:text" json:"-"` // JSON 数组
	SelectedModelIDs     *string   `gorm:"column:selected_model_ids;type:text" json:"-"`   // JSON 对象 channelId -> []modelId
	UpdatedAt            time.Time `json:"updatedAt"`
}

// ModelKeyword 模型同步时的关键字过滤（启用时按子串 OR 匹配保留）
type ModelKeyword struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Keyword   string    `gorm:"size:255;not null" json:"keyword"`
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}
