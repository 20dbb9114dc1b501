// Package utils 提供跨模块的小工具函数
package utils

import "unicode/utf8"

// MaskAPIKey 遮蔽 API Key，仅保留前 4 位和后 4 位
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return key[:1] + "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// Truncate 截断字符串到指定字节数，避免日志和数据库字段被超长内容撑爆。
// 不会在多字节字符中间截断。
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
