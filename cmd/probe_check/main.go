// probe_check - 对单个模型手动跑一轮探测，打印各端点家族的结果
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BenedictKing/model-radar/internal/httpclient"
	"github.com/BenedictKing/model-radar/internal/probe"
)

func main() {
	var (
		baseURL  = flag.String("base", "", "上游 Base URL（必填）")
		apiKey   = flag.String("key", "", "API 密钥（必填）")
		model    = flag.String("model", "", "模型名（必填）")
		proxyURL = flag.String("proxy", "", "代理地址（http/https/socks5，可选）")
		prompt   = flag.String("prompt", "", "探测提示词（默认 "+probe.DefaultPrompt+"）")
		endpoint = flag.String("endpoint", "", "只测指定端点家族（CHAT/CLAUDE/GEMINI/CODEX/IMAGE，默认按模型名分类）")
		timeout  = flag.Duration("timeout", 60*time.Second, "总超时")
	)
	flag.Parse()

	if *baseURL == "" || *apiKey == "" || *model == "" {
		flag.Usage()
		os.Exit(2)
	}

	endpoints := probe.ClassifyModel(*model)
	if *endpoint != "" {
		endpoints = []string{*endpoint}
	}
	fmt.Printf("模型 %s -> 端点家族 %v\n\n", *model, endpoints)

	executor := probe.NewExecutor(httpclient.GetManager(), *proxyURL, *prompt)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	failed := false
	for _, ep := range endpoints {
		result := executor.Probe(ctx, probe.Job{
			ModelName:    *model,
			BaseURL:      *baseURL,
			APIKey:       *apiKey,
			Proxy:        *proxyURL,
			EndpointType: ep,
		})

		fmt.Printf("[%s] %s (%dms)\n", ep, result.Status, result.Latency)
		if result.StatusCode != nil {
			fmt.Printf("  HTTP 状态: %d\n", *result.StatusCode)
		}
		if result.ResponseContent != "" {
			fmt.Printf("  响应内容: %s\n", result.ResponseContent)
		}
		if result.ErrorMsg != "" {
			fmt.Printf("  错误: %s\n", result.ErrorMsg)
			failed = true
		}
		fmt.Println()
	}

	if failed {
		os.Exit(1)
	}
}
