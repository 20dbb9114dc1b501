// Package modelsync 实现渠道模型目录的同步管道：从上游发现模型、按关键字过滤、对账入库。
package modelsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/BenedictKing/model-radar/internal/httpclient"
	"github.com/BenedictKing/model-radar/internal/probe"
	"github.com/BenedictKing/model-radar/internal/store"
	"github.com/BenedictKing/model-radar/internal/utils"
)

// fetchTimeout 拉取模型列表的单次超时
const fetchTimeout = 30 * time.Second

// ErrModelFetchFailed 游客校验时上游未返回任何模型
var ErrModelFetchFailed = errors.New("MODEL_FETCH_FAILED")

// ModelPair multi 模式下用户勾选的 (modelName, channelKeyId) 组合
type ModelPair struct {
	ModelName    string  `json:"modelName"`
	ChannelKeyID *string `json:"channelKeyId"`
}

// Pipeline 模型同步管道
type Pipeline struct {
	store        *store.Store
	clients      *httpclient.Manager
	defaultProxy string
}

// NewPipeline 创建同步管道
func NewPipeline(st *store.Store, clients *httpclient.Manager, defaultProxy string) *Pipeline {
	return &Pipeline{store: st, clients: clients, defaultProxy: defaultProxy}
}

// SyncChannelModels 同步渠道模型目录。
// selectedModels / selectedModelPairs 非空时走用户选择模式（不访问上游），
// 否则走发现模式：逐密钥拉取 /v1/models 并按模式合并。
func (p *Pipeline) SyncChannelModels(ctx context.Context, channelID string, selectedModels []string, selectedPairs []ModelPair) (*store.ReconcileResult, error) {
	ch, err := p.store.GetChannel(channelID)
	if err != nil {
		return nil, err
	}

	var targets []store.ModelTarget
	switch {
	case len(selectedPairs) > 0:
		for _, pair := range selectedPairs {
			targets = append(targets, store.ModelTarget{ModelName: pair.ModelName, ChannelKeyID: pair.ChannelKeyID})
		}
	case len(selectedModels) > 0:
		for _, name := range selectedModels {
			targets = append(targets, store.ModelTarget{ModelName: name})
		}
	default:
		targets, err = p.discover(ctx, ch)
		if err != nil {
			return nil, err
		}
	}

	targets, err = p.applyKeywordFilter(targets)
	if err != nil {
		return nil, err
	}

	result, err := p.store.ReconcileModels(channelID, targets)
	if err != nil {
		return nil, err
	}
	log.Printf("[ModelSync-Done] 渠道 %s 同步完成: +%d -%d 共 %d", ch.Name, result.Added, result.Removed, result.Total)
	return result, nil
}

// DiscoverChannel 发现模式同步（调度与检测触发前调用）
func (p *Pipeline) DiscoverChannel(ctx context.Context, channelID string) error {
	_, err := p.SyncChannelModels(ctx, channelID, nil, nil)
	return err
}

// keyEntry 渠道的一个去重后的密钥
type keyEntry struct {
	keyID  *string // nil 表示主密钥
	apiKey string
}

// fetchOutcome 单个密钥的拉取结果
type fetchOutcome struct {
	entry  keyEntry
	models []string
	err    error
}

// discover 逐密钥并发拉取模型列表并按 keyMode 合并
func (p *Pipeline) discover(ctx context.Context, ch *store.Channel) ([]store.ModelTarget, error) {
	entries := distinctKeys(ch)

	outcomes := make([]fetchOutcome, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry keyEntry) {
			defer wg.Done()
			models, err := p.fetchModels(ctx, ch.BaseURL, entry.apiKey, ch.ProxyURL)
			outcomes[i] = fetchOutcome{entry: entry, models: models, err: err}
		}(i, entry)
	}
	wg.Wait()

	anySuccess := false
	for _, o := range outcomes {
		if o.err == nil {
			anySuccess = true
		} else {
			log.Printf("[ModelSync-Fetch] 渠道 %s 密钥 %s 拉取失败: %v",
				ch.Name, utils.MaskAPIKey(o.entry.apiKey), o.err)
		}
	}
	if !anySuccess {
		// 全部密钥失败时上抛第一个错误
		return nil, fmt.Errorf("拉取模型列表失败: %w", outcomes[0].err)
	}

	if ch.KeyMode == store.KeyModeMulti {
		// multi 模式：每个 (密钥, 模型) 组合各成一行
		var targets []store.ModelTarget
		for _, o := range outcomes {
			if o.err != nil {
				continue
			}
			for _, name := range o.models {
				targets = append(targets, store.ModelTarget{ModelName: name, ChannelKeyID: o.entry.keyID})
			}
		}
		return targets, nil
	}

	// single 模式：首个报告该模型的密钥生效，每个模型名只留一行
	seen := make(map[string]bool)
	var targets []store.ModelTarget
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		for _, name := range o.models {
			if seen[name] {
				continue
			}
			seen[name] = true
			targets = append(targets, store.ModelTarget{ModelName: name, ChannelKeyID: o.entry.keyID})
		}
	}
	return targets, nil
}

// distinctKeys 渠道密钥去重：主密钥在前，附加密钥按密钥串去重后排在其后
func distinctKeys(ch *store.Channel) []keyEntry {
	entries := []keyEntry{{keyID: nil, apiKey: ch.APIKey}}
	seen := map[string]bool{ch.APIKey: true}

	extras := make([]store.ChannelKey, len(ch.Keys))
	copy(extras, ch.Keys)
	sort.Slice(extras, func(i, j int) bool { return extras[i].CreatedAt.Before(extras[j].CreatedAt) })

	for i := range extras {
		if seen[extras[i].APIKey] {
			continue
		}
		seen[extras[i].APIKey] = true
		keyID := extras[i].ID
		entries = append(entries, keyEntry{keyID: &keyID, apiKey: extras[i].APIKey})
	}
	return entries
}

// fetchModels 拉取单个密钥可见的模型名列表（OpenAI 格式 {data:[{id}]}）
func (p *Pipeline) fetchModels(ctx context.Context, baseURL, apiKey, proxyURL string) ([]string, error) {
	proxy := proxyURL
	if proxy == "" {
		proxy = p.defaultProxy
	}
	client, err := p.clients.GetClient(proxy)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	url := probe.NormalizeBaseURL(baseURL) + "/v1/models"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("请求超时（%ds）", int(fetchTimeout.Seconds()))
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body[:min(len(body), 200)])))
	}

	var names []string
	for _, item := range gjson.GetBytes(body, "data").Array() {
		if id := item.Get("id").Str; id != "" {
			names = append(names, id)
		}
	}
	return names, nil
}

// applyKeywordFilter 按启用的关键字做大小写不敏感的子串 OR 过滤。无关键字时全量保留。
func (p *Pipeline) applyKeywordFilter(targets []store.ModelTarget) ([]store.ModelTarget, error) {
	keywords, err := p.store.ListEnabledKeywords()
	if err != nil {
		return nil, err
	}
	if len(keywords) == 0 {
		return targets, nil
	}

	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw.Keyword)
	}

	filtered := targets[:0]
	for _, t := range targets {
		name := strings.ToLower(t.ModelName)
		for _, kw := range lowered {
			if strings.Contains(name, kw) {
				filtered = append(filtered, t)
				break
			}
		}
	}
	return filtered, nil
}

// ValidateGuest 游客上传校验：用单个密钥拉一次模型列表。
// 拉不到任何模型时返回 ErrModelFetchFailed。
func (p *Pipeline) ValidateGuest(ctx context.Context, baseURL, apiKey string) ([]string, error) {
	models, err := p.fetchModels(ctx, baseURL, apiKey, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelFetchFailed, err)
	}
	if len(models) == 0 {
		return nil, ErrModelFetchFailed
	}
	return models, nil
}
