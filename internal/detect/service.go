package detect

import (
	"context"
	"errors"
	"log"

	"github.com/BenedictKing/model-radar/internal/coord"
	"github.com/BenedictKing/model-radar/internal/probe"
	"github.com/BenedictKing/model-radar/internal/store"
)

// ModelSyncer 触发检测前的模型同步（发现模式），由模型同步管道实现
type ModelSyncer interface {
	DiscoverChannel(ctx context.Context, channelID string) error
}

// TriggerResult 一次触发的入队统计
type TriggerResult struct {
	Models int `json:"models"`
	Jobs   int `json:"jobs"`
}

// Service 检测服务门面：对外暴露各类触发操作与停止操作。
// 每个触发操作先清停止标志，再重置目标模型状态，最后批量入队。
type Service struct {
	store  *store.Store
	queue  *coord.Queue
	flag   *coord.Flag
	syncer ModelSyncer
}

// NewService 创建检测服务
func NewService(st *store.Store, queue *coord.Queue, flag *coord.Flag, syncer ModelSyncer) *Service {
	return &Service{store: st, queue: queue, flag: flag, syncer: syncer}
}

// TriggerFullDetection 检测所有启用渠道的全部模型。
// syncFirst 为 true 时先对每个渠道跑一轮发现模式同步。
func (s *Service) TriggerFullDetection(ctx context.Context, syncFirst bool) (*TriggerResult, error) {
	channels, err := s.store.ListEnabledChannels()
	if err != nil {
		return nil, err
	}

	if syncFirst && s.syncer != nil {
		for _, ch := range channels {
			if err := s.syncer.DiscoverChannel(ctx, ch.ID); err != nil {
				log.Printf("[Detect-Sync] 渠道 %s 同步失败，继续用现有模型: %v", ch.Name, err)
			}
		}
		// 同步可能增删模型，重新加载
		channels, err = s.store.ListEnabledChannels()
		if err != nil {
			return nil, err
		}
	}

	var jobs []coord.Job
	models := 0
	for i := range channels {
		chJobs := s.buildChannelJobs(&channels[i], nil)
		jobs = append(jobs, chJobs...)
		models += countModels(chJobs)
	}
	if err := s.launch(ctx, jobs); err != nil {
		return nil, err
	}
	return &TriggerResult{Models: models, Jobs: len(jobs)}, nil
}

// TriggerChannelDetection 检测单个渠道，modelIDs 非空时只测子集
func (s *Service) TriggerChannelDetection(ctx context.Context, channelID string, modelIDs []string) (*TriggerResult, error) {
	ch, err := s.store.GetChannel(channelID)
	if err != nil {
		return nil, err
	}

	jobs := s.buildChannelJobs(ch, modelIDs)
	if err := s.launch(ctx, jobs); err != nil {
		return nil, err
	}
	return &TriggerResult{Models: countModels(jobs), Jobs: len(jobs)}, nil
}

// TriggerModelDetection 检测单个模型的全部端点
func (s *Service) TriggerModelDetection(ctx context.Context, modelID string) (*TriggerResult, error) {
	model, err := s.store.GetModel(modelID)
	if err != nil {
		return nil, err
	}
	ch, err := s.store.GetChannel(model.ChannelID)
	if err != nil {
		return nil, err
	}

	jobs := buildModelJobs(ch, model)
	if err := s.launch(ctx, jobs); err != nil {
		return nil, err
	}
	return &TriggerResult{Models: 1, Jobs: len(jobs)}, nil
}

// TriggerSelectiveDetection 调度器驱动的选择性检测。
// channelIDs 为 nil 时退化为全量检测；目标渠道会先跑一轮同步。
func (s *Service) TriggerSelectiveDetection(ctx context.Context, channelIDs []string, modelIDsByChannel map[string][]string) (*TriggerResult, error) {
	if channelIDs == nil {
		return s.TriggerFullDetection(ctx, true)
	}

	var jobs []coord.Job
	models := 0
	for _, chID := range channelIDs {
		if s.syncer != nil {
			if err := s.syncer.DiscoverChannel(ctx, chID); err != nil {
				log.Printf("[Detect-Sync] 渠道 %s 同步失败，继续用现有模型: %v", chID, err)
			}
		}
		ch, err := s.store.GetChannel(chID)
		if errors.Is(err, store.ErrChannelNotFound) {
			log.Printf("[Detect-Selective] 跳过不存在的渠道 %s", chID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !ch.Enabled {
			log.Printf("[Detect-Selective] 跳过已禁用渠道 %s", ch.Name)
			continue
		}
		chJobs := s.buildChannelJobs(ch, modelIDsByChannel[chID])
		jobs = append(jobs, chJobs...)
		models += countModels(chJobs)
	}
	if err := s.launch(ctx, jobs); err != nil {
		return nil, err
	}
	return &TriggerResult{Models: models, Jobs: len(jobs)}, nil
}

// Stop 置位停止标志并清空等待队列。在途探测自然完成后仍会落库。
func (s *Service) Stop(ctx context.Context) error {
	if err := s.flag.Set(ctx); err != nil {
		return err
	}
	return s.queue.Drain(ctx)
}

// launch 新一轮入队的公共前置：清停止标志、空闲时清零计数、重置模型状态、批量入队
func (s *Service) launch(ctx context.Context, jobs []coord.Job) error {
	if err := s.flag.Clear(ctx); err != nil {
		return err
	}

	// 队列已空时清零完成/失败计数，让进度百分比从 0 开始
	if stats, err := s.queue.Stats(ctx); err == nil && stats.Waiting == 0 && stats.Active == 0 {
		if err := s.queue.ResetCounters(ctx); err != nil {
			log.Printf("[Detect-Launch] 清零队列计数失败: %v", err)
		}
	}

	if len(jobs) == 0 {
		return nil
	}

	modelIDs := make([]string, 0, len(jobs))
	seen := make(map[string]bool)
	for _, j := range jobs {
		if !seen[j.ModelID] {
			seen[j.ModelID] = true
			modelIDs = append(modelIDs, j.ModelID)
		}
	}
	if err := s.store.ResetModelStates(modelIDs); err != nil {
		return err
	}

	ids, err := s.queue.EnqueueBulk(ctx, jobs)
	if err != nil {
		return err
	}
	log.Printf("[Detect-Launch] 入队 %d 个探测任务（%d 个模型）", len(ids), len(modelIDs))
	return nil
}

// buildChannelJobs 为渠道下的目标模型构造任务，modelIDs 非空时过滤子集
func (s *Service) buildChannelJobs(ch *store.Channel, modelIDs []string) []coord.Job {
	var filter map[string]bool
	if len(modelIDs) > 0 {
		filter = make(map[string]bool, len(modelIDs))
		for _, id := range modelIDs {
			filter[id] = true
		}
	}

	var jobs []coord.Job
	for i := range ch.Models {
		model := &ch.Models[i]
		if filter != nil && !filter[model.ID] {
			continue
		}
		jobs = append(jobs, buildModelJobs(ch, model)...)
	}
	return jobs
}

// buildModelJobs 为单个模型的每个端点家族构造一个任务。
// API 密钥在入队时解析定死：模型绑定了附加密钥则用它，否则用渠道主密钥。
func buildModelJobs(ch *store.Channel, model *store.Model) []coord.Job {
	apiKey := resolveAPIKey(ch, model)
	endpoints := probe.ClassifyModel(model.ModelName)

	jobs := make([]coord.Job, 0, len(endpoints))
	for _, ep := range endpoints {
		jobs = append(jobs, coord.Job{
			ChannelID:    ch.ID,
			ModelID:      model.ID,
			ModelName:    model.ModelName,
			BaseURL:      ch.BaseURL,
			APIKey:       apiKey,
			Proxy:        ch.ProxyURL,
			EndpointType: ep,
		})
	}
	return jobs
}

// resolveAPIKey 解析模型的生效密钥
func resolveAPIKey(ch *store.Channel, model *store.Model) string {
	if model.ChannelKeyID != nil && *model.ChannelKeyID != "" && *model.ChannelKeyID != store.MainKeyID {
		for i := range ch.Keys {
			if ch.Keys[i].ID == *model.ChannelKeyID {
				return ch.Keys[i].APIKey
			}
		}
	}
	return ch.APIKey
}

// countModels 统计任务集中不重复的模型数
func countModels(jobs []coord.Job) int {
	seen := make(map[string]bool)
	for _, j := range jobs {
		seen[j.ModelID] = true
	}
	return len(seen)
}
