package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/BenedictKing/model-radar/internal/config"
	"github.com/BenedictKing/model-radar/internal/coord"
	"github.com/BenedictKing/model-radar/internal/detect"
	"github.com/BenedictKing/model-radar/internal/handlers"
	"github.com/BenedictKing/model-radar/internal/httpclient"
	"github.com/BenedictKing/model-radar/internal/logger"
	"github.com/BenedictKing/model-radar/internal/middleware"
	"github.com/BenedictKing/model-radar/internal/modelsync"
	"github.com/BenedictKing/model-radar/internal/probe"
	"github.com/BenedictKing/model-radar/internal/scheduler"
	"github.com/BenedictKing/model-radar/internal/store"
)

// 编译时通过 -ldflags 注入
var (
	Version   = "v0.0.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 加载环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("没有找到 .env 文件，使用环境变量或默认值")
	}

	handlers.SetVersionInfo(Version, BuildTime, GitCommit)

	envCfg := config.NewEnvConfig()

	// 初始化日志系统（必须在其他初始化之前）
	logCfg := &logger.Config{
		LogDir:     envCfg.LogDir,
		LogFile:    envCfg.LogFile,
		MaxSize:    envCfg.LogMaxSize,
		MaxBackups: envCfg.LogMaxBackups,
		MaxAge:     envCfg.LogMaxAge,
		Compress:   envCfg.LogCompress,
		Console:    envCfg.LogToConsole,
	}
	if err := logger.Setup(logCfg); err != nil {
		log.Fatalf("初始化日志系统失败: %v", err)
	}
	defer logger.Close()

	// 业务数据库
	st, err := store.Open(envCfg.DBPath)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	log.Printf("[Store-Init] 数据库已就绪: %s", envCfg.DBPath)

	// 协调存储
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	rdb, err := coord.Connect(rootCtx, envCfg.RedisURL)
	if err != nil {
		log.Fatalf("初始化协调存储失败: %v", err)
	}
	log.Printf("[Coord-Init] 协调存储已连接")

	queue := coord.NewQueue(rdb)
	semaphore := coord.NewSemaphore(rdb)
	flag := coord.NewFlag(rdb)

	// 上个进程留下的在途任务重新入队，必须在工作池启动前完成
	if recovered, err := queue.RecoverActive(rootCtx); err != nil {
		log.Printf("[Coord-Init] 恢复中断任务失败: %v", err)
	} else if recovered > 0 {
		log.Printf("[Coord-Init] 重新入队 %d 个中断任务", recovered)
	}

	// 探测执行器与同步管道
	clients := httpclient.GetManager()
	executor := probe.NewExecutor(clients, envCfg.GlobalProxy, envCfg.DetectPrompt)
	pipeline := modelsync.NewPipeline(st, clients, envCfg.GlobalProxy)

	// 检测服务与工作池
	bus := detect.NewProgressBus(rdb, queue)
	configCache := detect.NewConfigCache(st, envCfg)
	service := detect.NewService(st, queue, flag, pipeline)
	pool := detect.NewWorkerPool(queue, semaphore, flag, executor, st, bus, configCache, envCfg.WorkerConcurrency)
	pool.Start(rootCtx)

	// 调度器与日志清理
	sched := scheduler.New(st, service, envCfg)
	sched.Start(rootCtx)

	cleanupLoc, err := time.LoadLocation(envCfg.CronTimezone)
	if err != nil {
		log.Printf("[Cleanup-Init] 无效时区 %s，回退 UTC", envCfg.CronTimezone)
		cleanupLoc = time.UTC
	}
	cleanup := scheduler.NewCleanupJob(st, envCfg)
	cleanup.Start(cleanupLoc)

	// 设置 Gin 模式
	if envCfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由器（使用自定义 Logger，根据 QUIET_POLLING_LOGS 配置过滤轮询日志）
	r := gin.New()
	r.Use(middleware.FilteredLogger(envCfg))
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(envCfg))
	r.Use(middleware.AuthMiddleware(envCfg))

	// 健康检查端点（固定路径 /health，与 Dockerfile HEALTHCHECK 保持一致）
	r.GET("/health", handlers.HealthCheck(envCfg, st))

	apiGroup := r.Group("/api")
	{
		// 检测
		apiGroup.POST("/detect", handlers.TriggerDetection(service))
		apiGroup.DELETE("/detect", handlers.StopDetection(service))
		apiGroup.GET("/detect", handlers.DetectionProgress(bus))
		apiGroup.GET("/detect/logs", handlers.ListDetectionLogs(st))
		apiGroup.GET("/sse/progress", handlers.ProgressStream(bus))

		// 渠道与模型目录
		apiGroup.GET("/channels", handlers.ListChannels(st))
		apiGroup.POST("/channels", handlers.CreateChannel(st))
		apiGroup.GET("/channels/export", handlers.ExportChannels(st))
		apiGroup.POST("/channels/import", handlers.ImportChannels(st))
		apiGroup.GET("/channels/:id", handlers.GetChannel(st))
		apiGroup.PUT("/channels/:id", handlers.UpdateChannel(st))
		apiGroup.DELETE("/channels/:id", handlers.DeleteChannel(st))
		apiGroup.POST("/channels/:id/keys", handlers.AddChannelKey(st))
		apiGroup.DELETE("/channels/:id/keys/:keyId", handlers.DeleteChannelKey(st))
		apiGroup.POST("/channels/:id/sync", handlers.SyncChannelModels(pipeline))

		// 模型过滤关键字
		apiGroup.GET("/keywords", handlers.ListKeywords(st))
		apiGroup.POST("/keywords", handlers.SaveKeyword(st))
		apiGroup.DELETE("/keywords/:id", handlers.DeleteKeyword(st))

		// 游客校验（公开端点）
		apiGroup.POST("/guest/validate", handlers.GuestValidate(pipeline))

		// 调度
		apiGroup.GET("/scheduler", handlers.SchedulerStatus(st, sched, cleanup))
		apiGroup.GET("/scheduler/config", handlers.GetSchedulerConfig(st))
		apiGroup.PUT("/scheduler/config", handlers.SaveSchedulerConfig(st, sched, configCache))
	}

	addr := fmt.Sprintf(":%d", envCfg.Port)
	fmt.Printf("\n[Server-Start] model-radar %s 监听 %s (模式: %s)\n", Version, addr, envCfg.Env)
	if envCfg.ProxyAccessKey == "your-proxy-access-key" {
		fmt.Printf("[Server-Warn] 访问密钥: your-proxy-access-key (默认值，建议通过 .env 文件修改)\n")
	}
	fmt.Printf("\n")

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	shutdownDone := make(chan struct{})

	// 优雅关闭：监听系统信号
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		signal.Stop(sigChan)

		log.Println("[Server-Shutdown] 收到关闭信号，正在优雅关闭服务器...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[Server-Shutdown] 警告: 服务器关闭时发生错误: %v", err)
		} else {
			log.Println("[Server-Shutdown] 服务器已安全关闭")
		}

		// 停掉调度与工作池，等工作协程退出
		sched.Stop()
		cleanup.Stop()
		rootCancel()
		pool.Wait()

		if err := rdb.Close(); err != nil {
			log.Printf("[Coord-Shutdown] 警告: 关闭协调存储时发生错误: %v", err)
		}

		close(shutdownDone)
	}()

	// 启动服务器（阻塞直到关闭）
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("服务器启动失败: %v", err)
	}

	// 等待关闭完成（带超时保护，避免死锁）
	select {
	case <-shutdownDone:
	case <-time.After(15 * time.Second):
		log.Println("[Server-Shutdown] 警告: 等待关闭超时")
	}
}
