// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"lex-assist-go/internal/config"
	"lex-assist-go/internal/handler"
	"lex-assist-go/internal/middleware"
	"lex-assist-go/internal/model"
	"lex-assist-go/internal/pipeline"
	"lex-assist-go/internal/repository"
	"lex-assist-go/internal/service"
	"lex-assist-go/pkg/database"
	"lex-assist-go/pkg/es"
	"lex-assist-go/pkg/kafka"
	"lex-assist-go/pkg/llm"
	"lex-assist-go/pkg/log"
	"lex-assist-go/pkg/storage"
	"lex-assist-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与 Elasticsearch
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.AutoMigrate(&model.User{}, &model.Conversation{}, &model.Message{})
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	chatRepository := repository.NewChatRepository(database.DB)

	// 5. 初始化模型提供方注册表：gemini- 前缀走 Google，其余走默认
	registry := llm.NewRegistry(llm.NewOpenAIClient(cfg.AI.OpenAI, cfg.AI.Generation))
	registry.Register("gemini-", llm.NewGoogleClient(cfg.AI.Google, cfg.AI.Generation))

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	userService := service.NewUserService(userRepository, jwtManager)
	chatService := service.NewChatService(chatRepository, registry, cfg.AI.PromptPath, cfg.AI.DefaultModel, kafka.ProduceArchiveTask)
	conversationService := service.NewConversationService(chatRepository)
	searchService := service.NewSearchService(es.ESClient, cfg.Elasticsearch.IndexName)

	// 7. 启动后台 Kafka 归档消费者
	archiver := pipeline.NewArchiver(cfg.Elasticsearch)
	go kafka.StartConsumer(cfg.Kafka, archiver)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.PATCH("/me", handler.NewUserHandler(userService).UpdateProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
			}
		}

		// 聊天轮次：访客可用，登录用户才有持久化副作用
		chatHandler := handler.NewChatHandler(chatService)
		apiV1.POST("/ai", middleware.OptionalAuth(jwtManager, userService), chatHandler.Stream)

		// 会话 CRUD
		conversationHandler := handler.NewConversationHandler(conversationService, cfg.AI.DefaultModel)
		requireAuth := middleware.AuthMiddleware(jwtManager, userService)
		chats := apiV1.Group("/chats")
		{
			// 列表接口对访客返回空数组
			chats.GET("", middleware.OptionalAuth(jwtManager, userService), conversationHandler.List)
			chats.POST("", requireAuth, conversationHandler.Create)
			chats.GET("/search", requireAuth, handler.NewSearchHandler(searchService).Search)
			chats.GET("/:chatId", requireAuth, conversationHandler.Get)
			chats.PATCH("/:chatId", requireAuth, conversationHandler.Update)
			chats.DELETE("/:chatId", requireAuth, conversationHandler.Delete)
			chats.POST("/:chatId/messages", requireAuth, conversationHandler.AddMessage)
		}

		// 消息附件
		uploadHandler := handler.NewUploadHandler(cfg.MinIO)
		attachments := apiV1.Group("/attachments")
		attachments.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			attachments.POST("", uploadHandler.Upload)
			attachments.GET("/url", uploadHandler.PresignURL)
		}
	}

	// 聊天路由 (WebSocket)
	r.GET("/ws/chat/:token", handler.NewWSChatHandler(chatService, userService, jwtManager).Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
