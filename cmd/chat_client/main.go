package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_sync_service/internal/chat/app"
	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/internal/chat/transport"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/database"
	errprocess "chat_sync_service/pkg/err"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/metrics"
	"chat_sync_service/pkg/scheduler"
	"chat_sync_service/pkg/token"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	snapshotTTL     = 24 * time.Hour
	tokenExpiryWarn = 5 * time.Minute
)

var (
	configDir string
	tokenStr  string
	identity  domain.Identity
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chat_client",
		Short: "一對一即時聊天同步 client",
	}
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", config.EnvConfig.ChatClientYAMLPath, "chat_client.yaml 所在目錄")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "登入並在終端機聊天",
		RunE:  runClient,
	}
	runCmd.Flags().StringVar(&identity.UserID, "user-id", "", "登入的 user id (未給時從 token 取得)")
	runCmd.Flags().StringVar(&identity.Username, "username", "", "顯示名稱")
	runCmd.Flags().StringVar(&identity.Role, "role", "", "身份角色, 例如 student / teacher")
	runCmd.Flags().StringVar(&identity.Email, "email", "", "email")
	runCmd.Flags().StringVar(&tokenStr, "token", "", "server 簽發的 JWT, 覆蓋 YAML 的 server.token")

	watchCmd := &cobra.Command{
		Use:   "watch <user-id>",
		Short: "從 redis 訂閱某個 client 發布的畫面快照",
		Args:  cobra.ExactArgs(1),
		RunE:  watchClient,
	}

	rootCmd.AddCommand(runCmd, watchCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig 讀取 YAML, 找不到時使用預設值
func loadConfig() config.Client {
	cfg, err := config.LoadConfig[config.Client](config.EnvConfig.ChatClient, configDir)
	if err != nil {
		logger.Log.Warn("use default client config", zap.Error(err))
		cfg = config.DefaultClient()
	}
	dir := cfg.Log.Dir
	if dir == "" {
		dir = config.EnvConfig.ChatClientLogPath
	}
	logger.Log = logger.Initialize(config.EnvConfig.ChatClient, dir)
	logger.Log.SetDebugMode(cfg.Log.Debug)
	return cfg
}

// resolveIdentity flag 優先, 缺少的欄位由 token claims 補上
func resolveIdentity(cfg config.Client) (domain.Identity, error) {
	id := identity
	if cfg.Server.Token == "" {
		if !id.Valid() {
			return id, errprocess.Set("need --user-id or --token")
		}
		return id, nil
	}

	claims, err := token.ParseClaims(cfg.Server.Token)
	if err != nil {
		if id.Valid() {
			logger.Log.Warn("ignore unreadable token claims", zap.Error(err))
			return id, nil
		}
		return id, errprocess.Wrap(err, "read identity from token")
	}
	if left, ok := claims.ExpiresIn(time.Now()); ok && left < tokenExpiryWarn {
		logger.Log.Warn("token expires soon", zap.Duration("left", left))
	}

	fromToken := claims.Identity()
	if id.UserID == "" {
		id.UserID = fromToken.UserID
	}
	if id.Username == "" {
		id.Username = fromToken.Username
	}
	if id.Role == "" {
		id.Role = fromToken.Role
	}
	if id.Email == "" {
		id.Email = fromToken.Email
	}
	return id, nil
}

// newRedis 連線並建立快照發布者, redis.enabled 為 false 時回傳 nil
func newRedis(ctx context.Context, cfg config.Client) (*redis.Client, *repository.RedisPubSub, error) {
	if !cfg.Redis.Enabled {
		return nil, nil, nil
	}
	client, err := database.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.RedisDB, cfg.Redis.RetryCount, time.Duration(cfg.Redis.RetryInterval)*time.Second)
	if err != nil {
		return nil, nil, errprocess.Wrap(err, "connect redis", zap.String("addr", cfg.Redis.Addr))
	}
	pub := repository.NewRedisPubSub(client, database.NewRedisRepository[domain.Snapshot](client), cfg.Redis.ChannelPrefix, snapshotTTL)
	return client, pub, nil
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	defer logger.Log.Sync()
	if tokenStr != "" {
		cfg.Server.Token = tokenStr
	}

	me, err := resolveIdentity(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. metrics / pprof
	reg := prometheus.NewRegistry()
	m := metrics.NewEngine(reg)
	if cfg.Metrics.Addr != "" {
		srv := metrics.Serve(cfg.Metrics.Addr, reg)
		defer srv.Close()
	}

	// 2. redis 快照發布 (可選)
	opts := []app.Option{app.WithConfig(cfg), app.WithMetrics(m)}
	redisClient, pub, err := newRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, app.WithPublisher(pub))
	}

	// 3. 引擎
	engine := app.NewEngine(transport.NewWebsocketDialer(cfg.Server.WriteTimeout), scheduler.NewTimerScheduler(), opts...)
	if err := engine.Login(me); err != nil {
		return errprocess.Wrap(err, "login", zap.String("userID", me.UserID))
	}
	defer engine.Close()
	logger.Log.Info("chat client started", zap.String("userID", me.UserID), zap.String("url", cfg.Server.URL))

	// 4. 終端機輸入
	c := newConsole(engine, os.Stdin, os.Stdout)
	unsubscribe := engine.Subscribe(c.onSnapshot)
	defer unsubscribe()
	return c.run(ctx)
}

func watchClient(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	defer logger.Log.Sync()
	cfg.Redis.Enabled = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, pub, err := newRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	userID := args[0]
	if snap, err := pub.Latest(ctx, userID); err == nil {
		printSummary(os.Stdout, snap)
	} else if !errors.Is(err, database.ErrNotFound) {
		logger.Log.Warn("load latest snapshot", zap.String("userID", userID), zap.Error(err))
	}

	if err := pub.Subscribe(ctx, userID, func(snap domain.Snapshot) {
		printSummary(os.Stdout, snap)
	}); err != nil {
		return errprocess.Wrap(err, "subscribe snapshots", zap.String("channel", pub.Channel(userID)))
	}
	<-ctx.Done()
	return nil
}
