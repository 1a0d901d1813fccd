package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eclipse-ecsp/vehicle-profile-sub000/common/database"
	mqttcommon "github.com/eclipse-ecsp/vehicle-profile-sub000/common/mqtt"
	rediscommon "github.com/eclipse-ecsp/vehicle-profile-sub000/common/redis"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/client"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/config"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/consumer"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/models"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/notifier"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/repository"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/resolver"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ResolutionService VIN 解析服务
// 持有数据库 / Redis / MQTT 连接与消费者的生命周期
type ResolutionService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	consumer    *consumer.VinEventConsumer
}

// NewResolutionService 创建并装配 VIN 解析服务
func NewResolutionService(cfg *config.Config, logger *zap.Logger) (*ResolutionService, error) {
	// 初始化数据库（参考表）
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT（设备配置下发通道）
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	// 外部协作方客户端
	store := client.NewRestProfileStore(
		cfg.ProfileStore.BaseURL,
		time.Duration(cfg.ProfileStore.TimeoutSeconds)*time.Second,
		logger,
	)
	assoc := client.NewRestDeviceAssociation(cfg.DeviceAssoc.BaseURL, logger)
	decoder := client.NewVinDecoder(cfg.Decoder.Kind, cfg.Decoder.BaseURL, cfg.Decoder.SpecURL, cfg.Decoder.Region, logger)

	// 参考表仓库
	mmyRepo := repository.NewPostgresMMYReferenceRepo(db, logger)

	// 档案组装器与解析引擎
	builder := resolver.NewProfileBuilder(
		decoder,
		cfg.Decoder.Enabled,
		cfg.Decoder.Kind,
		mmyRepo,
		assoc,
		cfg.Capabilities,
		cfg.ProvisionedServices,
		cfg.ConfigDefaults.Checksum,
		logger,
	)
	prefixes := models.DummyPrefixes{
		DeviceAssoc: cfg.Dummy.DeviceAssocPrefix,
		VinScan:     cfg.Dummy.VinScanPrefix,
	}
	engine := resolver.NewEngine(store, assoc, builder, prefixes, cfg.Capabilities, cfg.ProvisionedServices, logger)

	// 通知发射器
	emitter := notifier.NewEmitter(
		redisClient,
		mqttClient,
		mmyRepo,
		notifier.ConfigDefaults{
			FuelType:      cfg.ConfigDefaults.FuelType,
			Displacement:  cfg.ConfigDefaults.Displacement,
			PowerPS:       cfg.ConfigDefaults.PowerPS,
			TankCapacity:  cfg.ConfigDefaults.TankCapacity,
			MaintenanceID: cfg.ConfigDefaults.MaintenanceID,
		},
		cfg.Streams.VinChange,
		cfg.Streams.Notification,
		cfg.MQTT.QoS,
		logger,
	)

	// 流消费者（Stream Driver）
	vinConsumer := consumer.NewVinEventConsumer(cfg, redisClient, store, engine, emitter, mmyRepo, logger)

	return &ResolutionService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		consumer:    vinConsumer,
	}, nil
}

// Start 启动服务
func (s *ResolutionService) Start(ctx context.Context) error {
	s.logger.Info("Starting vin resolution service components")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start vin event consumer: %w", err)
	}

	return nil
}

// Stop 停止服务
func (s *ResolutionService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping vin resolution service")

	if s.mqttClient != nil && s.mqttClient.IsConnected() {
		s.mqttClient.Disconnect()
	}

	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Vin resolution service stopped")
	return nil
}
