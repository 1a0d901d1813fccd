package consumer

import (
	"context"
	"fmt"
	"strings"
	"time"

	rediscommon "github.com/eclipse-ecsp/vehicle-profile-sub000/common/redis"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/client"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/config"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/models"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/repository"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/resolver"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NotificationEmitter 通知发射接口（便于测试替换）
type NotificationEmitter interface {
	EmitVinChanged(ctx context.Context, deviceID, oldVin, newVin string) error
	EmitMMYChanged(ctx context.Context, dummy bool, value string) error
	PushDeviceConfig(profile *models.Profile, deviceID string) error
}

// VinEventConsumer VIN 事件流消费者（Stream Driver）
// 逐条同步处理：校验 → 三次档案查询 → 解析引擎 → 配置下发 → 通知
type VinEventConsumer struct {
	cfg         *config.Config
	redisClient *redis.Client
	store       client.ProfileStore
	engine      *resolver.Engine
	emitter     NotificationEmitter
	mmyRepo     repository.MMYReferenceRepo
	prefixes    models.DummyPrefixes
	logger      *zap.Logger
}

// NewVinEventConsumer 创建 VIN 事件消费者
func NewVinEventConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	store client.ProfileStore,
	engine *resolver.Engine,
	emitter NotificationEmitter,
	mmyRepo repository.MMYReferenceRepo,
	logger *zap.Logger,
) *VinEventConsumer {
	return &VinEventConsumer{
		cfg:         cfg,
		redisClient: redisClient,
		store:       store,
		engine:      engine,
		emitter:     emitter,
		mmyRepo:     mmyRepo,
		prefixes: models.DummyPrefixes{
			DeviceAssoc: cfg.Dummy.DeviceAssocPrefix,
			VinScan:     cfg.Dummy.VinScanPrefix,
		},
		logger: logger,
	}
}

// Start 启动消费循环（带指数退避）
func (c *VinEventConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.cfg.Streams.VinEvents, c.cfg.Streams.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("VIN event consumer started",
		zap.String("stream", c.cfg.Streams.VinEvents),
		zap.String("consumer_group", c.cfg.Streams.ConsumerGroup),
		zap.String("consumer_name", c.cfg.Streams.ConsumerName),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeBatch(ctx); err != nil {
				c.logger.Error("Failed to consume vin events",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeBatch 读取并处理一批消息
func (c *VinEventConsumer) consumeBatch(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.cfg.Streams.VinEvents,
		c.cfg.Streams.ConsumerGroup,
		c.cfg.Streams.ConsumerName,
		c.cfg.Streams.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		c.handleMessage(ctx, msg)
		// 处理失败的记录直接丢弃，不重试也不进死信队列；
		// 设备下一个点火周期会再次上报
		if err := c.redisClient.XAck(ctx, c.cfg.Streams.VinEvents, c.cfg.Streams.ConsumerGroup, msg.ID).Err(); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// handleMessage 处理单条消息，异常在此边界捕获并脱敏记录
func (c *VinEventConsumer) handleMessage(ctx context.Context, msg rediscommon.StreamMessage) {
	envelope, err := models.ParseEnvelope(msg.Values)
	if err != nil {
		c.logger.Error("Failed to parse event envelope, record dropped",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}

	if err := c.ProcessEnvelope(ctx, envelope); err != nil {
		c.logger.Error("Failed to process event, record dropped",
			zap.String("message_id", msg.ID),
			zap.String("device_id", envelope.Key),
			zap.String("payload", MaskVin(string(envelope.EventData))),
			zap.Error(err),
		)
	}
}

// ProcessEnvelope 按载荷类型分发处理
func (c *VinEventConsumer) ProcessEnvelope(ctx context.Context, envelope *models.EventEnvelope) error {
	if changes, ok := envelope.ProfileChanges(); ok {
		return c.processProfileChanges(ctx, envelope.Key, changes)
	}
	if event, ok := envelope.VinEvent(); ok {
		return c.ProcessVinEvent(ctx, event)
	}
	return models.ErrInvalidEnvelope
}

// ProcessVinEvent 处理一条 VIN 事件（§ Stream Driver 契约）
func (c *VinEventConsumer) ProcessVinEvent(ctx context.Context, event *models.VinEvent) error {
	// 1. deviceType 缺失时兜底：VIN 扫描占位档案 → 设备关联占位档案 → 配置默认值
	dummyProfile, err := c.store.FindByVin(ctx, c.prefixes.VinScan+event.DeviceID)
	if err != nil {
		return err
	}
	if event.DeviceType == "" {
		event.DeviceType = c.resolveDeviceType(ctx, event.DeviceID, dummyProfile)
	}

	// 2. VIN 校验：长度或字符集不合法则强制按占位处理（可配置关闭）
	if c.cfg.Vin.Validation && event.Value != "" && !c.isValidVin(event.Value) {
		c.logger.Info("VIN failed validation, treating as dummy",
			zap.String("device_id", event.DeviceID),
			zap.String("vin", MaskVin(event.Value)),
		)
		event.Dummy = true
	}

	// 3. 设备类型白名单
	if !c.isAllowedDeviceType(event.DeviceType) {
		c.logger.Warn("Unsupported device type, record dropped",
			zap.String("device_id", event.DeviceID),
			zap.String("device_type", event.DeviceType),
		)
		return nil
	}

	// 4. 加载三个档案视图
	profileByDevice, err := c.store.FindByDeviceID(ctx, event.DeviceID)
	if err != nil {
		return err
	}
	var profileByVin *models.Profile
	if event.Value != "" {
		profileByVin, err = c.store.FindByVin(ctx, event.Value)
		if err != nil {
			return err
		}
	}

	oldVin := ""
	if profileByDevice != nil {
		oldVin = profileByDevice.VIN
	}

	// 5. 调用解析引擎
	result, err := c.engine.Resolve(ctx, &resolver.Context{
		Event:         event,
		DeviceProfile: profileByDevice,
		VinProfile:    profileByVin,
		DummyProfile:  dummyProfile,
	})
	if err != nil {
		return err
	}

	// 6. 无条件下发设备配置（按解析后的最新档案）
	currentProfile, err := c.store.FindByDeviceID(ctx, event.DeviceID)
	if err != nil {
		return err
	}
	if err := c.emitter.PushDeviceConfig(currentProfile, event.DeviceID); err != nil {
		return err
	}

	// 7-8. 按标志发出通知
	if result.VinChanged {
		if err := c.emitter.EmitVinChanged(ctx, event.DeviceID, oldVin, event.Value); err != nil {
			return err
		}
	}
	if result.MMYChanged {
		if err := c.emitter.EmitMMYChanged(ctx, event.Dummy, event.Value); err != nil {
			return err
		}
	}

	return nil
}

// processProfileChanges 处理 CRUD 侧的档案变更通知
// make/model/modelYear 变化时重算油料类型并重新下发设备配置
func (c *VinEventConsumer) processProfileChanges(ctx context.Context, key string, changes []models.ProfileChange) error {
	mmyChanged := false
	for _, change := range changes {
		switch change.Path {
		case "vehicleAttributes.make", "vehicleAttributes.model", "vehicleAttributes.modelYear":
			mmyChanged = true
		}
	}
	if !mmyChanged {
		return nil
	}

	profile, err := c.store.FindByDeviceID(ctx, key)
	if err != nil {
		return err
	}
	if profile == nil {
		c.logger.Warn("Profile change notification for unknown device, ignored",
			zap.String("device_id", key),
		)
		return nil
	}

	ref, err := c.mmyRepo.FindByMakeModel(
		profile.VehicleAttributes.Make,
		profile.VehicleAttributes.Model,
		nil,
	)
	if err != nil {
		return err
	}
	if ref != nil && ref.FuelType != profile.VehicleAttributes.FuelType {
		profile.VehicleAttributes.FuelType = ref.FuelType
		profile.UpdatedOn = time.Now()
		if _, err := c.store.Update(ctx, profile.VehicleID, profile); err != nil {
			return err
		}
	}

	// 档案上每个 ECU 都重新收到配置
	for _, ecu := range profile.Ecus {
		if ecu == nil {
			continue
		}
		if err := c.emitter.PushDeviceConfig(profile, ecu.ClientID); err != nil {
			return err
		}
	}

	return nil
}

// resolveDeviceType 按占位档案的 archType 兜底设备类型
func (c *VinEventConsumer) resolveDeviceType(ctx context.Context, deviceID string, vinScanDummy *models.Profile) string {
	if vinScanDummy != nil && vinScanDummy.VehicleArchType != "" {
		return vinScanDummy.VehicleArchType
	}

	assocDummy, err := c.store.FindByVin(ctx, c.prefixes.DeviceAssoc+deviceID)
	if err == nil && assocDummy != nil && assocDummy.VehicleArchType != "" {
		return assocDummy.VehicleArchType
	}

	return c.cfg.Device.DefaultType
}

// isValidVin 校验长度与字符集
func (c *VinEventConsumer) isValidVin(value string) bool {
	if len(value) != c.cfg.Vin.ExpectedLength {
		return false
	}
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		default:
			return false
		}
	}
	return true
}

func (c *VinEventConsumer) isAllowedDeviceType(deviceType string) bool {
	for _, allowed := range c.cfg.Device.AllowedTypes {
		if allowed == deviceType {
			return true
		}
	}
	return false
}

// MaskVin 日志脱敏：保留前 3 位与后 2 位
func MaskVin(value string) string {
	if len(value) <= 5 {
		return strings.Repeat("*", len(value))
	}
	return value[:3] + strings.Repeat("*", len(value)-5) + value[len(value)-2:]
}
