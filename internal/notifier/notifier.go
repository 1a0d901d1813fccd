package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	rediscommon "github.com/eclipse-ecsp/vehicle-profile-sub000/common/redis"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/models"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MQTTPublisher MQTT 发布接口（由 common/mqtt.Client 实现，测试中替换）
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// ConfigDefaults 下发配置的兜底值（参考表未命中时使用）
type ConfigDefaults struct {
	FuelType      string
	Displacement  float64
	PowerPS       float64
	TankCapacity  float64
	MaintenanceID string
}

// Emitter 通知发射器
// 把解析结果标志翻译为出站事件，并负责无条件的设备配置下发
type Emitter struct {
	redisClient        *redis.Client
	mqttClient         MQTTPublisher
	mmyRepo            repository.MMYReferenceRepo
	defaults           ConfigDefaults
	vinChangeStream    string
	notificationStream string
	qos                byte
	logger             *zap.Logger
}

// NewEmitter 创建通知发射器
func NewEmitter(
	redisClient *redis.Client,
	mqttClient MQTTPublisher,
	mmyRepo repository.MMYReferenceRepo,
	defaults ConfigDefaults,
	vinChangeStream string,
	notificationStream string,
	qos byte,
	logger *zap.Logger,
) *Emitter {
	return &Emitter{
		redisClient:        redisClient,
		mqttClient:         mqttClient,
		mmyRepo:            mmyRepo,
		defaults:           defaults,
		vinChangeStream:    vinChangeStream,
		notificationStream: notificationStream,
		qos:                qos,
		logger:             logger,
	}
}

// EmitVinChanged 发布 VIN 变更通知
func (e *Emitter) EmitVinChanged(ctx context.Context, deviceID, oldVin, newVin string) error {
	notification := models.VinChangeNotification{
		EventID:  uuid.New().String(),
		DeviceID: deviceID,
		OldVin:   oldVin,
		NewVin:   newVin,
	}

	if _, err := rediscommon.PublishJSONToStream(ctx, e.redisClient, e.vinChangeStream, notification); err != nil {
		return fmt.Errorf("failed to publish vin change notification: %w", err)
	}

	e.logger.Info("VIN change notification emitted",
		zap.String("device_id", deviceID),
	)
	return nil
}

// EmitMMYChanged 发布品牌/车型/年款变更通知
func (e *Emitter) EmitMMYChanged(ctx context.Context, dummy bool, value string) error {
	notification := models.MMYNotification{
		EventID: uuid.New().String(),
		Dummy:   dummy,
		Value:   value,
	}

	if _, err := rediscommon.PublishJSONToStream(ctx, e.redisClient, e.notificationStream, notification); err != nil {
		return fmt.Errorf("failed to publish mmy notification: %w", err)
	}

	e.logger.Info("MMY change notification emitted",
		zap.Bool("is_dummy", dummy),
	)
	return nil
}

// PushDeviceConfig 构建并下发设备配置
// 每条 VIN 事件处理完后都会调用，与身份是否变化无关
func (e *Emitter) PushDeviceConfig(profile *models.Profile, deviceID string) error {
	config := e.BuildDeviceConfig(profile, deviceID)

	payload, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal device config: %w", err)
	}

	topic := fmt.Sprintf("vehicle/%s/config", deviceID)
	if err := e.mqttClient.Publish(topic, e.qos, false, payload); err != nil {
		return fmt.Errorf("failed to push device config: %w", err)
	}

	e.logger.Info("Device configuration pushed",
		zap.String("device_id", deviceID),
		zap.String("fuel_type", config.FuelType),
	)
	return nil
}

// BuildDeviceConfig 从档案导出设备配置
// 参考表命中时取车型参数，否则使用配置的默认值
func (e *Emitter) BuildDeviceConfig(profile *models.Profile, deviceID string) *models.DeviceConfig {
	config := &models.DeviceConfig{
		DeviceID:           deviceID,
		FuelType:           e.defaults.FuelType,
		EngineDisplacement: e.defaults.Displacement,
		PowerPS:            e.defaults.PowerPS,
		TankCapacity:       e.defaults.TankCapacity,
		MaintenanceID:      e.defaults.MaintenanceID,
	}

	if profile != nil {
		config.VIN = profile.VIN
		if profile.VehicleAttributes.FuelType != "" {
			config.FuelType = profile.VehicleAttributes.FuelType
		}

		ref, err := e.mmyRepo.FindByMakeModel(
			profile.VehicleAttributes.Make,
			profile.VehicleAttributes.Model,
			nil,
		)
		if err != nil {
			e.logger.Warn("MMY reference lookup failed, using config defaults", zap.Error(err))
		} else if ref != nil {
			config.FuelType = ref.FuelType
			config.EngineDisplacement = ref.Displacement
			config.PowerPS = ref.PowerPS
			config.TankCapacity = ref.TankCapacity
			config.MaintenanceID = ref.MaintenanceID
		}
	}

	config.Checksum = configChecksum(config)
	return config
}

// configChecksum 配置字段的稳定校验和（设备端用于跳过重复配置）
func configChecksum(config *models.DeviceConfig) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%.2f|%.2f|%.2f|%s",
		config.DeviceID,
		config.VIN,
		config.FuelType,
		config.EngineDisplacement,
		config.PowerPS,
		config.TankCapacity,
		config.MaintenanceID,
	)
	return fmt.Sprintf("%x", h.Sum64())
}
