package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	common "github.com/eclipse-ecsp/vehicle-profile-sub000/common/config"
)

// Config VIN 解析服务配置
type Config struct {
	Database common.DatabaseConfig
	Redis    common.RedisConfig
	MQTT     common.MQTTConfig

	// VIN 校验与设备类型
	Vin struct {
		ExpectedLength int  // VIN 期望长度，默认 17
		Validation     bool // 关闭后所有值按上报原样处理
	}
	Device struct {
		AllowedTypes []string // 允许的设备类型，默认 ["hu", "tcu"]
		DefaultType  string   // deviceType 缺失且无档案可查时的兜底值
	}

	// 占位 VIN 前缀
	Dummy struct {
		DeviceAssocPrefix string // 设备关联占位前缀
		VinScanPrefix     string // VIN 扫描占位前缀
	}

	// VIN 解码器
	Decoder struct {
		Enabled bool
		Kind    string // "basic" / "codetable" / "vehiclespec"
		BaseURL string // basic 解码服务地址
		SpecURL string // vehiclespec 服务地址
		Region  string // codetable 解码的默认区域
	}

	// 外部档案库与设备关联服务
	ProfileStore struct {
		BaseURL        string
		TimeoutSeconds int
	}
	DeviceAssoc struct {
		BaseURL string
	}

	// 下发配置的默认值
	ConfigDefaults struct {
		FuelType      string
		Displacement  float64
		PowerPS       float64
		TankCapacity  float64
		MaintenanceID string
		Checksum      string
	}

	// 按设备类型的默认能力 / 预置服务标识列表
	Capabilities        map[string][]string
	ProvisionedServices map[string][]string

	// Redis Streams
	Streams struct {
		VinEvents     string // 入站 VIN 事件流
		VinChange     string // VIN 变更通知流
		Notification  string // 通用通知流
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量 + 默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	// 连接配置：默认值 + 环境变量覆盖（DB_* / REDIS_* / MQTT_*）
	cfg.Database = common.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "vehicleprofile",
		SSLMode:  "disable",
		MaxConns: 25,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = common.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = common.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "vehicle-profile-1",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Vin.ExpectedLength = getEnvInt("VIN_EXPECTED_LENGTH", 17)
	cfg.Vin.Validation = getEnv("VIN_VALIDATION_ENABLED", "true") == "true"

	cfg.Device.AllowedTypes = splitList(getEnv("ALLOWED_DEVICE_TYPES", "hu,tcu"))
	cfg.Device.DefaultType = getEnv("DEFAULT_DEVICE_TYPE", "hu")

	cfg.Dummy.DeviceAssocPrefix = getEnv("DEVICE_ASSOC_DUMMY_PREFIX", "DEVICEVIN_")
	cfg.Dummy.VinScanPrefix = getEnv("VIN_SCAN_DUMMY_PREFIX", "VINSCAN_")

	cfg.Decoder.Enabled = getEnv("VIN_DECODER_ENABLED", "true") == "true"
	cfg.Decoder.Kind = getEnv("VIN_DECODER_KIND", "codetable")
	cfg.Decoder.BaseURL = getEnv("VIN_DECODER_URL", "http://localhost:8090")
	cfg.Decoder.SpecURL = getEnv("VEHICLE_SPEC_URL", "http://localhost:8091")
	cfg.Decoder.Region = getEnv("VIN_DECODER_REGION", "EU")

	cfg.ProfileStore.BaseURL = getEnv("PROFILE_STORE_URL", "http://localhost:8080")
	cfg.ProfileStore.TimeoutSeconds = getEnvInt("PROFILE_STORE_TIMEOUT_SECONDS", 10)
	cfg.DeviceAssoc.BaseURL = getEnv("DEVICE_ASSOC_URL", "http://localhost:8092")

	cfg.ConfigDefaults.FuelType = getEnv("DEFAULT_FUEL_TYPE", "petrol")
	cfg.ConfigDefaults.Displacement = getEnvFloat("DEFAULT_DISPLACEMENT", 1.0)
	cfg.ConfigDefaults.PowerPS = getEnvFloat("DEFAULT_POWER_PS", 100)
	cfg.ConfigDefaults.TankCapacity = getEnvFloat("DEFAULT_TANK_CAPACITY", 40)
	cfg.ConfigDefaults.MaintenanceID = getEnv("DEFAULT_MAINTENANCE_ID", "default")
	cfg.ConfigDefaults.Checksum = getEnv("DEFAULT_CHECKSUM", "1.0")

	var err error
	cfg.Capabilities, err = getEnvStringListMap("DEVICE_CAPABILITIES",
		map[string][]string{"hu": {"navigation", "media"}, "tcu": {"telemetry"}})
	if err != nil {
		return nil, fmt.Errorf("invalid DEVICE_CAPABILITIES: %w", err)
	}
	cfg.ProvisionedServices, err = getEnvStringListMap("DEVICE_PROVISIONED_SERVICES",
		map[string][]string{"hu": {"remote-diagnostics"}, "tcu": {"remote-diagnostics", "ecall"}})
	if err != nil {
		return nil, fmt.Errorf("invalid DEVICE_PROVISIONED_SERVICES: %w", err)
	}

	cfg.Streams.VinEvents = getEnv("VIN_EVENT_STREAM", "vehicle:vin-events")
	cfg.Streams.VinChange = getEnv("VIN_CHANGE_STREAM", "vehicle:vin-change-events")
	cfg.Streams.Notification = getEnv("NOTIFICATION_STREAM", "vehicle:notification-events")
	cfg.Streams.ConsumerGroup = getEnv("VIN_CONSUMER_GROUP", "vin-resolver-group")
	cfg.Streams.ConsumerName = getEnv("VIN_CONSUMER_NAME", "vin-resolver-1")
	cfg.Streams.BatchSize = int64(getEnvInt("VIN_BATCH_SIZE", 10))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvStringListMap 解析 JSON 形式的 map 环境变量
// 如 DEVICE_CAPABILITIES='{"hu":["navigation"],"tcu":["telemetry"]}'
func getEnvStringListMap(key string, defaultValue map[string][]string) (map[string][]string, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result := make(map[string][]string)
	if err := json.Unmarshal([]byte(value), &result); err != nil {
		return nil, err
	}
	return result, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
