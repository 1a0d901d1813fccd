package models

// VinChangeNotification VIN 变更通知（发往 VIN 通知流）
type VinChangeNotification struct {
	EventID  string `json:"eventId"`
	DeviceID string `json:"deviceId"`
	OldVin   string `json:"oldVin"`
	NewVin   string `json:"newVin"`
}

// MMYNotification 品牌/车型/年款变更通知（发往通用通知流）
type MMYNotification struct {
	EventID string `json:"eventId"`
	Dummy   bool   `json:"isDummy"`
	Value   string `json:"value"`
}

// DeviceConfig 下发给设备的配置消息
// 每处理一条 VIN 事件都会推送一次，与身份是否变化无关
type DeviceConfig struct {
	DeviceID           string  `json:"deviceId"`
	VIN                string  `json:"vin"`
	FuelType           string  `json:"fuelType"`
	EngineDisplacement float64 `json:"engineDisplacement"`
	PowerPS            float64 `json:"powerPS"`
	TankCapacity       float64 `json:"tankCapacity"`
	MaintenanceID      string  `json:"serviceMaintenanceId"`
	Checksum           string  `json:"checksum"`
}
