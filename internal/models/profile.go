package models

import (
	"strings"
	"time"
)

// 属性未解析时的占位值（与外部档案库约定一致）
const (
	MakeNotApplicable = "N/A"
	TypeUnknown       = "unknown"
	GenericModelName  = "My Vehicle"
)

// ProfileKind 档案类别（由 VIN 前缀推导，不单独落库）
type ProfileKind string

const (
	// KindDeviceAssocDummy 设备关联占位档案（设备首次上线、尚无任何 VIN 扫描）
	KindDeviceAssocDummy ProfileKind = "DeviceAssocDummy"
	// KindVinScanDummy VIN 扫描占位档案（完成一次点火周期仍未读到真实 VIN）
	KindVinScanDummy ProfileKind = "VinScanDummy"
	// KindResolved 已解析档案（真实 VIN）
	KindResolved ProfileKind = "Resolved"
)

// DummyPrefixes 占位 VIN 前缀（来自配置，构造后只读）
type DummyPrefixes struct {
	DeviceAssoc string // 如 "DEVICEVIN_"
	VinScan     string // 如 "VINSCAN_"
}

// KindOf 根据 VIN 前缀推导档案类别
func (p DummyPrefixes) KindOf(vin string) ProfileKind {
	switch {
	case strings.HasPrefix(vin, p.DeviceAssoc):
		return KindDeviceAssocDummy
	case strings.HasPrefix(vin, p.VinScan):
		return KindVinScanDummy
	default:
		return KindResolved
	}
}

// IsDummy 判断 VIN 是否为任一占位前缀
func (p DummyPrefixes) IsDummy(vin string) bool {
	return p.KindOf(vin) != KindResolved
}

// EcuRef 档案中的 ECU 槽位（按设备类型角色索引）
type EcuRef struct {
	ClientID            string   `json:"clientId"`
	Capabilities        []string `json:"capabilities,omitempty"`
	ProvisionedServices []string `json:"provisionedServices,omitempty"`
}

// VehicleAttributes 车辆属性
type VehicleAttributes struct {
	Make      string `json:"make"`
	Model     string `json:"model"`
	ModelYear string `json:"modelYear"`
	Name      string `json:"name"`
	BaseColor string `json:"baseColor,omitempty"`
	BodyType  string `json:"bodyType,omitempty"`
	FuelType  string `json:"fuelType,omitempty"`
	Type      string `json:"type"`
}

// ModemInfo 车载调制解调器标识
type ModemInfo struct {
	IMEI     string `json:"imei,omitempty"`
	ICCID    string `json:"iccid,omitempty"`
	IMSI     string `json:"imsi,omitempty"`
	MSISDN   string `json:"msisdn,omitempty"`
	EID      string `json:"eid,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// User 授权用户
type User struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
}

// Profile 车辆档案文档（外部档案库的文档形态）
type Profile struct {
	VehicleID         string             `json:"vehicleId,omitempty"` // 档案库分配的标识
	VIN               string             `json:"vin"`
	VehicleArchType   string             `json:"vehicleArchType,omitempty"`
	Ecus              map[string]*EcuRef `json:"ecus,omitempty"`
	VehicleAttributes VehicleAttributes  `json:"vehicleAttributes"`
	ModemInfo         *ModemInfo         `json:"modemInfo,omitempty"`
	AuthorizedUsers   []User             `json:"authorizedUsers,omitempty"`
	Checksum          string             `json:"checksum,omitempty"`
	UpdatedOn         time.Time          `json:"updatedOn,omitempty"`
}

// EcuFor 返回指定设备类型槽位的 ECU（不存在时为 nil）
func (p *Profile) EcuFor(deviceType string) *EcuRef {
	if p == nil || p.Ecus == nil {
		return nil
	}
	return p.Ecus[deviceType]
}

// HasDevice 判断设备是否占用档案中任一 ECU 槽位
func (p *Profile) HasDevice(deviceID string) bool {
	if p == nil {
		return false
	}
	for _, ecu := range p.Ecus {
		if ecu != nil && ecu.ClientID == deviceID {
			return true
		}
	}
	return false
}

// RemoveDevice 将设备从档案的所有 ECU 槽位中移除，返回是否发生变更
func (p *Profile) RemoveDevice(deviceID string) bool {
	if p == nil {
		return false
	}
	changed := false
	for deviceType, ecu := range p.Ecus {
		if ecu != nil && ecu.ClientID == deviceID {
			delete(p.Ecus, deviceType)
			changed = true
		}
	}
	return changed
}

// AttachDevice 将设备放入指定设备类型槽位
func (p *Profile) AttachDevice(deviceType, deviceID string) {
	if p.Ecus == nil {
		p.Ecus = make(map[string]*EcuRef)
	}
	p.Ecus[deviceType] = &EcuRef{ClientID: deviceID}
}

// HasAuthorizedUser 判断用户是否已在授权列表中
func (p *Profile) HasAuthorizedUser(userID string) bool {
	if p == nil {
		return false
	}
	for _, u := range p.AuthorizedUsers {
		if u.UserID == userID {
			return true
		}
	}
	return false
}
