package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/models"

	"go.uber.org/zap"
)

// ---- 1. 设备关联初始化 ----
// 占位事件 + 设备尚无任何档案：首次上线，创建设备关联占位档案

func (e *Engine) guardDeviceAssocInitialize(c *Context) bool {
	return c.Event.Dummy && c.DeviceProfile == nil
}

func (e *Engine) applyDeviceAssocInitialize(ctx context.Context, c *Context) (Result, error) {
	event := c.Event

	profile := &models.Profile{
		VIN:               e.prefixes.DeviceAssoc + event.DeviceID,
		VehicleArchType:   event.DeviceType,
		Ecus:              map[string]*models.EcuRef{event.DeviceType: e.newEcuRef(event.DeviceType, event.DeviceID)},
		VehicleAttributes: e.defaultAttributes(event),
		ModemInfo:         e.assoc.DetailsFor(ctx, event.DeviceID),
		Checksum:          e.builder.checksum,
		UpdatedOn:         time.Now(),
	}
	if event.UserID != "" {
		profile.AuthorizedUsers = []models.User{{UserID: event.UserID, Role: "owner"}}
	}

	if _, err := e.store.Create(ctx, profile); err != nil {
		return Result{}, fmt.Errorf("failed to create device-assoc dummy profile: %w", err)
	}
	return Result{}, nil
}

// ---- 2. 设备重新激活 ----
// 占位事件 + 档案存在但 ECU 槽位中没有该设备类型：设备换了角色上线

func (e *Engine) guardDeviceReactivate(c *Context) bool {
	return c.Event.Dummy &&
		c.DeviceProfile != nil &&
		c.DeviceProfile.EcuFor(c.Event.DeviceType) == nil
}

func (e *Engine) applyDeviceReactivate(ctx context.Context, c *Context) (Result, error) {
	event := c.Event
	profile := c.DeviceProfile

	// 将设备原有的 ECU 条目搬到新的设备类型槽位
	var relocated *models.EcuRef
	for deviceType, ecu := range profile.Ecus {
		if ecu != nil && ecu.ClientID == event.DeviceID {
			relocated = ecu
			delete(profile.Ecus, deviceType)
			break
		}
	}
	if relocated == nil {
		relocated = e.newEcuRef(event.DeviceType, event.DeviceID)
	}
	if profile.Ecus == nil {
		profile.Ecus = make(map[string]*models.EcuRef)
	}
	profile.Ecus[event.DeviceType] = relocated
	profile.VehicleArchType = event.DeviceType
	profile.UpdatedOn = time.Now()

	if _, err := e.store.Update(ctx, profile.VehicleID, profile); err != nil {
		return Result{}, fmt.Errorf("failed to relocate ecu slot: %w", err)
	}
	return Result{}, nil
}

// ---- 3. 转换为 VIN 扫描占位档案 ----
// 占位事件 + 档案存在且本身是占位档案：一个点火周期结束仍无真实 VIN

func (e *Engine) guardConvertToVinScanDummy(c *Context) bool {
	return c.Event.Dummy &&
		c.DeviceProfile != nil &&
		e.prefixes.IsDummy(c.DeviceProfile.VIN)
}

func (e *Engine) applyConvertToVinScanDummy(ctx context.Context, c *Context) (Result, error) {
	event := c.Event
	old := c.DeviceProfile

	// 已经是 VIN 扫描占位档案：重复投递，保持幂等
	if e.prefixes.KindOf(old.VIN) == models.KindVinScanDummy {
		return Result{}, nil
	}

	// 删除设备关联占位档案，以 VIN 扫描前缀重建（新身份，updatedOn 延续）
	replacement := *old
	replacement.VehicleID = ""
	replacement.VIN = e.prefixes.VinScan + event.DeviceID

	if _, err := e.store.Delete(ctx, old); err != nil {
		return Result{}, fmt.Errorf("failed to delete device-assoc dummy profile: %w", err)
	}
	if _, err := e.store.Create(ctx, &replacement); err != nil {
		return Result{}, fmt.Errorf("failed to create vin-scan dummy profile: %w", err)
	}

	return Result{MMYChanged: old.VehicleAttributes.Make == models.MakeNotApplicable}, nil
}

// ---- 4. 新的已解析 VIN（首次接触） ----
// 真实 VIN + 设备在占位档案上 + 该 VIN 无人持有：建立新的已解析档案

func (e *Engine) guardNewResolvedVin(c *Context) bool {
	return !c.Event.Dummy &&
		c.Event.Value != "" &&
		c.DeviceProfile != nil &&
		e.prefixes.IsDummy(c.DeviceProfile.VIN) &&
		c.VinProfile == nil
}

func (e *Engine) applyNewResolvedVin(ctx context.Context, c *Context) (Result, error) {
	event := c.Event
	dummy := c.DeviceProfile

	// 1. 从占位档案摘除设备
	dummy.RemoveDevice(event.DeviceID)
	dummy.UpdatedOn = time.Now()
	if _, err := e.store.Update(ctx, dummy.VehicleID, dummy); err != nil {
		return Result{}, fmt.Errorf("failed to detach device from dummy profile: %w", err)
	}

	// 2. 通过 Profile Builder 组装新的已解析档案（解码失败走默认值）
	profile, err := e.builder.Build(ctx, event)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build resolved profile: %w", err)
	}

	// 3. 从占位档案带走外观属性 / 调制解调器信息 / 授权用户
	if dummy.VehicleAttributes.Name != "" && dummy.VehicleAttributes.Name != models.GenericModelName {
		profile.VehicleAttributes.Name = dummy.VehicleAttributes.Name
	}
	if dummy.VehicleAttributes.BaseColor != "" {
		profile.VehicleAttributes.BaseColor = dummy.VehicleAttributes.BaseColor
	}
	if dummy.VehicleAttributes.BodyType != "" {
		profile.VehicleAttributes.BodyType = dummy.VehicleAttributes.BodyType
	}
	if dummy.ModemInfo != nil {
		profile.ModemInfo = dummy.ModemInfo
	}
	for _, user := range dummy.AuthorizedUsers {
		if !profile.HasAuthorizedUser(user.UserID) {
			profile.AuthorizedUsers = append(profile.AuthorizedUsers, user)
		}
	}

	if _, err := e.store.Create(ctx, profile); err != nil {
		return Result{}, fmt.Errorf("failed to create resolved profile: %w", err)
	}

	return Result{
		VinChanged: true,
		MMYChanged: profile.VehicleAttributes.Make == models.MakeNotApplicable ||
			profile.VehicleAttributes.Type == models.TypeUnknown,
	}, nil
}

// ---- 5. 退回 VIN 扫描占位档案 ----
// 占位事件 + 设备在已解析档案上 + 占位档案仍在：VIN 扫描倒退

func (e *Engine) guardBackToVinScanDummy(c *Context) bool {
	return c.Event.Dummy &&
		c.DeviceProfile != nil &&
		e.prefixes.KindOf(c.DeviceProfile.VIN) == models.KindResolved &&
		c.DummyProfile != nil
}

func (e *Engine) applyBackToVinScanDummy(ctx context.Context, c *Context) (Result, error) {
	event := c.Event
	resolved := c.DeviceProfile
	dummy := c.DummyProfile

	// 从已解析档案摘除设备并清除调制解调器信息
	resolved.RemoveDevice(event.DeviceID)
	resolved.ModemInfo = nil
	resolved.UpdatedOn = time.Now()
	if _, err := e.store.Update(ctx, resolved.VehicleID, resolved); err != nil {
		return Result{}, fmt.Errorf("failed to detach device from resolved profile: %w", err)
	}

	// 挂回占位档案，带上已解析档案的属性
	if dummy.Ecus == nil {
		dummy.Ecus = make(map[string]*models.EcuRef)
	}
	dummy.Ecus[event.DeviceType] = e.newEcuRef(event.DeviceType, event.DeviceID)
	dummy.VehicleAttributes.Make = resolved.VehicleAttributes.Make
	dummy.VehicleAttributes.Model = resolved.VehicleAttributes.Model
	dummy.VehicleAttributes.ModelYear = resolved.VehicleAttributes.ModelYear
	dummy.VehicleAttributes.Name = resolved.VehicleAttributes.Name
	dummy.VehicleAttributes.BodyType = resolved.VehicleAttributes.BodyType
	dummy.VehicleAttributes.BaseColor = resolved.VehicleAttributes.BaseColor
	dummy.VehicleAttributes.FuelType = resolved.VehicleAttributes.FuelType
	dummy.UpdatedOn = time.Now()

	if _, err := e.store.Update(ctx, dummy.VehicleID, dummy); err != nil {
		return Result{}, fmt.Errorf("failed to reattach device to vin-scan dummy: %w", err)
	}
	return Result{}, nil
}

// ---- 6. 挂接到已存在的已解析 VIN（首次接触） ----
// 真实 VIN + 目标档案已持有该 VIN + 设备还在占位档案上

func (e *Engine) guardAttachToExistingResolved(c *Context) bool {
	return !c.Event.Dummy &&
		c.VinProfile != nil &&
		c.DeviceProfile != nil &&
		e.prefixes.IsDummy(c.DeviceProfile.VIN)
}

func (e *Engine) applyAttachToExistingResolved(ctx context.Context, c *Context) (Result, error) {
	event := c.Event
	target := c.VinProfile
	dummy := c.DeviceProfile

	// 1. 目标槽位已被其他设备占用时，把占用者迁出到它自己的占位档案
	if err := e.evictOccupant(ctx, target, event.DeviceType, event.DeviceID); err != nil {
		return Result{}, err
	}

	// 2. 从占位档案摘除本设备
	dummy.RemoveDevice(event.DeviceID)
	dummy.UpdatedOn = time.Now()
	if _, err := e.store.Update(ctx, dummy.VehicleID, dummy); err != nil {
		return Result{}, fmt.Errorf("failed to detach device from dummy profile: %w", err)
	}

	// 3. 挂接到目标档案，带走调制解调器信息 / 授权用户 / 非占位名称
	if target.Ecus == nil {
		target.Ecus = make(map[string]*models.EcuRef)
	}
	target.Ecus[event.DeviceType] = e.newEcuRef(event.DeviceType, event.DeviceID)
	if dummy.ModemInfo != nil {
		target.ModemInfo = dummy.ModemInfo
	}
	for _, user := range dummy.AuthorizedUsers {
		if !target.HasAuthorizedUser(user.UserID) {
			target.AuthorizedUsers = append(target.AuthorizedUsers, user)
		}
	}
	if dummy.VehicleAttributes.Name != "" && dummy.VehicleAttributes.Name != models.GenericModelName {
		target.VehicleAttributes.Name = dummy.VehicleAttributes.Name
	}
	target.UpdatedOn = time.Now()

	if _, err := e.store.Update(ctx, target.VehicleID, target); err != nil {
		return Result{}, fmt.Errorf("failed to attach device to resolved profile: %w", err)
	}
	return Result{VinChanged: true}, nil
}

// ---- 7. 切换到另一个已存在的已解析 VIN ----
// 真实 VIN + 目标档案持有该 VIN + 设备当前在别的已解析 VIN 上

func (e *Engine) guardSwitchToExistingResolved(c *Context) bool {
	return !c.Event.Dummy &&
		c.VinProfile != nil &&
		c.DeviceProfile != nil &&
		c.DeviceProfile.VIN != c.Event.Value
}

func (e *Engine) applySwitchToExistingResolved(ctx context.Context, c *Context) (Result, error) {
	event := c.Event
	current := c.DeviceProfile
	target := c.VinProfile

	// 1. 从当前档案摘除设备并清除调制解调器信息
	current.RemoveDevice(event.DeviceID)
	current.ModemInfo = nil
	current.UpdatedOn = time.Now()
	if _, err := e.store.Update(ctx, current.VehicleID, current); err != nil {
		return Result{}, fmt.Errorf("failed to detach device from current profile: %w", err)
	}

	// 2. 迁出目标槽位的占用者
	if err := e.evictOccupant(ctx, target, event.DeviceType, event.DeviceID); err != nil {
		return Result{}, err
	}

	// 3. 挂接到目标档案并重算显示名
	if target.Ecus == nil {
		target.Ecus = make(map[string]*models.EcuRef)
	}
	target.Ecus[event.DeviceType] = e.newEcuRef(event.DeviceType, event.DeviceID)
	target.VehicleAttributes.Name = displayName(
		target.VehicleAttributes.Make,
		target.VehicleAttributes.Model,
		target.VehicleAttributes.ModelYear,
	)
	target.UpdatedOn = time.Now()

	if _, err := e.store.Update(ctx, target.VehicleID, target); err != nil {
		return Result{}, fmt.Errorf("failed to attach device to target profile: %w", err)
	}
	return Result{VinChanged: true}, nil
}

// ---- 8. 切换到新的已解析 VIN ----
// 真实 VIN + 与设备当前 VIN 不同 + 该 VIN 无人持有

func (e *Engine) guardSwitchToNewResolved(c *Context) bool {
	return !c.Event.Dummy &&
		c.Event.Value != "" &&
		c.DeviceProfile != nil &&
		c.DeviceProfile.VIN != c.Event.Value &&
		c.VinProfile == nil
}

func (e *Engine) applySwitchToNewResolved(ctx context.Context, c *Context) (Result, error) {
	event := c.Event
	current := c.DeviceProfile

	// 1. 从当前档案摘除设备
	current.RemoveDevice(event.DeviceID)
	current.UpdatedOn = time.Now()
	if _, err := e.store.Update(ctx, current.VehicleID, current); err != nil {
		return Result{}, fmt.Errorf("failed to detach device from current profile: %w", err)
	}

	// 2. 组装并创建全新的已解析档案，授权用户随设备迁移
	profile, err := e.builder.Build(ctx, event)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build resolved profile: %w", err)
	}
	for _, user := range current.AuthorizedUsers {
		if !profile.HasAuthorizedUser(user.UserID) {
			profile.AuthorizedUsers = append(profile.AuthorizedUsers, user)
		}
	}

	if _, err := e.store.Create(ctx, profile); err != nil {
		return Result{}, fmt.Errorf("failed to create resolved profile: %w", err)
	}

	return Result{
		VinChanged: true,
		MMYChanged: profile.VehicleAttributes.Make == models.MakeNotApplicable,
	}, nil
}

// ---- 9. 重复观测 ----
// 真实 VIN 且与设备当前 VIN 一致：除 updatedOn 外不做任何变更

func (e *Engine) guardRepeatedObservation(c *Context) bool {
	return !c.Event.Dummy &&
		c.DeviceProfile != nil &&
		c.DeviceProfile.VIN == c.Event.Value
}

func (e *Engine) applyRepeatedObservation(ctx context.Context, c *Context) (Result, error) {
	profile := c.DeviceProfile
	profile.UpdatedOn = time.Now()

	if _, err := e.store.Update(ctx, profile.VehicleID, profile); err != nil {
		return Result{}, fmt.Errorf("failed to refresh profile: %w", err)
	}
	return Result{}, nil
}

// evictOccupant 目标槽位被其他设备占用时，把占用者迁回它自己的占位档案
// 占位档案不存在则新建，保证"一个设备至多归属一个档案"
func (e *Engine) evictOccupant(ctx context.Context, target *models.Profile, deviceType, callingDeviceID string) error {
	occupant := target.EcuFor(deviceType)
	if occupant == nil || occupant.ClientID == callingDeviceID {
		return nil
	}

	occupantID := occupant.ClientID
	delete(target.Ecus, deviceType)

	occupantDummy, err := e.store.FindByVin(ctx, e.prefixes.VinScan+occupantID)
	if err != nil {
		return fmt.Errorf("failed to look up occupant dummy profile: %w", err)
	}

	if occupantDummy == nil {
		occupantDummy = &models.Profile{
			VIN:             e.prefixes.VinScan + occupantID,
			VehicleArchType: deviceType,
			Ecus:            map[string]*models.EcuRef{deviceType: e.newEcuRef(deviceType, occupantID)},
			VehicleAttributes: models.VehicleAttributes{
				Make:      models.MakeNotApplicable,
				Model:     models.MakeNotApplicable,
				ModelYear: models.MakeNotApplicable,
				Name:      models.GenericModelName,
				Type:      models.TypeUnknown,
			},
			Checksum:  e.builder.checksum,
			UpdatedOn: time.Now(),
		}
		if _, err := e.store.Create(ctx, occupantDummy); err != nil {
			return fmt.Errorf("failed to create dummy profile for evicted device: %w", err)
		}
	} else {
		occupantDummy.AttachDevice(deviceType, occupantID)
		occupantDummy.UpdatedOn = time.Now()
		if _, err := e.store.Update(ctx, occupantDummy.VehicleID, occupantDummy); err != nil {
			return fmt.Errorf("failed to reattach evicted device: %w", err)
		}
	}

	e.logger.Info("Evicted occupant to its dummy profile",
		zap.String("evicted_device_id", occupantID),
		zap.String("device_type", deviceType),
	)
	return nil
}
