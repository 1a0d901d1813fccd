package resolver

import (
	"context"
	"fmt"

	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/client"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/models"

	"go.uber.org/zap"
)

// Context 单条 VIN 事件的解析上下文
// 三个档案查询结果由 Stream Driver 预先加载
type Context struct {
	Event         *models.VinEvent
	DeviceProfile *models.Profile // 当前归属该设备的档案
	VinProfile    *models.Profile // 当前持有上报 VIN 的档案
	DummyProfile  *models.Profile // 该设备的 VIN 扫描占位档案
}

// Result 解析结果标志
type Result struct {
	VinChanged bool
	MMYChanged bool
}

// handler 决策链中的一个环节
// guard 全部成立才执行 apply，命中后链路终止
type handler struct {
	name  string
	guard func(c *Context) bool
	apply func(ctx context.Context, c *Context) (Result, error)
}

// Engine VIN 事件解析引擎
// 九个处理器按固定顺序求值，守卫条件互斥
type Engine struct {
	store    client.ProfileStore
	assoc    client.DeviceAssociation
	builder  *ProfileBuilder
	prefixes models.DummyPrefixes
	caps     map[string][]string
	services map[string][]string
	handlers []handler
	logger   *zap.Logger
}

// NewEngine 创建解析引擎
func NewEngine(
	store client.ProfileStore,
	assoc client.DeviceAssociation,
	builder *ProfileBuilder,
	prefixes models.DummyPrefixes,
	capabilities map[string][]string,
	provisionedServices map[string][]string,
	logger *zap.Logger,
) *Engine {
	e := &Engine{
		store:    store,
		assoc:    assoc,
		builder:  builder,
		prefixes: prefixes,
		caps:     capabilities,
		services: provisionedServices,
		logger:   logger,
	}

	// 处理顺序即优先级，不可调整
	e.handlers = []handler{
		{"device_assoc_initialize", e.guardDeviceAssocInitialize, e.applyDeviceAssocInitialize},
		{"device_reactivate", e.guardDeviceReactivate, e.applyDeviceReactivate},
		{"convert_to_vin_scan_dummy", e.guardConvertToVinScanDummy, e.applyConvertToVinScanDummy},
		{"new_resolved_vin", e.guardNewResolvedVin, e.applyNewResolvedVin},
		{"back_to_vin_scan_dummy", e.guardBackToVinScanDummy, e.applyBackToVinScanDummy},
		{"attach_to_existing_resolved", e.guardAttachToExistingResolved, e.applyAttachToExistingResolved},
		{"switch_to_existing_resolved", e.guardSwitchToExistingResolved, e.applySwitchToExistingResolved},
		{"switch_to_new_resolved", e.guardSwitchToNewResolved, e.applySwitchToNewResolved},
		{"repeated_observation", e.guardRepeatedObservation, e.applyRepeatedObservation},
	}

	return e
}

// Resolve 解析一条 VIN 事件
//
// 档案读取与后续写入之间没有事务边界：同一设备/VIN 的并发事件
// 存在竞态，后写覆盖先写
func (e *Engine) Resolve(ctx context.Context, c *Context) (Result, error) {
	for _, h := range e.handlers {
		if !h.guard(c) {
			continue
		}

		e.logger.Info("Resolution handler matched",
			zap.String("handler", h.name),
			zap.String("device_id", c.Event.DeviceID),
			zap.Bool("is_dummy", c.Event.Dummy),
		)

		result, err := h.apply(ctx, c)
		if err != nil {
			return Result{}, fmt.Errorf("handler %s failed: %w", h.name, err)
		}
		return result, nil
	}

	// 无处理器命中：记录后忽略，不做任何档案变更
	e.logger.Warn("No resolution handler matched, event ignored",
		zap.String("device_id", c.Event.DeviceID),
		zap.Bool("is_dummy", c.Event.Dummy),
	)
	return Result{}, nil
}

// newEcuRef 生成带默认能力/预置服务列表的 ECU 槽位
func (e *Engine) newEcuRef(deviceType, deviceID string) *models.EcuRef {
	return &models.EcuRef{
		ClientID:            deviceID,
		Capabilities:        e.caps[deviceType],
		ProvisionedServices: e.services[deviceType],
	}
}

// defaultAttributes 占位档案的默认属性
func (e *Engine) defaultAttributes(event *models.VinEvent) models.VehicleAttributes {
	attrs := models.VehicleAttributes{
		Make:      models.MakeNotApplicable,
		Model:     models.MakeNotApplicable,
		ModelYear: models.MakeNotApplicable,
		Name:      models.GenericModelName,
		Type:      models.TypeUnknown,
	}
	if event.ModelName != "" {
		attrs.Name = event.ModelName
	}
	if event.Type != "" {
		attrs.Type = event.Type
	}
	return attrs
}

// displayName 由品牌/车型/年款组合显示名，占位值跳过
func displayName(make, model, year string) string {
	name := ""
	for _, part := range []string{make, model, year} {
		if part == "" || part == models.MakeNotApplicable {
			continue
		}
		if name != "" {
			name += " "
		}
		name += part
	}
	if name == "" {
		return models.GenericModelName
	}
	return name
}
