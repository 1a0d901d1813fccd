package resolver_test

import (
	"context"
	"testing"

	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/client"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/models"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/repository"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	assocPrefix = "DEVICEVIN_"
	scanPrefix  = "VINSCAN_"
	realVin     = "1HGCM82633A004352"
	otherVin    = "1HGCM82633A999999"
)

var testPrefixes = models.DummyPrefixes{DeviceAssoc: assocPrefix, VinScan: scanPrefix}

func newTestEngine(store *fakeProfileStore, decoder *fakeDecoder, mmyRows []repository.MMYReference) *resolver.Engine {
	logger := zap.NewNop()
	assoc := &fakeDeviceAssoc{info: &models.ModemInfo{IMEI: "356938035643809", ICCID: "8944501234567890123"}}
	mmyRepo := &fakeMMYRepo{rows: mmyRows}
	caps := map[string][]string{"hu": {"navigation"}, "tcu": {"telemetry"}}
	services := map[string][]string{"hu": {"remote-diagnostics"}}

	builder := resolver.NewProfileBuilder(
		decoder, true, client.DecoderBasic,
		mmyRepo, assoc, caps, services, "1.0", logger,
	)
	return resolver.NewEngine(store, assoc, builder, testPrefixes, caps, services, logger)
}

// resolve 模拟 Stream Driver 的三次查询后调用引擎，并在每步之后检查全局不变式
func resolve(t *testing.T, engine *resolver.Engine, store *fakeProfileStore, event *models.VinEvent) resolver.Result {
	t.Helper()
	ctx := context.Background()

	deviceProfile, err := store.FindByDeviceID(ctx, event.DeviceID)
	require.NoError(t, err)
	var vinProfile *models.Profile
	if event.Value != "" {
		vinProfile, err = store.FindByVin(ctx, event.Value)
		require.NoError(t, err)
	}
	dummyProfile, err := store.FindByVin(ctx, scanPrefix+event.DeviceID)
	require.NoError(t, err)

	result, err := engine.Resolve(ctx, &resolver.Context{
		Event:         event,
		DeviceProfile: deviceProfile,
		VinProfile:    vinProfile,
		DummyProfile:  dummyProfile,
	})
	require.NoError(t, err)

	// 不变式 (a)：一个设备至多出现在一个档案的 ECU 表中
	require.LessOrEqual(t, store.profilesOwning(event.DeviceID), 1,
		"device %s owned by more than one profile", event.DeviceID)
	// 不变式 (b)：一个已解析 VIN 至多被一个档案持有（FindByVin 命中多条时报错）
	if event.Value != "" && !testPrefixes.IsDummy(event.Value) {
		_, err := store.FindByVin(ctx, event.Value)
		require.NoError(t, err)
	}

	return result
}

func dummyEvent(deviceID string) *models.VinEvent {
	return &models.VinEvent{DeviceID: deviceID, Value: "HCPDUMMY", Dummy: true, DeviceType: "hu"}
}

func vinEvent(deviceID, vin string) *models.VinEvent {
	return &models.VinEvent{DeviceID: deviceID, Value: vin, DeviceType: "hu"}
}

func TestResolve_DeviceAssocInitialize(t *testing.T) {
	store := newFakeProfileStore()
	engine := newTestEngine(store, &fakeDecoder{}, nil)

	event := dummyEvent("D1")
	event.UserID = "user-1"
	result := resolve(t, engine, store, event)

	assert.False(t, result.VinChanged)
	assert.False(t, result.MMYChanged)

	profile, err := store.FindByVin(context.Background(), assocPrefix+"D1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "D1", profile.Ecus["hu"].ClientID)
	assert.Equal(t, models.MakeNotApplicable, profile.VehicleAttributes.Make)
	assert.Equal(t, models.TypeUnknown, profile.VehicleAttributes.Type)
	require.Len(t, profile.AuthorizedUsers, 1)
	assert.Equal(t, "user-1", profile.AuthorizedUsers[0].UserID)
	assert.NotNil(t, profile.ModemInfo)
	assert.Equal(t, 1, store.creates)
}

func TestResolve_DeviceReactivate_RelocatesEcuSlot(t *testing.T) {
	store := newFakeProfileStore()
	engine := newTestEngine(store, &fakeDecoder{}, nil)

	resolve(t, engine, store, dummyEvent("D1"))

	// 同一设备换了角色上线
	event := dummyEvent("D1")
	event.DeviceType = "tcu"
	result := resolve(t, engine, store, event)

	assert.False(t, result.VinChanged)
	profile, err := store.FindByVin(context.Background(), assocPrefix+"D1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Nil(t, profile.Ecus["hu"])
	assert.Equal(t, "D1", profile.Ecus["tcu"].ClientID)
	assert.Equal(t, "tcu", profile.VehicleArchType)
}

func TestResolve_ConvertToVinScanDummy(t *testing.T) {
	store := newFakeProfileStore()
	engine := newTestEngine(store, &fakeDecoder{}, nil)

	resolve(t, engine, store, dummyEvent("D1"))
	result := resolve(t, engine, store, dummyEvent("D1"))

	// 二次占位上报：设备关联占位档案被替换为 VIN 扫描占位档案
	assert.True(t, result.MMYChanged, "make was N/A and conversion occurred")
	assert.False(t, result.VinChanged)

	ctx := context.Background()
	old, err := store.FindByVin(ctx, assocPrefix+"D1")
	require.NoError(t, err)
	assert.Nil(t, old, "device-assoc dummy must be destroyed on conversion")

	converted, err := store.FindByVin(ctx, scanPrefix+"D1")
	require.NoError(t, err)
	require.NotNil(t, converted)
	assert.Equal(t, "D1", converted.Ecus["hu"].ClientID)
	assert.Equal(t, 1, store.deletes)
}

func TestResolve_ConvertToVinScanDummy_Idempotent(t *testing.T) {
	store := newFakeProfileStore()
	engine := newTestEngine(store, &fakeDecoder{}, nil)

	resolve(t, engine, store, dummyEvent("D1"))
	resolve(t, engine, store, dummyEvent("D1"))

	deletesBefore := store.deletes
	result := resolve(t, engine, store, dummyEvent("D1"))

	// 已是 VIN 扫描占位档案：重复投递不再转换、不再置位
	assert.False(t, result.MMYChanged)
	assert.Equal(t, deletesBefore, store.deletes)
}

func TestResolve_NewResolvedVin(t *testing.T) {
	store := newFakeProfileStore()
	decoder := &fakeDecoder{spec: &client.DecodedSpec{Make: "Honda", Model: "Accord", ModelYear: "2003"}}
	engine := newTestEngine(store, decoder, []repository.MMYReference{
		{Make: "Honda", Model: "Accord", ModelYear: "2003", FuelType: "petrol", Displacement: 2.4, PowerPS: 160, TankCapacity: 65, MaintenanceID: "mnt-accord"},
	})

	resolve(t, engine, store, dummyEvent("D1"))
	result := resolve(t, engine, store, vinEvent("D1", realVin))

	assert.True(t, result.VinChanged)
	assert.False(t, result.MMYChanged, "make and type resolved")

	ctx := context.Background()
	profile, err := store.FindByVin(ctx, realVin)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "D1", profile.Ecus["hu"].ClientID)
	assert.Equal(t, "Honda", profile.VehicleAttributes.Make)
	assert.Equal(t, "Accord", profile.VehicleAttributes.Model)
	assert.Equal(t, "petrol", profile.VehicleAttributes.FuelType)
	assert.Equal(t, "Honda Accord 2003", profile.VehicleAttributes.Name)

	// 设备已从占位档案摘除
	dummy, err := store.FindByVin(ctx, assocPrefix+"D1")
	require.NoError(t, err)
	require.NotNil(t, dummy)
	assert.False(t, dummy.HasDevice("D1"))
}

func TestResolve_NewResolvedVin_DeduplicatesAuthorizedUsers(t *testing.T) {
	store := newFakeProfileStore()
	engine := newTestEngine(store, &fakeDecoder{}, nil)

	first := dummyEvent("D1")
	first.UserID = "user-1"
	resolve(t, engine, store, first)

	// 同一用户既在事件上、也已在占位档案的授权列表中
	event := vinEvent("D1", realVin)
	event.UserID = "user-1"
	resolve(t, engine, store, event)

	profile, err := store.FindByVin(context.Background(), realVin)
	require.NoError(t, err)
	require.NotNil(t, profile)
	require.Len(t, profile.AuthorizedUsers, 1)
	assert.Equal(t, "user-1", profile.AuthorizedUsers[0].UserID)
}

func TestResolve_EmptyVinValueIgnored(t *testing.T) {
	store := newFakeProfileStore()
	engine := newTestEngine(store, &fakeDecoder{}, nil)

	resolve(t, engine, store, dummyEvent("D1"))
	createsBefore := store.creates

	// 非占位事件但 value 为空：不得命中任何处理器，更不得建出空 VIN 档案
	result := resolve(t, engine, store, &models.VinEvent{DeviceID: "D1", DeviceType: "hu"})
	assert.False(t, result.VinChanged)
	assert.False(t, result.MMYChanged)
	assert.Equal(t, createsBefore, store.creates)

	empty, err := store.FindByVin(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestResolve_NewResolvedVin_DecoderFailureSetsMMYFlag(t *testing.T) {
	store := newFakeProfileStore()
	engine := newTestEngine(store, &fakeDecoder{}, nil) // 解码失败

	resolve(t, engine, store, dummyEvent("D1"))
	result := resolve(t, engine, store, vinEvent("D1", realVin))

	assert.True(t, result.VinChanged)
	assert.True(t, result.MMYChanged, "make stayed N/A after decode failure")

	profile, err := store.FindByVin(context.Background(), realVin)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, models.MakeNotApplicable, profile.VehicleAttributes.Make)
}

func TestResolve_AttachToExistingResolved_EvictsOccupant(t *testing.T) {
	store := newFakeProfileStore()
	decoder := &fakeDecoder{spec: &client.DecodedSpec{Make: "Honda", Model: "Accord", ModelYear: "2003"}}
	engine := newTestEngine(store, decoder, nil)

	// D1 占据已解析档案的 hu 槽位
	resolve(t, engine, store, dummyEvent("D1"))
	resolve(t, engine, store, vinEvent("D1", realVin))

	// D2 上报同一 VIN
	resolve(t, engine, store, dummyEvent("D2"))
	result := resolve(t, engine, store, vinEvent("D2", realVin))

	assert.True(t, result.VinChanged)

	ctx := context.Background()
	target, err := store.FindByVin(ctx, realVin)
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "D2", target.Ecus["hu"].ClientID, "D2 takes the slot")

	// D1 被迁出到自己的占位档案
	assert.Equal(t, 1, store.profilesOwning("D1"))
	d1Dummy, err := store.FindByVin(ctx, scanPrefix+"D1")
	require.NoError(t, err)
	require.NotNil(t, d1Dummy)
	assert.True(t, d1Dummy.HasDevice("D1"))
}

func TestResolve_RepeatedObservation_Idempotent(t *testing.T) {
	store := newFakeProfileStore()
	decoder := &fakeDecoder{spec: &client.DecodedSpec{Make: "Honda", Model: "Accord", ModelYear: "2003"}}
	engine := newTestEngine(store, decoder, nil)

	resolve(t, engine, store, dummyEvent("D1"))
	resolve(t, engine, store, vinEvent("D1", realVin))

	ctx := context.Background()
	before, err := store.FindByVin(ctx, realVin)
	require.NoError(t, err)
	vehicleID := before.VehicleID
	ecuClient := before.Ecus["hu"].ClientID

	// 同一 VIN 重复投递两次（模拟 at-least-once 重投）
	for i := 0; i < 2; i++ {
		result := resolve(t, engine, store, vinEvent("D1", realVin))
		assert.False(t, result.VinChanged)
		assert.False(t, result.MMYChanged)
	}

	after, err := store.FindByVin(ctx, realVin)
	require.NoError(t, err)
	assert.Equal(t, vehicleID, after.VehicleID)
	assert.Equal(t, realVin, after.VIN)
	assert.Equal(t, ecuClient, after.Ecus["hu"].ClientID)
	assert.Equal(t, 2, store.creates, "no new profiles on redelivery")
}

func TestResolve_BackToVinScanDummy(t *testing.T) {
	store := newFakeProfileStore()
	decoder := &fakeDecoder{spec: &client.DecodedSpec{Make: "Honda", Model: "Accord", ModelYear: "2003"}}
	engine := newTestEngine(store, decoder, nil)

	// 完整生命周期：关联占位 → 扫描占位 → 已解析
	resolve(t, engine, store, dummyEvent("D1"))
	resolve(t, engine, store, dummyEvent("D1"))
	resolve(t, engine, store, vinEvent("D1", realVin))

	// VIN 扫描倒退
	result := resolve(t, engine, store, dummyEvent("D1"))
	assert.False(t, result.VinChanged)

	ctx := context.Background()
	resolved, err := store.FindByVin(ctx, realVin)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.False(t, resolved.HasDevice("D1"))
	assert.Nil(t, resolved.ModemInfo, "modem info cleared on the resolved profile")

	dummy, err := store.FindByVin(ctx, scanPrefix+"D1")
	require.NoError(t, err)
	require.NotNil(t, dummy)
	assert.True(t, dummy.HasDevice("D1"))
	assert.Equal(t, "Honda", dummy.VehicleAttributes.Make, "MMY carried into the dummy profile")
}

func TestResolve_SwitchToExistingResolved(t *testing.T) {
	store := newFakeProfileStore()
	decoder := &fakeDecoder{spec: &client.DecodedSpec{Make: "Honda", Model: "Accord", ModelYear: "2003"}}
	engine := newTestEngine(store, decoder, nil)

	// D1 在 realVin 上，D2 在 otherVin 上
	resolve(t, engine, store, dummyEvent("D1"))
	resolve(t, engine, store, vinEvent("D1", realVin))
	resolve(t, engine, store, dummyEvent("D2"))
	resolve(t, engine, store, vinEvent("D2", otherVin))

	// D2 改报 realVin：从 otherVin 档案迁出，挤掉 D1
	result := resolve(t, engine, store, vinEvent("D2", realVin))
	assert.True(t, result.VinChanged)

	ctx := context.Background()
	target, err := store.FindByVin(ctx, realVin)
	require.NoError(t, err)
	assert.Equal(t, "D2", target.Ecus["hu"].ClientID)
	assert.Equal(t, "Honda Accord 2003", target.VehicleAttributes.Name, "display name recomputed")

	previous, err := store.FindByVin(ctx, otherVin)
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.False(t, previous.HasDevice("D2"))
	assert.Nil(t, previous.ModemInfo)

	assert.Equal(t, 1, store.profilesOwning("D1"), "evicted device still owned by exactly one profile")
}

func TestResolve_SwitchToNewResolved_CarriesUsers(t *testing.T) {
	store := newFakeProfileStore()
	decoder := &fakeDecoder{spec: &client.DecodedSpec{Make: "Honda", Model: "Accord", ModelYear: "2003"}}
	engine := newTestEngine(store, decoder, nil)

	first := dummyEvent("D1")
	first.UserID = "user-1"
	resolve(t, engine, store, first)
	resolve(t, engine, store, vinEvent("D1", realVin))

	// 设备被装到另一辆车上，报一个无人持有的新 VIN
	result := resolve(t, engine, store, vinEvent("D1", otherVin))
	assert.True(t, result.VinChanged)

	ctx := context.Background()
	profile, err := store.FindByVin(ctx, otherVin)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.True(t, profile.HasDevice("D1"))
	assert.True(t, profile.HasAuthorizedUser("user-1"), "authorized users follow the device")

	old, err := store.FindByVin(ctx, realVin)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.False(t, old.HasDevice("D1"))
}

func TestResolve_UnmatchedEventIgnored(t *testing.T) {
	store := newFakeProfileStore()
	engine := newTestEngine(store, &fakeDecoder{}, nil)

	// 真实 VIN 但设备没有任何档案：无处理器命中
	result := resolve(t, engine, store, vinEvent("D-unknown", realVin))
	assert.False(t, result.VinChanged)
	assert.False(t, result.MMYChanged)
	assert.Empty(t, store.all())
}

func TestResolve_SingleDeviceLifecycle_InvariantHolds(t *testing.T) {
	store := newFakeProfileStore()
	decoder := &fakeDecoder{spec: &client.DecodedSpec{Make: "Honda", Model: "Accord", ModelYear: "2003"}}
	engine := newTestEngine(store, decoder, nil)

	// 长事件序列；resolve 在每步之后断言设备至多归属一个档案
	events := []*models.VinEvent{
		dummyEvent("D1"),
		dummyEvent("D1"),
		vinEvent("D1", realVin),
		vinEvent("D1", realVin),
		dummyEvent("D1"),
		vinEvent("D1", otherVin),
		vinEvent("D1", otherVin),
	}
	for _, event := range events {
		resolve(t, engine, store, event)
	}

	assert.Equal(t, 1, store.profilesOwning("D1"))
}
