package resolver_test

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/client"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/models"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/repository"
)

// fakeProfileStore 仅用于单元测试（内存档案库）
type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile // vehicleId -> profile
	nextID   int
	creates  int
	updates  int
	deletes  int
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{
		profiles: make(map[string]*models.Profile),
	}
}

func (f *fakeProfileStore) FindByVin(ctx context.Context, vin string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var found *models.Profile
	for _, p := range f.profiles {
		if p.VIN == vin {
			if found != nil {
				return nil, fmt.Errorf("profile store invariant violated: multiple profiles own vin")
			}
			found = p
		}
	}
	return found, nil
}

func (f *fakeProfileStore) FindByDeviceID(ctx context.Context, deviceID string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.profiles {
		if p.HasDevice(deviceID) {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeProfileStore) Create(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	f.creates++
	profile.VehicleID = fmt.Sprintf("vehicle-%d", f.nextID)
	f.profiles[profile.VehicleID] = profile
	return profile, nil
}

func (f *fakeProfileStore) Update(ctx context.Context, vehicleID string, profile *models.Profile) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.profiles[vehicleID]; !ok {
		return false, fmt.Errorf("profile %s not found", vehicleID)
	}
	f.updates++
	f.profiles[vehicleID] = profile
	return true, nil
}

func (f *fakeProfileStore) Delete(ctx context.Context, profile *models.Profile) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.profiles[profile.VehicleID]; !ok {
		return false, fmt.Errorf("profile %s not found", profile.VehicleID)
	}
	f.deletes++
	delete(f.profiles, profile.VehicleID)
	return true, nil
}

// all 返回全部档案快照
func (f *fakeProfileStore) all() []*models.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]*models.Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		result = append(result, p)
	}
	return result
}

// profilesOwning 返回包含指定设备的档案数量
func (f *fakeProfileStore) profilesOwning(deviceID string) int {
	count := 0
	for _, p := range f.all() {
		if p.HasDevice(deviceID) {
			count++
		}
	}
	return count
}

// fakeDeviceAssoc 固定返回预设调制解调器信息
type fakeDeviceAssoc struct {
	info *models.ModemInfo
}

func (f *fakeDeviceAssoc) DetailsFor(ctx context.Context, deviceID string) *models.ModemInfo {
	return f.info
}

// fakeMMYRepo 内存参考表
type fakeMMYRepo struct {
	rows []repository.MMYReference
}

func (f *fakeMMYRepo) FindByMakeModel(make, model string, modelYear *string) (*repository.MMYReference, error) {
	for i := range f.rows {
		row := &f.rows[i]
		if !strings.EqualFold(row.Make, make) || !strings.EqualFold(row.Model, model) {
			continue
		}
		if modelYear != nil && row.ModelYear != *modelYear {
			continue
		}
		return row, nil
	}
	return nil, nil
}

// fakeDecoder 固定返回预设解码结果（nil 模拟解码失败）
type fakeDecoder struct {
	spec *client.DecodedSpec
}

func (f *fakeDecoder) Decode(ctx context.Context, vin string) *client.DecodedSpec {
	if f.spec == nil {
		return nil
	}
	copied := *f.spec
	return &copied
}
