package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ProfileStore 档案库客户端接口（便于测试替换）
type ProfileStore interface {
	FindByVin(ctx context.Context, vin string) (*models.Profile, error)
	FindByDeviceID(ctx context.Context, deviceID string) (*models.Profile, error)
	Create(ctx context.Context, profile *models.Profile) (*models.Profile, error)
	Update(ctx context.Context, vehicleID string, profile *models.Profile) (bool, error)
	Delete(ctx context.Context, profile *models.Profile) (bool, error)
}

// RestProfileStore 基于 REST 的档案库客户端
type RestProfileStore struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewRestProfileStore 创建档案库客户端
func NewRestProfileStore(baseURL string, timeout time.Duration, logger *zap.Logger) *RestProfileStore {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &RestProfileStore{
		httpClient: httpClient,
		logger:     logger,
	}
}

// FindByVin 按 VIN 查询档案
// 读失败按"未找到"处理；命中多条视为数据缺陷，向上返回错误
func (s *RestProfileStore) FindByVin(ctx context.Context, vin string) (*models.Profile, error) {
	var profiles []models.Profile
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetQueryParam("vin", vin).
		SetResult(&profiles).
		Get("/v1/vehicleProfiles")

	if err != nil {
		s.logger.Warn("Profile store lookup failed, treating as not found",
			zap.String("query", "vin"),
			zap.Error(err),
		)
		return nil, nil
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		s.logger.Warn("Profile store lookup returned error status, treating as not found",
			zap.String("query", "vin"),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, nil
	}

	switch len(profiles) {
	case 0:
		return nil, nil
	case 1:
		return &profiles[0], nil
	default:
		return nil, fmt.Errorf("profile store invariant violated: %d profiles own vin", len(profiles))
	}
}

// FindByDeviceID 按设备 ID 查询档案（设备占用任一 ECU 槽位即命中）
func (s *RestProfileStore) FindByDeviceID(ctx context.Context, deviceID string) (*models.Profile, error) {
	var profiles []models.Profile
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetQueryParam("clientId", deviceID).
		SetResult(&profiles).
		Get("/v1/vehicleProfiles")

	if err != nil {
		s.logger.Warn("Profile store lookup failed, treating as not found",
			zap.String("query", "clientId"),
			zap.Error(err),
		)
		return nil, nil
	}
	if resp.StatusCode() == http.StatusNotFound || resp.IsError() {
		return nil, nil
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return &profiles[0], nil
}

// Create 创建档案，返回带 vehicleId 的文档
func (s *RestProfileStore) Create(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	created := &models.Profile{}
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(profile).
		SetResult(created).
		Post("/v1/vehicleProfiles")

	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to create profile: status %d", resp.StatusCode())
	}

	return created, nil
}

// Update 更新档案
func (s *RestProfileStore) Update(ctx context.Context, vehicleID string, profile *models.Profile) (bool, error) {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(profile).
		Put("/v1/vehicleProfiles/" + vehicleID)

	if err != nil {
		return false, fmt.Errorf("failed to update profile %s: %w", vehicleID, err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("failed to update profile %s: status %d", vehicleID, resp.StatusCode())
	}

	return true, nil
}

// Delete 删除档案
func (s *RestProfileStore) Delete(ctx context.Context, profile *models.Profile) (bool, error) {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		Delete("/v1/vehicleProfiles/" + profile.VehicleID)

	if err != nil {
		return false, fmt.Errorf("failed to delete profile %s: %w", profile.VehicleID, err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("failed to delete profile %s: status %d", profile.VehicleID, resp.StatusCode())
	}

	return true, nil
}
