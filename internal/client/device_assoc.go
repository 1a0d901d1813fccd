package client

import (
	"context"
	"time"

	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DeviceAssociation 设备关联服务客户端接口
type DeviceAssociation interface {
	DetailsFor(ctx context.Context, deviceID string) *models.ModemInfo
}

// RestDeviceAssociation 基于 REST 的设备关联客户端
type RestDeviceAssociation struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewRestDeviceAssociation 创建设备关联客户端
func NewRestDeviceAssociation(baseURL string, logger *zap.Logger) *RestDeviceAssociation {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")

	return &RestDeviceAssociation{httpClient: httpClient, logger: logger}
}

// DetailsFor 查询设备历史调制解调器标识
// 调用失败按"无数据"处理，不阻断事件
func (c *RestDeviceAssociation) DetailsFor(ctx context.Context, deviceID string) *models.ModemInfo {
	var info models.ModemInfo
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&info).
		Get("/v1/devices/" + deviceID + "/association")

	if err != nil || resp.IsError() {
		c.logger.Warn("Device association lookup failed, proceeding without modem info",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return nil
	}

	if info == (models.ModemInfo{}) {
		return nil
	}
	return &info
}
