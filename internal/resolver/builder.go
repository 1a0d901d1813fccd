package resolver

import (
	"context"
	"time"

	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/client"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/models"
	"github.com/eclipse-ecsp/vehicle-profile-sub000/internal/repository"

	"go.uber.org/zap"
)

// ProfileBuilder 从 VIN 事件组装新的已解析档案
// 解码是尽力而为：任何解码失败都退回默认值，绝不中断事件处理
type ProfileBuilder struct {
	decoder        client.VinDecoder
	decoderEnabled bool
	decoderKind    string
	mmyRepo        repository.MMYReferenceRepo
	assoc          client.DeviceAssociation
	caps           map[string][]string
	services       map[string][]string
	checksum       string
	logger         *zap.Logger
}

// NewProfileBuilder 创建档案组装器
func NewProfileBuilder(
	decoder client.VinDecoder,
	decoderEnabled bool,
	decoderKind string,
	mmyRepo repository.MMYReferenceRepo,
	assoc client.DeviceAssociation,
	capabilities map[string][]string,
	provisionedServices map[string][]string,
	defaultChecksum string,
	logger *zap.Logger,
) *ProfileBuilder {
	return &ProfileBuilder{
		decoder:        decoder,
		decoderEnabled: decoderEnabled,
		decoderKind:    decoderKind,
		mmyRepo:        mmyRepo,
		assoc:          assoc,
		caps:           capabilities,
		services:       provisionedServices,
		checksum:       defaultChecksum,
		logger:         logger,
	}
}

// Build 组装一份新的已解析档案
func (b *ProfileBuilder) Build(ctx context.Context, event *models.VinEvent) (*models.Profile, error) {
	attrs := models.VehicleAttributes{
		Make:      models.MakeNotApplicable,
		Model:     models.MakeNotApplicable,
		ModelYear: models.MakeNotApplicable,
		Name:      models.GenericModelName,
		Type:      models.TypeUnknown,
	}
	if event.ModelName != "" {
		attrs.Model = event.ModelName
		attrs.Name = event.ModelName
	}
	if event.Type != "" {
		attrs.Type = event.Type
	}

	// 1. 解码（按配置选定的策略；失败保持默认值）
	if b.decoderEnabled {
		if spec := b.decoder.Decode(ctx, event.Value); spec != nil {
			if spec.Make != "" {
				attrs.Make = spec.Make
			}
			if spec.Model != "" {
				attrs.Model = spec.Model
			}
			if spec.ModelYear != "" {
				attrs.ModelYear = spec.ModelYear
			}
		}
	}

	// 2. 参考表复核：命中时参考表的值优先于解码输出
	//    码表解码的年款不参与匹配条件
	var yearFilter *string
	if b.decoderKind != client.DecoderCodeTable && attrs.ModelYear != models.MakeNotApplicable {
		year := attrs.ModelYear
		yearFilter = &year
	}
	if ref := b.lookupReference(attrs.Make, attrs.Model, yearFilter); ref != nil {
		attrs.Make = ref.Make
		attrs.Model = ref.Model
		if ref.ModelYear != "" {
			attrs.ModelYear = ref.ModelYear
		}
		attrs.FuelType = ref.FuelType
		attrs.Name = displayName(attrs.Make, attrs.Model, attrs.ModelYear)
	} else if attrs.Make != models.MakeNotApplicable {
		attrs.Name = displayName(attrs.Make, attrs.Model, attrs.ModelYear)
	}

	profile := &models.Profile{
		VIN:             event.Value,
		VehicleArchType: event.DeviceType,
		Ecus: map[string]*models.EcuRef{
			event.DeviceType: {
				ClientID:            event.DeviceID,
				Capabilities:        b.caps[event.DeviceType],
				ProvisionedServices: b.services[event.DeviceType],
			},
		},
		VehicleAttributes: attrs,
		ModemInfo:         b.assoc.DetailsFor(ctx, event.DeviceID),
		Checksum:          b.checksum,
		UpdatedOn:         time.Now(),
	}
	if event.UserID != "" {
		profile.AuthorizedUsers = []models.User{{UserID: event.UserID, Role: "owner"}}
	}

	return profile, nil
}

// lookupReference 查品牌/车型参考表（查询失败按未命中处理）
func (b *ProfileBuilder) lookupReference(make, model string, year *string) *repository.MMYReference {
	if make == models.MakeNotApplicable && model == models.MakeNotApplicable {
		return nil
	}
	ref, err := b.mmyRepo.FindByMakeModel(make, model, year)
	if err != nil {
		b.logger.Warn("MMY reference lookup failed, keeping decoded values", zap.Error(err))
		return nil
	}
	return ref
}
