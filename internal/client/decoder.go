package client

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DecodedSpec VIN 解码结果
type DecodedSpec struct {
	Make      string `json:"make"`
	Model     string `json:"model"`
	ModelYear string `json:"modelYear"`
}

// 解码器类型
const (
	DecoderBasic       = "basic"
	DecoderCodeTable   = "codetable"
	DecoderVehicleSpec = "vehiclespec"
)

// VinDecoder VIN 解码策略接口
// 解码失败返回 nil，错误不越过引擎边界
type VinDecoder interface {
	Decode(ctx context.Context, vin string) *DecodedSpec
}

// NewVinDecoder 按配置选择解码策略
func NewVinDecoder(kind, baseURL, specURL, region string, logger *zap.Logger) VinDecoder {
	switch kind {
	case DecoderBasic:
		return NewBasicDecoder(baseURL, logger)
	case DecoderVehicleSpec:
		return NewVehicleSpecDecoder(specURL, logger)
	default:
		return NewCodeTableDecoder(region, logger)
	}
}

// normalizeSpec 统一归一化解码输出（三种策略共用）
func normalizeSpec(spec *DecodedSpec) *DecodedSpec {
	if spec == nil {
		return nil
	}
	spec.Make = strings.TrimSpace(spec.Make)
	spec.Model = strings.TrimSpace(spec.Model)
	spec.ModelYear = strings.TrimSpace(spec.ModelYear)
	if spec.Make == "" && spec.Model == "" && spec.ModelYear == "" {
		return nil
	}
	return spec
}

// BasicDecoder 基础外部解码服务
type BasicDecoder struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewBasicDecoder 创建基础解码客户端
func NewBasicDecoder(baseURL string, logger *zap.Logger) *BasicDecoder {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")

	return &BasicDecoder{httpClient: httpClient, logger: logger}
}

// Decode 调用外部解码服务
func (d *BasicDecoder) Decode(ctx context.Context, vin string) *DecodedSpec {
	var spec DecodedSpec
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetQueryParam("vin", vin).
		SetResult(&spec).
		Get("/v1/decode")

	if err != nil || resp.IsError() {
		d.logger.Warn("VIN decode failed, using defaults",
			zap.String("decoder", DecoderBasic),
			zap.Error(err),
		)
		return nil
	}

	return normalizeSpec(&spec)
}

// VehicleSpecDecoder 车辆规格服务解码
// 规格服务返回扁平字段，这里只取 make/model/year
type VehicleSpecDecoder struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// vehicleSpecResponse 规格服务响应
type vehicleSpecResponse struct {
	Manufacturer string `json:"manufacturer"`
	ModelName    string `json:"modelName"`
	Year         string `json:"year"`
}

// NewVehicleSpecDecoder 创建规格服务解码客户端
func NewVehicleSpecDecoder(baseURL string, logger *zap.Logger) *VehicleSpecDecoder {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &VehicleSpecDecoder{httpClient: httpClient, logger: logger}
}

// Decode 调用规格服务
func (d *VehicleSpecDecoder) Decode(ctx context.Context, vin string) *DecodedSpec {
	var result vehicleSpecResponse
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]string{"vin": vin}).
		SetResult(&result).
		Post("/v1/specifications")

	if err != nil || resp.IsError() {
		d.logger.Warn("VIN decode failed, using defaults",
			zap.String("decoder", DecoderVehicleSpec),
			zap.Error(err),
		)
		return nil
	}

	return normalizeSpec(&DecodedSpec{
		Make:      result.Manufacturer,
		Model:     result.ModelName,
		ModelYear: result.Year,
	})
}

// CodeTableDecoder 厂商/区域码表解码（进程内查表，不依赖外部服务）
// 只能给出厂商与年款，车型留待参考表补全
type CodeTableDecoder struct {
	region string
	logger *zap.Logger
}

// NewCodeTableDecoder 创建码表解码器
func NewCodeTableDecoder(region string, logger *zap.Logger) *CodeTableDecoder {
	return &CodeTableDecoder{region: region, logger: logger}
}

// wmiMakes WMI（VIN 前三位）到厂商的映射
var wmiMakes = map[string]string{
	"1HG": "Honda",
	"2HG": "Honda",
	"JHM": "Honda",
	"1FA": "Ford",
	"WF0": "Ford",
	"WVW": "Volkswagen",
	"WBA": "BMW",
	"WDB": "Mercedes-Benz",
	"VF1": "Renault",
	"VF3": "Peugeot",
	"SAL": "Land Rover",
	"KMH": "Hyundai",
	"KNA": "Kia",
	"JTD": "Toyota",
	"5YJ": "Tesla",
	"YV1": "Volvo",
	"ZFA": "Fiat",
	"MAL": "Hyundai",
}

// yearCodes VIN 第 10 位年款码（2010 年起的一个循环周期）
var yearCodes = map[byte]int{
	'A': 2010, 'B': 2011, 'C': 2012, 'D': 2013, 'E': 2014,
	'F': 2015, 'G': 2016, 'H': 2017, 'J': 2018, 'K': 2019,
	'L': 2020, 'M': 2021, 'N': 2022, 'P': 2023, 'R': 2024,
	'S': 2025, 'T': 2026, 'V': 2027, 'W': 2028, 'X': 2029,
	'Y': 2030, '1': 2001, '2': 2002, '3': 2003, '4': 2004,
	'5': 2005, '6': 2006, '7': 2007, '8': 2008, '9': 2009,
}

// Decode 查码表解码
func (d *CodeTableDecoder) Decode(ctx context.Context, vin string) *DecodedSpec {
	if len(vin) < 10 {
		return nil
	}

	spec := &DecodedSpec{}

	wmi := strings.ToUpper(vin[:3])
	if mk, ok := wmiMakes[wmi]; ok {
		spec.Make = mk
	}

	yearChar := strings.ToUpper(vin)[9]
	if year, ok := yearCodes[yearChar]; ok {
		spec.ModelYear = strconv.Itoa(year)
	}

	return normalizeSpec(spec)
}
