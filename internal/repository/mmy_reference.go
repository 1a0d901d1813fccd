package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// MMYReference 品牌/车型/年款参考行
// 参考表同时承载按车型的油料与保养参数（用于下发配置）
type MMYReference struct {
	Make          string
	Model         string
	ModelYear     string
	FuelType      string
	Displacement  float64
	PowerPS       float64
	TankCapacity  float64
	MaintenanceID string
}

// MMYReferenceRepo 参考表仓库接口（便于测试替换）
type MMYReferenceRepo interface {
	FindByMakeModel(make, model string, modelYear *string) (*MMYReference, error)
}

// PostgresMMYReferenceRepo 参考表仓库
type PostgresMMYReferenceRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresMMYReferenceRepo 创建参考表仓库
func NewPostgresMMYReferenceRepo(db *sql.DB, logger *zap.Logger) *PostgresMMYReferenceRepo {
	return &PostgresMMYReferenceRepo{
		db:     db,
		logger: logger,
	}
}

// FindByMakeModel 按品牌/车型（可选年款）查参考行
// modelYear 为 nil 时忽略年款（码表解码的年款不参与匹配）
// 未命中返回 nil, nil
func (r *PostgresMMYReferenceRepo) FindByMakeModel(make, model string, modelYear *string) (*MMYReference, error) {
	query := `
		SELECT
			make,
			model,
			model_year,
			fuel_type,
			displacement,
			power_ps,
			tank_capacity,
			maintenance_id
		FROM mmy_reference
		WHERE LOWER(make) = LOWER($1)
		  AND LOWER(model) = LOWER($2)
		  AND ($3::text IS NULL OR model_year = $3)
		ORDER BY model_year DESC
		LIMIT 1
	`

	ref := &MMYReference{}
	err := r.db.QueryRow(query, make, model, modelYear).Scan(
		&ref.Make,
		&ref.Model,
		&ref.ModelYear,
		&ref.FuelType,
		&ref.Displacement,
		&ref.PowerPS,
		&ref.TankCapacity,
		&ref.MaintenanceID,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query mmy reference: %w", err)
	}

	return ref, nil
}
