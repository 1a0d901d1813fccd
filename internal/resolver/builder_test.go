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

func newTestBuilder(decoder *fakeDecoder, enabled bool, kind string, rows []repository.MMYReference) *resolver.ProfileBuilder {
	return resolver.NewProfileBuilder(
		decoder, enabled, kind,
		&fakeMMYRepo{rows: rows},
		&fakeDeviceAssoc{},
		map[string][]string{"hu": {"navigation"}},
		map[string][]string{"hu": {"remote-diagnostics"}},
		"1.0",
		zap.NewNop(),
	)
}

func TestBuild_ReferenceTableWins(t *testing.T) {
	// 解码结果大小写混乱，参考表命中后以参考表为准
	decoder := &fakeDecoder{spec: &client.DecodedSpec{Make: "HONDA", Model: "accord", ModelYear: "2003"}}
	builder := newTestBuilder(decoder, true, client.DecoderBasic, []repository.MMYReference{
		{Make: "Honda", Model: "Accord", ModelYear: "2003", FuelType: "petrol"},
	})

	profile, err := builder.Build(context.Background(), vinEvent("D1", realVin))
	require.NoError(t, err)

	assert.Equal(t, "Honda", profile.VehicleAttributes.Make)
	assert.Equal(t, "Accord", profile.VehicleAttributes.Model)
	assert.Equal(t, "2003", profile.VehicleAttributes.ModelYear)
	assert.Equal(t, "petrol", profile.VehicleAttributes.FuelType)
	assert.Equal(t, "Honda Accord 2003", profile.VehicleAttributes.Name)
}

func TestBuild_DecoderFailureLeavesDefaults(t *testing.T) {
	builder := newTestBuilder(&fakeDecoder{}, true, client.DecoderBasic, nil)

	event := vinEvent("D1", realVin)
	event.ModelName = "Family Car"
	event.Type = "passenger"
	profile, err := builder.Build(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, models.MakeNotApplicable, profile.VehicleAttributes.Make)
	assert.Equal(t, "Family Car", profile.VehicleAttributes.Model)
	assert.Equal(t, "Family Car", profile.VehicleAttributes.Name)
	assert.Equal(t, "passenger", profile.VehicleAttributes.Type)
	assert.Equal(t, realVin, profile.VIN)
	assert.Equal(t, "D1", profile.Ecus["hu"].ClientID)
	assert.Equal(t, []string{"navigation"}, profile.Ecus["hu"].Capabilities)
}

func TestBuild_DecoderDisabled(t *testing.T) {
	decoder := &fakeDecoder{spec: &client.DecodedSpec{Make: "Honda", Model: "Accord", ModelYear: "2003"}}
	builder := newTestBuilder(decoder, false, client.DecoderBasic, nil)

	profile, err := builder.Build(context.Background(), vinEvent("D1", realVin))
	require.NoError(t, err)

	assert.Equal(t, models.MakeNotApplicable, profile.VehicleAttributes.Make,
		"decoder output ignored when decoding is disabled")
}

func TestBuild_CodeTableYearNotUsedForMatch(t *testing.T) {
	// 码表解码的年款不可靠：参考表按品牌/车型匹配，年款由参考表给出
	decoder := &fakeDecoder{spec: &client.DecodedSpec{Make: "Honda", ModelYear: "2011"}}
	builder := newTestBuilder(decoder, true, client.DecoderCodeTable, []repository.MMYReference{
		{Make: "Honda", Model: "Accord", ModelYear: "2003", FuelType: "petrol"},
	})

	event := vinEvent("D1", realVin)
	event.ModelName = "Accord"
	profile, err := builder.Build(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, "2003", profile.VehicleAttributes.ModelYear)
	assert.Equal(t, "Honda Accord 2003", profile.VehicleAttributes.Name)
}
