package auditing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_IsTypeAudited(t *testing.T) {
	policy := NewPolicy(newTestRegistry(), DefaultOptions())

	tests := []struct {
		name     string
		typeName string
		want     bool
	}{
		{"audited marker", TypeNameOf(AuditedEntity{}), true},
		{"disable marker", TypeNameOf(DisabledEntity{}), false},
		{"capability without marker", TypeNameOf(CapabilityEntity{}), true},
		{"disable marker beats capability", TypeNameOf(DisabledCapabilityEntity{}), false},
		{"no marker no capability", TypeNameOf(PlainEntity{}), false},
		{"unknown type", "example.Unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.IsTypeAudited(tt.typeName))
			// same inputs, same answer
			assert.Equal(t, tt.want, policy.IsTypeAudited(tt.typeName))
		})
	}

	t.Run("capability default off", func(t *testing.T) {
		opts := DefaultOptions()
		opts.DefaultAuditingEnabled = false
		p := NewPolicy(newTestRegistry(), opts)

		assert.False(t, p.IsTypeAudited(TypeNameOf(CapabilityEntity{})))
		assert.True(t, p.IsTypeAudited(TypeNameOf(AuditedEntity{})))
	})
}

func TestPolicy_IsPropertyAudited(t *testing.T) {
	audited := TypeNameOf(AuditedEntity{})
	withProps := TypeNameOf(DisabledEntityWithAuditedProperties{})

	t.Run("explicit audited property wins over unaudited owner", func(t *testing.T) {
		policy := NewPolicy(newTestRegistry(), DefaultOptions())
		assert.True(t, policy.IsPropertyAudited(withProps, "Name", false))
		assert.True(t, policy.IsPropertyAudited(withProps, "Name3", false))
		assert.False(t, policy.IsPropertyAudited(withProps, "Name2", false))
	})

	t.Run("disabled property on audited owner", func(t *testing.T) {
		reg := newTestRegistry().MarkProperty(audited, "Name", DisableAuditing)
		policy := NewPolicy(reg, DefaultOptions())
		assert.False(t, policy.IsPropertyAudited(audited, "Name", true))
	})

	t.Run("base properties are excluded", func(t *testing.T) {
		policy := NewPolicy(newTestRegistry(), DefaultOptions())
		for _, name := range []string{
			"CreationTime", "CreatorId", "CreatorID", "LastModificationTime", "LastModifierId",
			"IsDeleted", "DeletionTime", "DeleterId", "ExtraProperties",
		} {
			assert.False(t, policy.IsPropertyAudited(audited, name, true), name)
		}
		assert.True(t, policy.IsPropertyAudited(audited, "Name", true))
	})

	t.Run("whitelisted base properties are included", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ExtraBaseAuditProperties = []string{"IsDeleted", "CreatorId"}
		policy := NewPolicy(newTestRegistry(), opts)

		assert.True(t, policy.IsPropertyAudited(audited, "IsDeleted", true))
		assert.True(t, policy.IsPropertyAudited(audited, "CreatorID", true))
		assert.False(t, policy.IsPropertyAudited(audited, "DeletionTime", true))
	})

	t.Run("unaudited owner only audits marked properties", func(t *testing.T) {
		policy := NewPolicy(newTestRegistry(), DefaultOptions())
		assert.False(t, policy.IsPropertyAudited(TypeNameOf(PlainEntity{}), "Name", false))
	})
}

func TestPolicy_IsServiceAudited(t *testing.T) {
	policy := NewPolicy(newTestRegistry(), DefaultOptions())

	tests := []struct {
		name    string
		service string
		method  string
		want    bool
	}{
		{"capability via interface", orderServiceType, "PlaceOrder", true},
		{"read-only Get prefix", orderServiceType, "GetOrder", false},
		{"read-only Find prefix", orderServiceType, "FindOrders", false},
		{"method disable marker", orderServiceType, "Archive", false},
		{"integration service via ancestor", integrationServiceName, "Charge", false},
		{"explicit audited service", explicitServiceType, "GetReport", true},
		{"unregistered service", "example.Other", "DoIt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.IsServiceAudited(tt.service, tt.method))
		})
	}

	t.Run("integration services can be enabled", func(t *testing.T) {
		opts := DefaultOptions()
		opts.IsEnabledForIntegrationServices = true
		p := NewPolicy(newTestRegistry(), opts)
		assert.True(t, p.IsServiceAudited(integrationServiceName, "Charge"))
	})

	t.Run("custom read-only prefixes", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ReadOnlyMethodPrefixes = []string{"List"}
		p := NewPolicy(newTestRegistry(), opts)
		assert.True(t, p.IsServiceAudited(orderServiceType, "GetOrder"))
		assert.False(t, p.IsServiceAudited(orderServiceType, "ListOrders"))
	})
}

func TestPolicy_MatchesSelector(t *testing.T) {
	selected := TypeNameOf(SelectedEntity{})

	t.Run("selector audits unmarked type", func(t *testing.T) {
		opts := DefaultOptions()
		opts.EntitySelectors = []TypeSelector{SelectTypes("selected", selected)}
		policy := NewPolicy(newTestRegistry(), opts)

		matched, err := policy.MatchesSelector(selected)
		require.NoError(t, err)
		assert.True(t, matched)
		assert.False(t, policy.IsTypeAudited(selected))

		audited, err := policy.ShouldAuditEntity(selected)
		require.NoError(t, err)
		assert.True(t, audited)
	})

	t.Run("panicking selector counts as not matched", func(t *testing.T) {
		opts := DefaultOptions()
		opts.EntitySelectors = []TypeSelector{{
			Name:      "broken",
			Predicate: func(string) bool { panic("boom") },
		}}
		policy := NewPolicy(newTestRegistry(), opts)

		matched, err := policy.MatchesSelector(selected)
		assert.False(t, matched)
		require.Error(t, err)

		var perr *PolicyEvaluationError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "broken", perr.Selector)
		assert.Equal(t, selected, perr.TypeName)
	})

	t.Run("later selector still matches after a failure", func(t *testing.T) {
		opts := DefaultOptions()
		opts.EntitySelectors = []TypeSelector{
			{Name: "broken", Predicate: func(string) bool { panic("boom") }},
			SelectNamespace("package", "github.com/platinummonkey/auditkit/pkg/auditing."),
		}
		policy := NewPolicy(newTestRegistry(), opts)

		matched, err := policy.MatchesSelector(selected)
		assert.True(t, matched)
		assert.Error(t, err)
	})
}

func TestPolicy_SetOptionsDropsCachedDecisions(t *testing.T) {
	selected := TypeNameOf(SelectedEntity{})
	policy := NewPolicy(newTestRegistry(), DefaultOptions())

	audited, err := policy.ShouldAuditEntity(selected)
	require.NoError(t, err)
	assert.False(t, audited)

	opts := DefaultOptions()
	opts.EntitySelectors = []TypeSelector{SelectTypes("selected", selected)}
	policy.SetOptions(opts)

	audited, err = policy.ShouldAuditEntity(selected)
	require.NoError(t, err)
	assert.True(t, audited)
}

func TestRegistry_Scan(t *testing.T) {
	reg := newTestRegistry()

	assert.Equal(t, Audited, reg.TypeMarker(TypeNameOf(AuditedEntity{})))
	assert.Equal(t, Audited, reg.PropertyMarker(TypeNameOf(DisabledEntityWithAuditedProperties{}), "Name"))
	assert.True(t, reg.HasAuditedProperties(TypeNameOf(DisabledEntityWithAuditedProperties{})))
	assert.False(t, reg.HasAuditedProperties(TypeNameOf(AuditedEntity{})))
	assert.True(t, reg.HasAuditingEnabled(TypeNameOf(CapabilityEntity{})))
	assert.True(t, reg.IsValueObject(TypeNameOf(Address{})))
	assert.True(t, reg.IsValueObject(TypeNameOf(Country{})), "nested value objects are scanned")
	assert.True(t, reg.IsIntegrationService(integrationServiceName))
	assert.False(t, reg.IsIntegrationService(orderServiceType))
}

func TestParseMarker(t *testing.T) {
	assert.Equal(t, Audited, ParseMarker("true"))
	assert.Equal(t, DisableAuditing, ParseMarker("false"))
	assert.Equal(t, DisableAuditing, ParseMarker("-"))
	assert.Equal(t, Unmarked, ParseMarker(""))
	assert.Equal(t, "DisableAuditing", DisableAuditing.String())
}
