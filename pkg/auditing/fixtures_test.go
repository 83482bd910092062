package auditing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// FullAudited carries the reserved base audit properties
type FullAudited struct {
	CreationTime         time.Time
	CreatorID            string
	LastModificationTime *time.Time
	LastModifierID       string
	IsDeleted            bool
	DeletionTime         *time.Time
	DeleterID            string
}

type AuditedEntity struct {
	FullAudited
	ID              string
	Name            string
	ExtraProperties map[string]string
}

func (AuditedEntity) AuditMarker() Marker { return Audited }

type DisabledEntity struct {
	ID   string
	Name string
}

func (DisabledEntity) AuditMarker() Marker { return DisableAuditing }

type DisabledEntityWithAuditedProperties struct {
	ID    string
	Name  string `audited:"true"`
	Name2 string
	Name3 string `audited:"true"`
}

func (DisabledEntityWithAuditedProperties) AuditMarker() Marker { return DisableAuditing }

type SelectedEntity struct {
	ID   string
	Name string
}

type PlainEntity struct {
	ID   string
	Name string
}

type CapabilityEntity struct {
	ID   string
	Name string
}

func (CapabilityEntity) AuditingEnabled() {}

type DisabledCapabilityEntity struct {
	ID   string
	Name string
}

func (DisabledCapabilityEntity) AuditingEnabled()     {}
func (DisabledCapabilityEntity) AuditMarker() Marker { return DisableAuditing }

type Country struct {
	Code string
	Name string
}

func (Country) ValueObject() {}

type Address struct {
	City    string
	Country string
}

func (Address) ValueObject() {}

type Location struct {
	Street  string
	Country Country
}

func (Location) ValueObject() {}

type Person struct {
	ID       string
	Name     string
	Address  *Address
	Location *Location
}

func (Person) AuditMarker() Marker { return Audited }

type Child struct {
	ID   string
	Name string
}

func (Child) AuditMarker() Marker { return Audited }

type Parent struct {
	ID       string
	Name     string
	OneToOne *Child
}

func (Parent) AuditMarker() Marker { return Audited }

const (
	orderServiceType       = "example.OrderService"
	orderServiceIface      = "example.IOrderService"
	integrationServiceName = "example.PaymentsIntegrationService"
	integrationIface       = "example.IPaymentsIntegrationService"
	explicitServiceType    = "example.ReportService"
)

func newTestRegistry() *Registry {
	return NewRegistry().
		Scan(
			AuditedEntity{},
			DisabledEntity{},
			DisabledEntityWithAuditedProperties{},
			SelectedEntity{},
			PlainEntity{},
			CapabilityEntity{},
			DisabledCapabilityEntity{},
			Person{},
			Parent{},
			Child{},
		).
		EnableAuditing(orderServiceIface).
		Implements(orderServiceType, orderServiceIface).
		EnableAuditing(integrationIface).
		MarkIntegrationService(integrationIface).
		Implements(integrationServiceName, integrationIface).
		MarkType(explicitServiceType, Audited).
		MarkMethod(orderServiceType, "Archive", DisableAuditing)
}

type recordingStore struct {
	mu    sync.Mutex
	logs  []*AuditLogInfo
	err   error
	panic interface{}
}

func (s *recordingStore) Save(ctx context.Context, info *AuditLogInfo) error {
	if s.panic != nil {
		panic(s.panic)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, info)
	return s.err
}

func (s *recordingStore) Logs() []*AuditLogInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*AuditLogInfo(nil), s.logs...)
}

type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		step: 10 * time.Millisecond,
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

func newTestManager(t *testing.T, opts Options, mopts ...ManagerOption) (*Manager, *recordingStore) {
	t.Helper()
	store := &recordingStore{}
	log, _ := newTestLogger()
	base := []ManagerOption{WithOptions(opts), WithLogger(log), WithClock(newFakeClock().Now)}
	m, err := NewManager(store, newTestRegistry(), append(base, mopts...)...)
	require.NoError(t, err)
	return m, store
}

func findChange(changes []EntityChange, typeName string) (EntityChange, bool) {
	for _, c := range changes {
		if c.EntityTypeFullName == typeName {
			return c, true
		}
	}
	return EntityChange{}, false
}

func propertyNames(c EntityChange) []string {
	names := make([]string, 0, len(c.PropertyChanges))
	for _, p := range c.PropertyChanges {
		names = append(names, p.PropertyName)
	}
	return names
}
