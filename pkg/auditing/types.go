package auditing

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityChangeType is the kind of mutation recorded for an entity
type EntityChangeType string

const (
	EntityChangeCreated EntityChangeType = "Created"
	EntityChangeUpdated EntityChangeType = "Updated"
	EntityChangeDeleted EntityChangeType = "Deleted"
)

// AuditLogInfo is the root record for one logical operation
type AuditLogInfo struct {
	ID                string            `json:"id"`
	ApplicationName   string            `json:"application_name,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	TenantID          string            `json:"tenant_id,omitempty"`
	CorrelationID     string            `json:"correlation_id,omitempty"`
	ClientIP          string            `json:"client_ip,omitempty"`
	HTTPMethod        string            `json:"http_method,omitempty"`
	URL               string            `json:"url,omitempty"`
	HTTPStatusCode    int               `json:"http_status_code,omitempty"`
	ExecutionTime     time.Time         `json:"execution_time"`
	EndTime           time.Time         `json:"end_time"`
	ExecutionDuration time.Duration     `json:"execution_duration"`
	Actions           []AuditLogAction  `json:"actions"`
	EntityChanges     []EntityChange    `json:"entity_changes"`
	Exceptions        []string          `json:"exceptions,omitempty"`
	Comments          []string          `json:"comments,omitempty"`
	ExtraProperties   map[string]string `json:"extra_properties,omitempty"`
}

// AuditLogAction is one audited service-method invocation
type AuditLogAction struct {
	ServiceName       string            `json:"service_name"`
	MethodName        string            `json:"method_name"`
	Parameters        map[string]string `json:"parameters,omitempty"`
	ExecutionTime     time.Time         `json:"execution_time"`
	ExecutionDuration time.Duration     `json:"execution_duration"`
}

// EntityChange is one audited entity mutation
type EntityChange struct {
	ChangeType         EntityChangeType       `json:"change_type"`
	EntityTypeFullName string                 `json:"entity_type_full_name"`
	EntityID           string                 `json:"entity_id"`
	ChangeTime         time.Time              `json:"change_time"`
	PropertyChanges    []EntityPropertyChange `json:"property_changes"`
}

// EntityPropertyChange is one audited property mutation. Values hold the
// canonical serialized form.
type EntityPropertyChange struct {
	PropertyName         string `json:"property_name"`
	PropertyTypeFullName string `json:"property_type_full_name"`
	OriginalValue        string `json:"original_value"`
	NewValue             string `json:"new_value"`
}

// IsEmpty reports whether the log carries neither actions nor entity changes
func (l *AuditLogInfo) IsEmpty() bool {
	return len(l.Actions) == 0 && len(l.EntityChanges) == 0
}

// Clone returns a deep copy of the log
func (l *AuditLogInfo) Clone() *AuditLogInfo {
	if l == nil {
		return nil
	}

	c := *l
	c.Actions = make([]AuditLogAction, len(l.Actions))
	for i, a := range l.Actions {
		c.Actions[i] = a
		if a.Parameters != nil {
			c.Actions[i].Parameters = make(map[string]string, len(a.Parameters))
			for k, v := range a.Parameters {
				c.Actions[i].Parameters[k] = v
			}
		}
	}
	c.EntityChanges = make([]EntityChange, len(l.EntityChanges))
	for i, ec := range l.EntityChanges {
		c.EntityChanges[i] = ec
		c.EntityChanges[i].PropertyChanges = append([]EntityPropertyChange(nil), ec.PropertyChanges...)
	}
	c.Exceptions = append([]string(nil), l.Exceptions...)
	c.Comments = append([]string(nil), l.Comments...)
	if l.ExtraProperties != nil {
		c.ExtraProperties = make(map[string]string, len(l.ExtraProperties))
		for k, v := range l.ExtraProperties {
			c.ExtraProperties[k] = v
		}
	}
	return &c
}

// String renders a one-line summary, used in log fields
func (l *AuditLogInfo) String() string {
	return fmt.Sprintf("AUDIT LOG %s: actions=%d entity_changes=%d exceptions=%d duration=%s",
		l.ID, len(l.Actions), len(l.EntityChanges), len(l.Exceptions), l.ExecutionDuration)
}

// ToJSON converts the log to JSON
func (l *AuditLogInfo) ToJSON() ([]byte, error) {
	return json.Marshal(l)
}

// FromJSON parses a log from JSON
func FromJSON(data []byte) (*AuditLogInfo, error) {
	var l AuditLogInfo
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit log: %w", err)
	}
	return &l, nil
}
