package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"fwdbot/internal/tenant"
)

// record is the JSON form of a tenant used by the file driver.
type record struct {
	ID           int64             `json:"id"`
	Username     string            `json:"username,omitempty"`
	Enabled      bool              `json:"enabled"`
	Premium      bool              `json:"premium"`
	Banned       bool              `json:"banned"`
	DelaySeconds int               `json:"delay_seconds"`
	WindowStart  *string           `json:"window_start,omitempty"`
	WindowStop   *string           `json:"window_stop,omitempty"`
	Source       *tenant.SourceRef `json:"source,omitempty"`
	Accounts     map[string]string `json:"accounts,omitempty"`
	Groups       []int64           `json:"groups,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func toRecord(t tenant.Tenant) record {
	return record{
		ID:           t.ID,
		Username:     t.Username,
		Enabled:      t.Enabled,
		Premium:      t.Premium,
		Banned:       t.Banned,
		DelaySeconds: t.DelaySeconds,
		WindowStart:  clockPtr(t.Window.Start),
		WindowStop:   clockPtr(t.Window.Stop),
		Source:       sourcePtr(t.Source),
		Accounts:     t.Accounts,
		Groups:       t.Groups,
		CreatedAt:    t.CreatedAt,
	}
}

func (r record) tenant() (tenant.Tenant, error) {
	t := tenant.Tenant{
		ID:           r.ID,
		Username:     r.Username,
		Enabled:      r.Enabled,
		Premium:      r.Premium,
		Banned:       r.Banned,
		DelaySeconds: r.DelaySeconds,
		Source:       sourceOpt(r.Source),
		Accounts:     r.Accounts,
		Groups:       r.Groups,
		CreatedAt:    r.CreatedAt,
	}
	var err error
	if t.Window.Start, err = clockOpt(r.WindowStart); err != nil {
		return tenant.Tenant{}, err
	}
	if t.Window.Stop, err = clockOpt(r.WindowStop); err != nil {
		return tenant.Tenant{}, err
	}
	if t.Accounts == nil {
		t.Accounts = map[string]string{}
	}
	return t, nil
}

func clockPtr(o fn.Option[tenant.Clock]) *string {
	var out *string
	o.WhenSome(func(c tenant.Clock) {
		s := c.String()
		out = &s
	})
	return out
}

func clockOpt(s *string) (fn.Option[tenant.Clock], error) {
	if s == nil || *s == "" {
		return fn.None[tenant.Clock](), nil
	}
	c, err := tenant.ParseClock(*s)
	if err != nil {
		return fn.None[tenant.Clock](), err
	}
	return fn.Some(c), nil
}

func sourcePtr(o fn.Option[tenant.SourceRef]) *tenant.SourceRef {
	var out *tenant.SourceRef
	o.WhenSome(func(r tenant.SourceRef) { out = &r })
	return out
}

func sourceOpt(p *tenant.SourceRef) fn.Option[tenant.SourceRef] {
	if p == nil {
		return fn.None[tenant.SourceRef]()
	}
	return fn.Some(*p)
}

// encodeValue renders a field value as JSON. The value's Go type is checked
// against the field first.
func encodeValue(f tenant.Field, v any) (json.RawMessage, error) {
	var probe tenant.Tenant
	if err := probe.Apply(f, v); err != nil {
		return nil, err
	}
	switch f {
	case tenant.FieldWindowStart:
		return json.Marshal(clockPtr(probe.Window.Start))
	case tenant.FieldWindowStop:
		return json.Marshal(clockPtr(probe.Window.Stop))
	case tenant.FieldSource:
		return json.Marshal(sourcePtr(probe.Source))
	default:
		return json.Marshal(v)
	}
}

// decodeValue is the inverse of encodeValue.
func decodeValue(f tenant.Field, raw []byte) (any, error) {
	var (
		v   any
		err error
	)
	switch f {
	case tenant.FieldUsername:
		var s string
		err = json.Unmarshal(raw, &s)
		v = s
	case tenant.FieldEnabled, tenant.FieldPremium, tenant.FieldBanned:
		var b bool
		err = json.Unmarshal(raw, &b)
		v = b
	case tenant.FieldDelay:
		var n int
		err = json.Unmarshal(raw, &n)
		v = n
	case tenant.FieldWindowStart, tenant.FieldWindowStop:
		var s *string
		if err = json.Unmarshal(raw, &s); err == nil {
			v, err = clockOpt(s)
		}
	case tenant.FieldSource:
		var p *tenant.SourceRef
		err = json.Unmarshal(raw, &p)
		v = sourceOpt(p)
	case tenant.FieldAccounts:
		m := map[string]string{}
		err = json.Unmarshal(raw, &m)
		v = m
	case tenant.FieldGroups:
		var g []int64
		err = json.Unmarshal(raw, &g)
		v = g
	default:
		return nil, fmt.Errorf("unknown tenant field %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f, err)
	}
	return v, nil
}
