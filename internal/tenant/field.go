package tenant

import (
	"fmt"
	"maps"
	"slices"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Field names a single persisted attribute of a Tenant.
type Field string

const (
	FieldUsername    Field = "username"
	FieldEnabled     Field = "enabled"
	FieldPremium     Field = "premium"
	FieldBanned      Field = "banned"
	FieldDelay       Field = "delay_seconds"
	FieldWindowStart Field = "window_start"
	FieldWindowStop  Field = "window_stop"
	FieldSource      Field = "source"
	FieldAccounts    Field = "accounts"
	FieldGroups      Field = "groups"
)

// Fields lists every writable field.
var Fields = []Field{
	FieldUsername, FieldEnabled, FieldPremium, FieldBanned, FieldDelay,
	FieldWindowStart, FieldWindowStop, FieldSource, FieldAccounts, FieldGroups,
}

func (f Field) Valid() bool { return slices.Contains(Fields, f) }

// Apply writes v into field f. Each field accepts exactly one Go type:
//
//	username                  string
//	enabled, premium, banned  bool
//	delay_seconds             int
//	window_start, window_stop fn.Option[Clock]
//	source                    fn.Option[SourceRef]
//	accounts                  map[string]string
//	groups                    []int64
func (t *Tenant) Apply(f Field, v any) error {
	bad := func() error { return fmt.Errorf("tenant field %s: unexpected value type %T", f, v) }
	switch f {
	case FieldUsername:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		t.Username = s
	case FieldEnabled, FieldPremium, FieldBanned:
		b, ok := v.(bool)
		if !ok {
			return bad()
		}
		switch f {
		case FieldEnabled:
			t.Enabled = b
		case FieldPremium:
			t.Premium = b
		default:
			t.Banned = b
		}
	case FieldDelay:
		n, ok := v.(int)
		if !ok {
			return bad()
		}
		t.DelaySeconds = n
	case FieldWindowStart, FieldWindowStop:
		c, ok := v.(fn.Option[Clock])
		if !ok {
			return bad()
		}
		if f == FieldWindowStart {
			t.Window.Start = c
		} else {
			t.Window.Stop = c
		}
	case FieldSource:
		s, ok := v.(fn.Option[SourceRef])
		if !ok {
			return bad()
		}
		t.Source = s
	case FieldAccounts:
		m, ok := v.(map[string]string)
		if !ok {
			return bad()
		}
		t.Accounts = maps.Clone(m)
		if t.Accounts == nil {
			t.Accounts = map[string]string{}
		}
	case FieldGroups:
		g, ok := v.([]int64)
		if !ok {
			return bad()
		}
		t.Groups = slices.Clone(g)
	default:
		return fmt.Errorf("unknown tenant field %q", f)
	}
	return nil
}

// Clone returns a deep copy.
func (t Tenant) Clone() Tenant {
	cp := t
	cp.Accounts = maps.Clone(t.Accounts)
	if cp.Accounts == nil {
		cp.Accounts = map[string]string{}
	}
	cp.Groups = slices.Clone(t.Groups)
	return cp
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
