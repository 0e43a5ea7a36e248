package transform

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Shopify/go-lua"

	"calsync/internal/model"
)

// LuaTransformer executes a source-supplied Lua program in a sandbox
// with no ambient environment access. The program reads the event's
// fields from globals and returns a delta table; any field it does not
// set falls back to the original event's value.
type LuaTransformer struct {
	program string
	now     func() time.Time
}

// NewLua creates a transformer for one program. A fresh Lua state is
// built per execution, so programs cannot carry state between events.
func NewLua(program string) *LuaTransformer {
	return &LuaTransformer{program: program, now: time.Now}
}

// Transform implements Transformer.
func (t *LuaTransformer) Transform(ev model.Event, occs []model.Occurrence) (model.Event, bool, error) {
	l := lua.NewState()
	openSandbox(l)
	pushContext(l, ev, occs, t.now())

	if err := lua.LoadString(l, t.program); err != nil {
		return ev, false, fmt.Errorf("load program: %w", err)
	}
	if err := l.ProtectedCall(0, 1, 0); err != nil {
		return ev, false, fmt.Errorf("run program: %w", err)
	}

	delta, err := popDelta(l)
	if err != nil {
		return ev, false, err
	}
	return delta.Apply(ev), delta.Skip, nil
}

// openSandbox loads only the pure standard libraries and strips the
// base functions that can reach the filesystem or load foreign code.
func openSandbox(l *lua.State) {
	for _, lib := range []struct {
		name string
		open lua.Function
	}{
		{"_G", lua.BaseOpen},
		{"string", lua.StringOpen},
		{"table", lua.TableOpen},
		{"math", lua.MathOpen},
	} {
		lua.Require(l, lib.name, lib.open, true)
		l.Pop(1)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "print"} {
		l.PushNil()
		l.SetGlobal(name)
	}

	// sub(text, pattern, replacement) applies a Go regular expression,
	// for the common description-cleanup programs.
	l.Register("sub", func(l *lua.State) int {
		text := lua.CheckString(l, 1)
		pattern := lua.CheckString(l, 2)
		repl := lua.CheckString(l, 3)
		re, err := regexp.Compile(pattern)
		if err != nil {
			lua.Errorf(l, "sub: %s", err.Error())
		}
		l.PushString(re.ReplaceAllString(text, repl))
		return 1
	})
}

// pushContext exposes the event's current field values, the default
// priority, and the occurrence instants partitioned relative to now.
func pushContext(l *lua.State, ev model.Event, occs []model.Occurrence, now time.Time) {
	l.PushInteger(int(model.DefaultPriority))
	l.SetGlobal("default_priority")
	l.PushInteger(int(now.Unix()))
	l.SetGlobal("now")

	l.PushString(ev.UID)
	l.SetGlobal("uid")
	l.PushString(ev.RRule)
	l.SetGlobal("rrule")
	l.PushString(ev.Summary)
	l.SetGlobal("summary")
	l.PushString(ev.Description)
	l.SetGlobal("description")
	l.PushString(ev.Location)
	l.SetGlobal("location")
	l.PushBoolean(ev.AllDay)
	l.SetGlobal("all_day")
	pushOptInt(l, ev.Duration)
	l.SetGlobal("duration")
	pushOptInt(l, ev.PriorityOverride)
	l.SetGlobal("priority_override")
	pushOptInt(l, ev.DtStamp)
	l.SetGlobal("dt_stamp")

	l.NewTable()
	for i, tag := range ev.Tags {
		l.PushString(tag)
		l.RawSetInt(-2, i+1)
	}
	l.SetGlobal("tags")

	past, ongoing, future := partition(ev, occs, now.Unix())
	l.NewTable()
	pushInstants(l, "past", past)
	pushInstants(l, "ongoing", ongoing)
	pushInstants(l, "future", future)
	l.SetGlobal("occurrences")
}

func pushOptInt(l *lua.State, v *int64) {
	if v == nil {
		l.PushNil()
		return
	}
	l.PushInteger(int(*v))
}

func pushInstants(l *lua.State, field string, instants []int64) {
	l.NewTable()
	for i, ts := range instants {
		l.PushInteger(int(ts))
		l.RawSetInt(-2, i+1)
	}
	l.SetField(-2, field)
}

// partition splits occurrence instants into past, ongoing and future.
// An occurrence is ongoing when it started before now and its end
// (start plus duration) is after now.
func partition(ev model.Event, occs []model.Occurrence, now int64) (past, ongoing, future []int64) {
	var dur int64
	if ev.Duration != nil {
		dur = *ev.Duration
	}
	for _, o := range occs {
		switch {
		case o.StartsAt >= now:
			future = append(future, o.StartsAt)
		case o.StartsAt+dur > now:
			ongoing = append(ongoing, o.StartsAt)
		default:
			past = append(past, o.StartsAt)
		}
	}
	return past, ongoing, future
}

// popDelta validates the program's return value against the delta
// schema. Unknown keys and mistyped values are errors.
func popDelta(l *lua.State) (*Delta, error) {
	defer l.Pop(1)
	if l.TypeOf(-1) != lua.TypeTable {
		return nil, fmt.Errorf("program must return a table, got %s", lua.TypeNameOf(l, -1))
	}

	var d Delta
	l.PushNil()
	for l.Next(-2) {
		if l.TypeOf(-2) != lua.TypeString {
			l.Pop(2)
			return nil, fmt.Errorf("delta keys must be strings")
		}
		key, _ := l.ToString(-2)

		var err error
		switch key {
		case "priority_override":
			d.PriorityOverride, err = deltaInt(l, key)
		case "duration":
			d.Duration, err = deltaInt(l, key)
		case "all_day":
			var b *bool
			b, err = deltaBool(l, key)
			d.AllDay = b
		case "skip":
			var b *bool
			b, err = deltaBool(l, key)
			if b != nil {
				d.Skip = *b
			}
		case "summary":
			d.Summary, err = deltaString(l, key)
		case "description":
			d.Description, err = deltaString(l, key)
		case "location":
			d.Location, err = deltaString(l, key)
		case "tags":
			d.Tags, err = deltaTags(l)
		default:
			err = fmt.Errorf("unknown delta key %q", key)
		}
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		l.Pop(1)
	}
	return &d, nil
}

func deltaInt(l *lua.State, key string) (*int64, error) {
	if l.TypeOf(-1) != lua.TypeNumber {
		return nil, fmt.Errorf("delta key %q must be a number", key)
	}
	n, _ := l.ToInteger(-1)
	v := int64(n)
	return &v, nil
}

func deltaBool(l *lua.State, key string) (*bool, error) {
	if l.TypeOf(-1) != lua.TypeBoolean {
		return nil, fmt.Errorf("delta key %q must be a boolean", key)
	}
	v := l.ToBoolean(-1)
	return &v, nil
}

func deltaString(l *lua.State, key string) (*string, error) {
	if l.TypeOf(-1) != lua.TypeString {
		return nil, fmt.Errorf("delta key %q must be a string", key)
	}
	v, _ := l.ToString(-1)
	return &v, nil
}

func deltaTags(l *lua.State) ([]string, error) {
	if l.TypeOf(-1) != lua.TypeTable {
		return nil, fmt.Errorf("delta key \"tags\" must be a table of strings")
	}
	n := l.RawLength(-1)
	tags := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		l.RawGetInt(-1, i)
		if l.TypeOf(-1) != lua.TypeString {
			l.Pop(1)
			return nil, fmt.Errorf("delta key \"tags\" must be a table of strings")
		}
		tag, _ := l.ToString(-1)
		tags = append(tags, tag)
		l.Pop(1)
	}
	return tags, nil
}
