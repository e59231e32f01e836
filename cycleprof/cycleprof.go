// Package cycleprof turns test group reports into a pprof profile of the
// cycles each test case spent, so results can be explored with go tool pprof.
package cycleprof

import (
	"fmt"
	"os"
	"time"

	"github.com/google/pprof/profile"
	"github.com/perfgo/kboot/ktest"
	"github.com/perfgo/kboot/model"
)

// builder holds the profile under construction
type builder struct {
	profile   *profile.Profile
	functions map[string]*profile.Function
	locations map[string]*profile.Location
}

// FromGroups builds a profile with one sample per test case. The stack of a
// sample is test case, module, group (leaf first) and its value the cycle
// count. Samples carry the test outcome as the "result" label.
func FromGroups(groups []*model.TestGroup, at time.Time) *profile.Profile {
	b := &builder{
		profile: &profile.Profile{
			SampleType: []*profile.ValueType{{Type: "cycles", Unit: "count"}},
			PeriodType: &profile.ValueType{Type: "cycles", Unit: "count"},
			Period:     1,
			TimeNanos:  at.UnixNano(),
		},
		functions: make(map[string]*profile.Function),
		locations: make(map[string]*profile.Location),
	}

	for _, g := range groups {
		if g == nil {
			continue
		}
		b.profile.DurationNanos += int64(g.Summary.DurationMS) * int64(time.Millisecond)

		groupLoc := b.location(g.Name, g.Name)
		for _, m := range g.Modules {
			moduleKey := g.Name + "/" + m.Name
			moduleLoc := b.location(moduleKey, m.Name)

			for _, tc := range m.Tests {
				testLoc := b.location(moduleKey+"/"+tc.Test, m.Name+ktest.ModuleSeparator+tc.Test)
				b.profile.Sample = append(b.profile.Sample, &profile.Sample{
					Location: []*profile.Location{testLoc, moduleLoc, groupLoc},
					Value:    []int64{int64(tc.CycleCount)},
					Label:    map[string][]string{"result": {tc.Result}},
				})
			}
		}
	}

	return b.profile
}

// location returns the location for key, creating it with a function named
// name on first use.
func (b *builder) location(key, name string) *profile.Location {
	if loc, ok := b.locations[key]; ok {
		return loc
	}

	fn, ok := b.functions[key]
	if !ok {
		fn = &profile.Function{
			ID:         uint64(len(b.profile.Function) + 1),
			Name:       name,
			SystemName: key,
		}
		b.functions[key] = fn
		b.profile.Function = append(b.profile.Function, fn)
	}

	loc := &profile.Location{
		ID:   uint64(len(b.profile.Location) + 1),
		Line: []profile.Line{{Function: fn}},
	}
	b.locations[key] = loc
	b.profile.Location = append(b.profile.Location, loc)
	return loc
}

// WriteFile writes p gzip-compressed to path.
func WriteFile(path string, p *profile.Profile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create profile file: %w", err)
	}
	defer f.Close()

	if err := p.Write(f); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}

	return f.Close()
}
