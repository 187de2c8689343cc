//go:build property

package errors

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestErrorCollectorProperties validates the collector under concurrent use.
func TestErrorCollectorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234) // For reproducible results
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("every added failure is reported once, sorted", prop.ForAll(
		func(inputs []string) bool {
			ec := NewErrorCollector("script")

			var wg sync.WaitGroup
			for _, in := range inputs {
				wg.Add(1)
				go func(in string) {
					defer wg.Done()
					ec.Add(in, fmt.Errorf("bad %s", in))
				}(in)
			}
			wg.Wait()

			err := ec.Err()
			if len(inputs) == 0 {
				return err == nil && !ec.HasErrors()
			}

			got := FailedInputs(err)
			if len(got) != len(inputs) || !sort.StringsAreSorted(got) {
				return false
			}
			want := append([]string(nil), inputs...)
			sort.Strings(want)
			for i := range want {
				if want[i] != got[i] {
					return false
				}
			}
			return IsTransform(err) && !IsConfig(err)
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.Property("merge keeps failures of both collectors", prop.ForAll(
		func(a, b []string) bool {
			first := NewErrorCollector("markup")
			for _, in := range a {
				first.Add(in, fmt.Errorf("a"))
			}
			second := NewErrorCollector("markup")
			for _, in := range b {
				second.Add(in, fmt.Errorf("b"))
			}
			second.Merge(first.Err())
			return len(FailedInputs(second.Err())) == len(a)+len(b)
		},
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.Identifier()),
	))

	properties.Property("nil errors are ignored", prop.ForAll(
		func(inputs []string) bool {
			ec := NewErrorCollector("copy")
			for _, in := range inputs {
				ec.Add(in, nil)
			}
			return !ec.HasErrors() && ec.Err() == nil
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}
