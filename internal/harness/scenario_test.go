package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: valid
description: "minimal"
replicas: [a, b]
steps:
  - do: upsert
    replica: a
    id: "1"
    text: milk
    ts: 100
  - do: deliver
    from: a
    to: b
assertions:
  - type: converged
`

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "valid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "valid", s.Name)
	assert.Equal(t, "list-1", s.ListID, "list id defaults")
	assert.Equal(t, []string{"a", "b"}, s.Replicas)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, int64(100), s.Steps[0].TS)
	assert.Equal(t, StepDeliver, s.Steps[1].Do)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: validScenario + "\nassertion: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: `
description: d
replicas: [a]
steps: [{do: rename, replica: a, name: x, ts: 1}]
assertions: [{type: converged}]
`,
			want: "name is required",
		},
		{
			name: "duplicate replica",
			yaml: `
name: n
description: d
replicas: [a, a]
steps: [{do: rename, replica: a, name: x, ts: 1}]
assertions: [{type: converged}]
`,
			want: "duplicate replica",
		},
		{
			name: "unknown step",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{do: explode, replica: a}]
assertions: [{type: converged}]
`,
			want: `unknown step "explode"`,
		},
		{
			name: "local op on unknown replica",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{do: upsert, replica: z, id: "1", ts: 1}]
assertions: [{type: converged}]
`,
			want: `unknown replica "z"`,
		},
		{
			name: "missing timestamp",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{do: remove, replica: a, id: "1"}]
assertions: [{type: converged}]
`,
			want: "ts must be positive",
		},
		{
			name: "deliver to self",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{do: deliver, from: a, to: a}]
assertions: [{type: converged}]
`,
			want: "to itself",
		},
		{
			name: "unknown item field",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{do: rename, replica: a, name: x, ts: 1}]
assertions: [{type: item, replica: a, id: "1", expect: {colour: red}}]
`,
			want: `unknown item field "colour"`,
		},
		{
			name: "duplicates without count",
			yaml: `
name: n
description: d
replicas: [a]
steps: [{do: rename, replica: a, name: x, ts: 1}]
assertions: [{type: duplicates, replica: a}]
`,
			want: "count is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
