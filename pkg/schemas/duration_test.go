package schemas

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Duration
		wantErr bool
	}{
		{name: "go_duration", in: "1h30m", want: 90 * time.Minute},
		{name: "timecode_hms", in: "01:02:03", want: time.Hour + 2*time.Minute + 3*time.Second},
		{name: "timecode_millis_padding", in: "00:00:01.5", want: 1500 * time.Millisecond},
		{name: "iso8601", in: "PT1H30M", want: 90 * time.Minute},
		{name: "iso8601_fractional_seconds", in: "PT1.5S", want: 1500 * time.Millisecond},
		{name: "iso8601_empty", in: "PT", wantErr: true},
		{name: "iso8601_garbage", in: "PTX", wantErr: true},
		{name: "invalid", in: "nope", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDuration(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"00:01:30"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration)

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(b))

	var d2 Duration
	require.NoError(t, json.Unmarshal(b, &d2))
	assert.Equal(t, d, d2)

	var secs Duration
	require.NoError(t, json.Unmarshal([]byte(`2.5`), &secs))
	assert.Equal(t, 2500*time.Millisecond, secs.Duration)
}

func TestDuration_YAML(t *testing.T) {
	var doc struct {
		Timeout Duration `yaml:"timeout"`
		Plain   Duration `yaml:"plain"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("timeout: PT2M\nplain: 10\n"), &doc))
	assert.Equal(t, 2*time.Minute, doc.Timeout.Duration)
	assert.Equal(t, 10*time.Second, doc.Plain.Duration)
}
