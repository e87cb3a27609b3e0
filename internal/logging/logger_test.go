package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextFieldHelpers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	roomLog := WithRoom(Component("timeline"), "!r1:server")
	roomLog.Info().Msg("loaded")
	out := buf.String()
	require.Contains(t, out, `"component":"timeline"`)
	require.Contains(t, out, `"room_id":"!r1:server"`)

	buf.Reset()
	viewerLog := WithViewer(Component("engine"), "@carol:server")
	viewerLog.Info().Msg("focused")
	out = buf.String()
	require.Contains(t, out, `"component":"engine"`)
	require.Contains(t, out, `"viewer":"@carol:server"`)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		"warn":    "warn",
		"warning": "warn",
		"error":   "error",
		"bogus":   "info",
		"":        "info",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q)=%q want %q", in, got, want)
		}
	}
}
