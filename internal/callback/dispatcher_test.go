package callback

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
)

func TestConventionArgs(t *testing.T) {
	full := config.WindowInfo{AppName: "code", Title: "main.go", ProcessName: "Code"}

	tests := []struct {
		name       string
		convention Convention
		window     config.WindowInfo
		want       []string
	}{
		{"v1 all fields", ConventionV1, full, []string{"-p", "2", "-a", "code", "-t", "main.go", "-n", "Code"}},
		{"v2 all fields", ConventionV2, full, []string{"-p", "2", "-c", "code", "-w", "main.go", "-n", "Code"}},
		{"unknown fields omitted", ConventionV1, config.WindowInfo{Title: "main.go"}, []string{"-p", "2", "-t", "main.go"}},
		{"profile only", ConventionV2, config.WindowInfo{}, []string{"-p", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.convention.Args(2, tt.window))
		})
	}
}

func TestParseConvention(t *testing.T) {
	c, err := ParseConvention("")
	require.NoError(t, err)
	assert.Equal(t, ConventionV1, c)

	c, err = ParseConvention("V2")
	require.NoError(t, err)
	assert.Equal(t, ConventionV2, c)

	_, err = ParseConvention("v3")
	assert.Error(t, err)
}

// argsScript writes a script that records its arguments one per line
func argsScript(t *testing.T, extra string) (script, out string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not available on windows")
	}
	dir := t.TempDir()
	out = filepath.Join(dir, "args.txt")
	script = filepath.Join(dir, "callback.sh")
	body := "#!/bin/sh\nfor a in \"$@\"; do echo \"$a\"; done > " + out + ".tmp\nmv " + out + ".tmp " + out + "\n" + extra + "\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return script, out
}

func TestDispatchRunsScript(t *testing.T) {
	script, out := argsScript(t, "")
	d := New(script, ConventionV1)

	d.Dispatch("evt-1", 3, config.WindowInfo{AppName: "firefox", Title: "Inbox - Mozilla Firefox"})

	require.Eventually(t, func() bool {
		_, err := os.Stat(out)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	d.Wait()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"-p", "3", "-a", "firefox", "-t", "Inbox - Mozilla Firefox"},
		strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestDispatchDoesNotWait(t *testing.T) {
	script, _ := argsScript(t, "sleep 2")
	d := New(script, ConventionV1)

	start := time.Now()
	d.Dispatch("evt-2", 1, config.WindowInfo{})
	assert.Less(t, time.Since(start), time.Second)
	d.Wait()
}

func TestDispatchFailuresAreSwallowed(t *testing.T) {
	script, _ := argsScript(t, "exit 7")
	d := New(script, ConventionV1)

	assert.NotPanics(t, func() {
		d.Dispatch("evt-3", 1, config.WindowInfo{})
		d.Dispatch("evt-4", 1, config.WindowInfo{})
		New(filepath.Join(t.TempDir(), "missing"), ConventionV1).Dispatch("evt-5", 1, config.WindowInfo{})
	})
	d.Wait()
}

func TestCallbackErrorMessage(t *testing.T) {
	assert.Equal(t, "callback e1 exited with code 7", (&CallbackError{EventID: "e1", ExitCode: 7}).Error())
}
