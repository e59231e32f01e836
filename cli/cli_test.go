package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHoistFlags(t *testing.T) {
	exe := "target/x86_64-os/debug/deps/kernel-1a2b3c"

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "flags before the executable",
			in:   []string{"kboot", "--ci", "--qemu", "-m 1G", exe},
			want: []string{"kboot", "--ci", "--qemu", "-m 1G", exe},
		},
		{
			name: "flags appended by cargo",
			in:   []string{"kboot", exe, "--legacy-boot", "--qemu", "-m 1G", "--no-ktest"},
			want: []string{"kboot", "--legacy-boot", "--qemu", "-m 1G", "--no-ktest", exe},
		},
		{
			name: "inline value",
			in:   []string{"kboot", "--ci", exe, "--ramdisk=rd.tar"},
			want: []string{"kboot", "--ci", "--ramdisk=rd.tar", exe},
		},
		{
			name: "unknown arguments keep their order",
			in:   []string{"kboot", exe, "--nocapture", "--limine", "filter"},
			want: []string{"kboot", "--limine", exe, "--nocapture", "filter"},
		},
		{
			name: "value of a leading flag is not the executable",
			in:   []string{"kboot", "--qemu", "-s", exe, "--ci"},
			want: []string{"kboot", "--qemu", "-s", "--ci", exe},
		},
		{
			name: "subcommand is untouched",
			in:   []string{"kboot", "view", "-1", "--ci"},
			want: []string{"kboot", "view", "-1", "--ci"},
		},
		{
			name: "no positional argument",
			in:   []string{"kboot", "--ci"},
			want: []string{"kboot", "--ci"},
		},
		{
			name: "program name only",
			in:   []string{"kboot"},
			want: []string{"kboot"},
		},
	}

	app := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, app.hoistFlags(tt.in))
		})
	}
}

func TestFlagName(t *testing.T) {
	name, inline := flagName("--qemu=-m 1G")
	require.Equal(t, "qemu", name)
	require.True(t, inline)

	name, inline = flagName("-ci")
	require.Equal(t, "ci", name)
	require.False(t, inline)
}
