package builder

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{
			name: "defaults",
			req:  Request{Executable: "/ws/target/kernel", Image: "/ws/.build/kernel.img"},
			want: []string{"--kernel", "/ws/target/kernel", "--output", "/ws/.build/kernel.img", "--boot", "uefi", "--bootloader", "bootloader"},
		},
		{
			name: "limine with ramdisk",
			req: Request{
				Executable: "k",
				Image:      "k.img",
				Bootloader: Limine,
				Ramdisk:    "rd.tar",
				LimineConf: "/ws/limine.conf",
			},
			want: []string{"--kernel", "k", "--output", "k.img", "--boot", "uefi", "--bootloader", "limine", "--ramdisk", "rd.tar", "--limine-conf", "/ws/limine.conf"},
		},
		{
			name: "legacy boot",
			req:  Request{Executable: "k", Image: "k.img", ImageType: BIOS},
			want: []string{"--kernel", "k", "--output", "k.img", "--boot", "bios", "--bootloader", "bootloader"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, BuildArgs(tt.req))
		})
	}
}

func TestBuildCommandQuotes(t *testing.T) {
	cmd := BuildCommand("kboot-mkimage", Request{Executable: "/my dir/kernel", Image: "out.img"})
	require.Equal(t, "kboot-mkimage --kernel '/my dir/kernel' --output out.img --boot uefi --bootloader bootloader", cmd)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	ramdisk := filepath.Join(dir, "ramdisk.tar")
	require.NoError(t, os.WriteFile(ramdisk, []byte("rd"), 0o644))

	base := Request{Executable: "k", Image: "k.img"}

	require.NoError(t, base.Validate())

	withRamdisk := base
	withRamdisk.Ramdisk = ramdisk
	require.NoError(t, withRamdisk.Validate())

	missingRamdisk := base
	missingRamdisk.Ramdisk = filepath.Join(dir, "missing")
	require.Error(t, missingRamdisk.Validate())

	dirRamdisk := base
	dirRamdisk.Ramdisk = dir
	require.Error(t, dirRamdisk.Validate())

	limine := base
	limine.Bootloader = Limine
	require.ErrorIs(t, limine.Validate(), ErrLimineConfNotFound)

	limine.LimineConf = "limine.conf"
	require.NoError(t, limine.Validate())

	limine.ImageType = BIOS
	require.ErrorIs(t, limine.Validate(), ErrLimineBIOS)

	require.Error(t, Request{Image: "k.img"}.Validate())
}

func TestFindLimineConf(t *testing.T) {
	write := func(t *testing.T, path string) {
		t.Helper()
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("timeout: 0\n"), 0o644))
	}

	t.Run("files before subdirectories", func(t *testing.T) {
		root := t.TempDir()
		write(t, filepath.Join(root, "a", "limine.conf"))
		write(t, filepath.Join(root, "limine.conf"))

		got, err := FindLimineConf(root)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(root, "limine.conf"), got)
	})

	t.Run("nested", func(t *testing.T) {
		root := t.TempDir()
		write(t, filepath.Join(root, "kernel", "boot", "limine.conf"))

		got, err := FindLimineConf(root)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(root, "kernel", "boot", "limine.conf"), got)
	})

	t.Run("skipped directories", func(t *testing.T) {
		root := t.TempDir()
		write(t, filepath.Join(root, "target", "limine.conf"))
		write(t, filepath.Join(root, ".build", "iso_root", "limine.conf"))
		write(t, filepath.Join(root, ".git", "limine.conf"))

		_, err := FindLimineConf(root)
		require.ErrorIs(t, err, ErrLimineConfNotFound)
	})
}

func TestCommandBuild(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as image builder")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "mkimage")
	// Writes its arguments into the image named after --output.
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output" ]; then out="$arg"; fi
  prev="$arg"
done
echo "building"
echo "$@" > "$out"
`), 0o755))

	buildDir := filepath.Join(dir, ".build")
	req := Request{
		Executable: filepath.Join(dir, "kernel"),
		BuildDir:   buildDir,
		Image:      filepath.Join(buildDir, "kernel.img"),
	}

	var stdout bytes.Buffer
	c := NewCommand(zerolog.Nop(), script, &stdout)
	require.NoError(t, c.Build(context.Background(), req))

	data, err := os.ReadFile(req.Image)
	require.NoError(t, err)
	require.Equal(t, strings.Join(BuildArgs(req), " ")+"\n", string(data))
	require.Equal(t, "building\n", stdout.String())
}

func TestCommandBuildFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as image builder")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "mkimage")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'no kernel' >&2\nexit 3\n"), 0o755))

	c := NewCommand(zerolog.Nop(), script, nil)
	err := c.Build(context.Background(), Request{Executable: "k", Image: filepath.Join(dir, "k.img")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no kernel")
}

func TestCommandBuildMissingImage(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as image builder")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "mkimage")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	c := NewCommand(zerolog.Nop(), script, nil)
	err := c.Build(context.Background(), Request{Executable: "k", Image: filepath.Join(dir, "k.img")})
	require.Error(t, err)
}

func TestNewCommandDefaultProgram(t *testing.T) {
	c := NewCommand(zerolog.Nop(), "", nil)
	require.Equal(t, DefaultProgram, c.program)
}
