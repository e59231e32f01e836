package cli

// This file contains the runner invoked by cargo for every executable:
// round bookkeeping, image build, VM run and result ingestion.

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/perfgo/kboot/cli/builder"
	"github.com/perfgo/kboot/cli/kview"
	"github.com/perfgo/kboot/cli/qemu"
	"github.com/perfgo/kboot/eventlog"
	"github.com/perfgo/kboot/history"
	"github.com/perfgo/kboot/ktest"
	"github.com/perfgo/kboot/metrics"
	"github.com/perfgo/kboot/model"
	"github.com/perfgo/kboot/round"
	"github.com/perfgo/kboot/workspace"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// invocation is the state of one runner invocation
type invocation struct {
	logger zerolog.Logger
	runID  string
	exe    string
	isTest bool
	cfg    workspace.Config
	paths  workspace.Paths
}

func (a *App) run(ctx *cli.Context) error {
	exe, err := workspace.Executable(ctx.Args().Slice())
	if err != nil {
		_ = cli.ShowAppHelp(ctx)
		return err
	}

	root, err := workspace.Root(exe)
	if err != nil {
		return err
	}

	cfg, err := workspace.LoadConfig(root)
	if err != nil {
		return err
	}

	inv := &invocation{
		runID:  uuid.NewString(),
		exe:    exe,
		isTest: workspace.IsTest(exe),
		cfg:    cfg,
		paths:  workspace.NewPaths(root, cfg.BuildDir),
	}

	logger, closeLog, err := a.runLogger(inv.paths.LogFile(inv.runID))
	if err != nil {
		return err
	}
	defer closeLog()
	inv.logger = logger.With().Str("run_id", inv.runID).Logger()

	inv.logger.Info().
		Strs("args", os.Args).
		Str("executable", exe).
		Str("stem", workspace.FileStem(exe)).
		Bool("test", inv.isTest).
		Bool("doctest", workspace.IsDoctest(exe)).
		Str("workspace", root).
		Msg("Starting kboot runner")

	return a.execute(ctx, inv)
}

func (a *App) execute(ctx *cli.Context, inv *invocation) error {
	skipIngest := ctx.Bool("no-ktest")

	// Only test executables take part in rounds
	var (
		coord *round.Coordinator
		desc  model.GroupDescriptor
	)
	if inv.isTest {
		total, err := workspace.TotalTestGroups(inv.paths.Root)
		if err != nil {
			return err
		}

		log, err := eventlog.Open(inv.logger, inv.paths.EventLog)
		if err != nil {
			return err
		}

		coord = round.New(inv.logger, log, total)
		unlock, err := coord.Lock()
		if err != nil {
			return err
		}
		defer func() {
			if err := unlock(); err != nil {
				inv.logger.Warn().Err(err).Msg("Failed to release event log lock")
			}
		}()

		desc, err = coord.BeginGroup()
		if err != nil {
			return err
		}
	}

	if err := a.buildImage(ctx, inv); err != nil {
		return err
	}

	args := &qemu.Arguments{
		BuildPath:   inv.paths.Build,
		ImagePath:   inv.paths.Image,
		TestingPath: inv.paths.Testing,
		RunArgs:     qemu.SplitArgs(ctx.String("qemu")),
		Image:       inv.cfg.QEMU.Image,
		WebPort:     inv.cfg.QEMU.WebPort,
		Interactive: !ctx.Bool("ci"),
	}
	if len(args.RunArgs) > 0 {
		inv.logger.Info().Strs("qemu_args", args.RunArgs).Msg("QEMU options detected")
	}
	if inv.isTest {
		args.EnableTestOutput(inv.runID)
		if _, err := args.PrepareCapture(inv.runID); err != nil {
			return err
		}
	}

	result, err := a.newRunner(inv.logger).Run(ctx.Context, args)
	if err != nil {
		return err
	}

	if inv.isTest {
		if err := a.collect(ctx, inv, desc, result, skipIngest); err != nil {
			return err
		}
		if err := coord.EndGroup(desc); err != nil {
			return err
		}
	}

	if err := result.Err(); err != nil {
		return cli.Exit(err.Error(), result.ExitCode)
	}
	return nil
}

func (a *App) buildImage(ctx *cli.Context, inv *invocation) error {
	req := builder.Request{
		Executable: inv.exe,
		BuildDir:   inv.paths.Build,
		Image:      inv.paths.Image,
		Ramdisk:    ctx.String("ramdisk"),
	}
	if ctx.Bool("legacy-boot") {
		req.ImageType = builder.BIOS
	}
	if ctx.Bool("limine") {
		req.Bootloader = builder.Limine
		conf, err := builder.FindLimineConf(inv.paths.Root)
		if err != nil {
			return err
		}
		inv.logger.Info().Str("path", conf).Msg("Found limine.conf")
		req.LimineConf = conf
	}

	program := inv.cfg.ImageBuilder
	if ctx.IsSet("image-builder") {
		program = ctx.String("image-builder")
	}

	return a.newBuilder(inv.logger, program).Build(ctx.Context, req)
}

// collect ingests the test output of the group and archives the round
// after its final group.
func (a *App) collect(ctx *cli.Context, inv *invocation, desc model.GroupDescriptor, result qemu.Result, skip bool) error {
	pipeline := ktest.New(inv.logger, inv.paths.Testing)

	capturePath := ktest.CapturePath(inv.paths.Testing, inv.runID)
	exists, err := ktest.CaptureExists(capturePath)
	if err != nil {
		return err
	}

	var report *ktest.Report
	switch {
	case ktest.ShouldIngest(inv.isTest, skip, exists):
		report, err = pipeline.Ingest(inv.runID, desc, result.Elapsed)
		if errors.Is(err, ktest.ErrNoHeader) {
			// Every line was already logged to the run log
			inv.logger.Warn().Msg("Guest wrote no test group header, no report for this group")
			if err := pipeline.DiscardCapture(inv.runID); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	case !skip:
		inv.logger.Warn().Msg("Guest produced no test output, no report for this group")
		if err := pipeline.DiscardCapture(inv.runID); err != nil {
			return err
		}
	default:
		inv.logger.Debug().Msg("Skipping test result ingestion")
	}

	if skip || !desc.IsFinal() {
		return nil
	}

	now := a.now()
	archiveDir, err := pipeline.ArchiveRound(now)
	if err != nil {
		return err
	}
	if archiveDir == "" {
		return nil
	}

	a.writeMetrics(inv, archiveDir, now.UnixMilli())

	if report != nil && report.UseViewer {
		opts := kview.Options{
			Image:    inv.cfg.Viewer.Image,
			Port:     inv.cfg.Viewer.Port,
			Wait:     inv.cfg.Viewer.Wait,
			BuildDir: inv.paths.Build,
		}
		if err := a.newViewer(inv.logger).StartIfNeeded(ctx.Context, opts); err != nil {
			inv.logger.Warn().Err(err).Msg("Failed to start kview")
		}
	}

	return nil
}

// writeMetrics writes the Prometheus summary of an archived round. Failures
// are logged, the round is already safe on disk.
func (a *App) writeMetrics(inv *invocation, archiveDir string, finishedMS int64) {
	groups, err := history.LoadGroups(inv.logger, archiveDir)
	if err != nil {
		inv.logger.Warn().Err(err).Msg("Failed to load archived reports")
		return
	}

	path := filepath.Join(archiveDir, metrics.FileName)
	if err := metrics.WriteRound(path, groups, finishedMS); err != nil {
		inv.logger.Warn().Err(err).Msg("Failed to write round metrics")
		return
	}
	inv.logger.Debug().Str("path", path).Msg("Wrote round metrics")
}
