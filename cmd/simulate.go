package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tsawler/go-checkpoint/checkpoints"
	"github.com/tsawler/go-checkpoint/config"
	"github.com/tsawler/go-checkpoint/training"
)

var (
	simDir        string
	simMetrics    string
	simMode       string
	simEpochFreq  int
	simPeriodic   bool
	simPretrained bool
	simBest       float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a metric sequence through the checkpoint tracker",
	Long: `Replay one metric value per epoch through the checkpoint tracker and report which
epochs were persisted. Files are written to --dir (default: the configured checkpoint_dir).`,
	Example: `  go-checkpoint simulate --metrics 0.5,0.3,0.4,0.2 --dir /tmp/ckpt
  go-checkpoint simulate --metrics 0.1,0.2,0.3,0.4 --mode max --periodic --epoch-freq 2`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simDir, "dir", "d", "", "checkpoint directory (created if missing)")
	simulateCmd.Flags().StringVarP(&simMetrics, "metrics", "m", "", "comma-separated metric value per epoch")
	simulateCmd.Flags().StringVar(&simMode, "mode", "", "override monitor mode (min or max)")
	simulateCmd.Flags().IntVar(&simEpochFreq, "epoch-freq", 0, "override periodic save frequency")
	simulateCmd.Flags().BoolVar(&simPeriodic, "periodic", false, "save every epoch-freq epochs instead of only the best")
	simulateCmd.Flags().BoolVar(&simPretrained, "pretrained", false, "persist through the pretrained-model layout")
	simulateCmd.Flags().Float64Var(&simBest, "best", 0, "resume from this best value")
	simulateCmd.MarkFlagRequired("metrics")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	metrics, err := parseMetrics(simMetrics)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("mode") {
		cfg.Checkpoint.Mode = simMode
	}
	if cmd.Flags().Changed("epoch-freq") {
		cfg.Checkpoint.EpochFreq = simEpochFreq
	}
	if simPeriodic {
		bestOnly := false
		cfg.Checkpoint.SaveBestOnly = &bestOnly
	}
	if cmd.Flags().Changed("best") {
		best := simBest
		cfg.Checkpoint.Best = &best
	}

	dir := simDir
	if dir == "" {
		paths, err := cfg.ResolvedPaths()
		if err != nil {
			return err
		}
		dir = paths.CheckpointDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	trackerConfig, err := newTrackerConfig(cfg.Checkpoint, dir)
	if err != nil {
		return err
	}

	tracker, err := training.NewModelCheckpoint(trackerConfig, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	saves := 0
	for i, metric := range metrics {
		epoch := i + 1
		state := checkpoints.State{
			"epoch":               epoch,
			trackerConfig.Monitor: metric,
		}

		var saved bool
		if simPretrained {
			state[training.ModelKey] = &demoModel{arch: trackerConfig.Arch, epoch: epoch}
			state["val_predicted"] = []int{epoch % 2, 1}
			state["val_true"] = []int{1, 1}
			state["train_true"] = []int{0, 1, 1}
			_, saved, err = tracker.PretrainedEpochStep(state, metric)
		} else {
			_, saved, err = tracker.EpochStep(state, metric)
		}
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		status := "skipped"
		if saved {
			saves++
			status = color.GreenString("saved")
		}
		fmt.Fprintf(out, "epoch %d\t%s=%v\t%s\n", epoch, trackerConfig.Monitor, metric, status)
	}

	fmt.Fprintf(out, "%d of %d epochs saved, best %s=%v\n", saves, len(metrics), tracker.Monitor(), tracker.Best())
	return nil
}

// newTrackerConfig converts the config file section into tracker settings
func newTrackerConfig(c config.Checkpoint, dir string) (training.CheckpointConfig, error) {
	mode, err := training.ParseMonitorMode(c.Mode)
	if err != nil {
		return training.CheckpointConfig{}, err
	}

	format, err := checkpoints.ParseFormat(c.Format)
	if err != nil {
		return training.CheckpointConfig{}, err
	}

	tc := training.DefaultCheckpointConfig()
	tc.Directory = dir
	tc.Mode = mode
	tc.Format = format
	tc.SaveBestOnly = c.BestOnly()
	tc.Best = c.Best
	if c.Arch != "" {
		tc.Arch = c.Arch
	}
	if c.Monitor != "" {
		tc.Monitor = c.Monitor
	}
	if c.EpochFreq > 0 {
		tc.EpochFreq = c.EpochFreq
	}
	return tc, nil
}

func parseMetrics(s string) ([]float64, error) {
	var metrics []float64
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid metric value %q: %w", field, err)
		}
		metrics = append(metrics, v)
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("no metric values given")
	}
	return metrics, nil
}

// demoModel stands in for a pretrained network during simulation
type demoModel struct {
	arch  string
	epoch int
}

func (m *demoModel) SavePretrained(dir string) error {
	weights := make([]float32, 8)
	for i := range weights {
		weights[i] = float32(m.epoch) / float32(i+1)
	}
	return checkpoints.SaveLabels(filepath.Join(dir, "model_weights.bin"), weights)
}

func (m *demoModel) ConfigJSON() (string, error) {
	data, err := json.MarshalIndent(map[string]interface{}{
		"architectures": []string{m.arch},
		"num_labels":    2,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}
