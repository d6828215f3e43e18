package training

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-checkpoint/checkpoints"
)

var (
	ErrNotDirectory = errors.New("checkpoint directory does not exist or is not a directory")
	ErrUnknownMode  = errors.New("unknown monitor mode")
	ErrMissingModel = errors.New("state does not hold a pretrained model")
)

const (
	// ModelKey is the state field holding the PretrainedModel
	ModelKey = "model"
	// BestKey is the state field the tracker stores the best metric under
	BestKey = "best"

	ConfigFilename = "config.json"
	InfoFilename   = "checkpoint_info.bin"
)

// MonitorMode selects the direction in which the monitored metric improves
type MonitorMode int

const (
	ModeMin MonitorMode = iota
	ModeMax
)

func (m MonitorMode) String() string {
	switch m {
	case ModeMin:
		return "min"
	case ModeMax:
		return "max"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// ParseMonitorMode accepts "min" or "max". There is no "auto" inference.
func ParseMonitorMode(s string) (MonitorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "min":
		return ModeMin, nil
	case "max":
		return ModeMax, nil
	default:
		return ModeMin, fmt.Errorf("%w: %q (expected min or max)", ErrUnknownMode, s)
	}
}

func (m MonitorMode) valid() bool {
	return m == ModeMin || m == ModeMax
}

// improved reports whether current strictly beats best
func (m MonitorMode) improved(current, best float64) bool {
	if m == ModeMax {
		return current > best
	}
	return current < best
}

func (m MonitorMode) initialBest() float64 {
	if m == ModeMax {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

// AuxFile names a state field written to its own label file on best pretrained saves
type AuxFile struct {
	Key      string
	Filename string
}

// DefaultAuxFiles returns the validation/training label files written next to a best model
func DefaultAuxFiles() []AuxFile {
	return []AuxFile{
		{Key: "val_predicted", Filename: "val_predicted.p"},
		{Key: "val_true", Filename: "val_true.p"},
		{Key: "train_true", Filename: "train_true.p"},
	}
}

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	Directory    string                       // Existing directory checkpoints are written to
	Arch         string                       // Architecture label used in filenames
	Monitor      string                       // Name of the monitored metric
	Mode         MonitorMode                  // Improvement direction
	EpochFreq    int                          // Periodic saves every N epochs
	SaveBestOnly bool                         // Overwrite a single best checkpoint instead of periodic saves
	Best         *float64                     // Resumed best value; nil uses the mode default
	Format       checkpoints.CheckpointFormat // Encoding of state blobs
	AuxFiles     []AuxFile                    // Label files written on best pretrained saves
}

// DefaultCheckpointConfig returns a sensible default configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Directory:    "./checkpoints",
		Arch:         "bert",
		Monitor:      "valid_loss",
		Mode:         ModeMin,
		EpochFreq:    1,
		SaveBestOnly: true,
		Format:       checkpoints.FormatProto,
		AuxFiles:     DefaultAuxFiles(),
	}
}

// PretrainedModel is a model that persists its own weights and exposes its configuration
type PretrainedModel interface {
	SavePretrained(dir string) error
	ConfigJSON() (string, error)
}

// ModelCheckpoint decides once per epoch whether to persist the training state.
// It is not safe for concurrent use.
type ModelCheckpoint struct {
	config CheckpointConfig
	saver  *checkpoints.StateSaver
	logger logrus.FieldLogger
	best   float64
}

// NewModelCheckpoint validates the configuration and creates a tracker. The directory must
// already exist. A nil logger discards all output.
func NewModelCheckpoint(config CheckpointConfig, logger logrus.FieldLogger) (*ModelCheckpoint, error) {
	info, err := os.Stat(config.Directory)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotDirectory, config.Directory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, config.Directory)
	}

	if !config.Mode.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, config.Mode)
	}

	if !config.SaveBestOnly && config.EpochFreq < 1 {
		return nil, fmt.Errorf("epoch frequency must be at least 1, got %d", config.EpochFreq)
	}

	if config.AuxFiles == nil {
		config.AuxFiles = DefaultAuxFiles()
	}

	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	best := config.Mode.initialBest()
	if config.Best != nil {
		best = *config.Best
	}

	return &ModelCheckpoint{
		config: config,
		saver:  checkpoints.NewStateSaver(config.Format),
		logger: logger,
		best:   best,
	}, nil
}

// Best returns the best metric value seen so far
func (mc *ModelCheckpoint) Best() float64 { return mc.best }

// Monitor returns the monitored metric name
func (mc *ModelCheckpoint) Monitor() string { return mc.config.Monitor }

// Arch returns the architecture label
func (mc *ModelCheckpoint) Arch() string { return mc.config.Arch }

// Dir returns the checkpoint directory
func (mc *ModelCheckpoint) Dir() string { return mc.config.Directory }

// Mode returns the improvement direction
func (mc *ModelCheckpoint) Mode() MonitorMode { return mc.config.Mode }

// BestPath is the file overwritten by best-only saves
func (mc *ModelCheckpoint) BestPath() string {
	return filepath.Join(mc.config.Directory, fmt.Sprintf("BEST_%s_MODEL.pth", mc.config.Arch))
}

// EpochPath is the file written by a periodic save for the given state
func (mc *ModelCheckpoint) EpochPath(epoch int, metric string) string {
	name := fmt.Sprintf("epoch_%d_%s_%s_model.bin", epoch, metric, mc.config.Arch)
	return filepath.Join(mc.config.Directory, name)
}

// EpochDir is the directory written by a periodic pretrained save
func (mc *ModelCheckpoint) EpochDir(epoch int) string {
	return filepath.Join(mc.config.Directory, fmt.Sprintf("checkpoint-epoch-%d", epoch))
}

// EpochStep records one epoch. It returns the state as persisted (a copy; the caller's map
// is left untouched), whether a file was written, and any error.
func (mc *ModelCheckpoint) EpochStep(state checkpoints.State, current float64) (checkpoints.State, bool, error) {
	epoch, err := state.Epoch()
	if err != nil {
		return nil, false, err
	}

	out := state.Clone()
	log := mc.logger.WithFields(logrus.Fields{"epoch": epoch, "monitor": mc.config.Monitor})

	if mc.config.SaveBestOnly {
		log.Debugf("Metric for current epoch: %v, best so far: %v", current, mc.best)

		if !mc.config.Mode.improved(current, mc.best) {
			return out, false, nil
		}

		log.Infof("Epoch %d: %s improved from %.5f to %.5f", epoch, mc.config.Monitor, mc.best, current)
		mc.best = current
		out[BestKey] = mc.best

		path := mc.BestPath()
		if err := mc.saver.SaveState(out, path); err != nil {
			return out, false, fmt.Errorf("failed to save best checkpoint: %w", err)
		}
		log.WithField("path", path).Debug("Saved best checkpoint")

		return out, true, nil
	}

	if epoch%mc.config.EpochFreq != 0 {
		return out, false, nil
	}

	metric := formatMetric(current)
	if v, ok := out[mc.config.Monitor]; ok {
		metric = formatMetric(v)
	}

	path := mc.EpochPath(epoch, metric)
	log.Infof("Epoch %d: save model to disk.", epoch)
	if err := mc.saver.SaveState(out, path); err != nil {
		return out, false, fmt.Errorf("failed to save epoch checkpoint: %w", err)
	}

	return out, true, nil
}

// PretrainedEpochStep records one epoch for a state holding a PretrainedModel under
// ModelKey. Weights are written by the model itself, the model config to config.json and
// the rest of the state to checkpoint_info.bin. Best saves also write the configured label
// files. When a save happens the returned copy no longer holds the model.
func (mc *ModelCheckpoint) PretrainedEpochStep(state checkpoints.State, current float64) (checkpoints.State, bool, error) {
	epoch, err := state.Epoch()
	if err != nil {
		return nil, false, err
	}

	model, ok := state[ModelKey].(PretrainedModel)
	if !ok {
		return nil, false, fmt.Errorf("%w: %q holds %T", ErrMissingModel, ModelKey, state[ModelKey])
	}

	out := state.Clone()
	log := mc.logger.WithFields(logrus.Fields{"epoch": epoch, "monitor": mc.config.Monitor})

	if mc.config.SaveBestOnly {
		if !mc.config.Mode.improved(current, mc.best) {
			log.Debugf("No improvement: %v (best %v)", current, mc.best)
			return out, false, nil
		}

		for _, aux := range mc.config.AuxFiles {
			if _, ok := out[aux.Key]; !ok {
				return out, false, fmt.Errorf("%w: %s", checkpoints.ErrMissingKey, aux.Key)
			}
		}

		log.Infof("Epoch %d: %s improved from %.5f to %.5f", epoch, mc.config.Monitor, mc.best, current)
		mc.best = current
		out[BestKey] = mc.best

		if err := mc.savePretrained(mc.config.Directory, model, out); err != nil {
			return out, false, err
		}

		for _, aux := range mc.config.AuxFiles {
			path := filepath.Join(mc.config.Directory, aux.Filename)
			log.WithField("path", path).Debugf("Saving %s", aux.Key)
			if err := checkpoints.SaveLabels(path, out[aux.Key]); err != nil {
				return out, false, fmt.Errorf("failed to save %s: %w", aux.Key, err)
			}
		}

		return out, true, nil
	}

	if epoch%mc.config.EpochFreq != 0 {
		return out, false, nil
	}

	dir := mc.EpochDir(epoch)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return out, false, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	log.Infof("Epoch %d: save model to disk.", epoch)
	if err := mc.savePretrained(dir, model, out); err != nil {
		return out, false, err
	}

	return out, true, nil
}

// savePretrained writes weights, config.json and checkpoint_info.bin into dir and drops
// the model from state. Files already written are left behind if a later step fails.
func (mc *ModelCheckpoint) savePretrained(dir string, model PretrainedModel, state checkpoints.State) error {
	mc.logger.WithField("path", dir).Debug("Saving the model")
	if err := model.SavePretrained(dir); err != nil {
		return fmt.Errorf("failed to save pretrained weights: %w", err)
	}

	configJSON, err := model.ConfigJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize model config: %w", err)
	}
	if err := checkpoints.WriteText(filepath.Join(dir, ConfigFilename), configJSON); err != nil {
		return err
	}

	delete(state, ModelKey)

	if err := mc.saver.SaveState(state, filepath.Join(dir, InfoFilename)); err != nil {
		return fmt.Errorf("failed to save checkpoint info: %w", err)
	}

	return nil
}

// ResumeBest reads the best metric stored in a previously saved checkpoint
func ResumeBest(path string, format checkpoints.CheckpointFormat) (float64, error) {
	state, err := checkpoints.NewStateSaver(format).LoadState(path)
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return state.Float(BestKey)
}

func formatMetric(v interface{}) string {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
