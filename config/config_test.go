package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestVariantTables(t *testing.T) {
	emo, err := Variant(VariantLabelEmoRand)
	if err != nil {
		t.Fatalf("Failed to load %s: %v", VariantLabelEmoRand, err)
	}

	if emo.CheckpointDir != filepath.Join("pybert", "output", "checkpoints_label_emo_rand") {
		t.Errorf("Unexpected checkpoint_dir %s", emo.CheckpointDir)
	}
	if emo.DataCache != filepath.Join("pybert", "dataset", "checkpoints_label_emo_rand") {
		t.Errorf("Unexpected data_cache %s", emo.DataCache)
	}
	if !filepath.IsAbs(emo.BertVocabPath) {
		t.Errorf("Expected an absolute BERT vocab path, got %s", emo.BertVocabPath)
	}
	if emo.UnlabelDataPath != "" {
		t.Errorf("Expected no unlabeled data path, got %s", emo.UnlabelDataPath)
	}

	joint, err := Variant(VariantLabelFinetuneSoftJointCorr)
	if err != nil {
		t.Fatalf("Failed to load %s: %v", VariantLabelFinetuneSoftJointCorr, err)
	}
	if joint.UnlabelDataPath != filepath.Join("pybert", "dataset", "data_semisupervised_small.csv") {
		t.Errorf("Unexpected unlabel_data_path %s", joint.UnlabelDataPath)
	}
	if joint.BertVocabPath != filepath.Join("pybert", "pretrain", "bert", "base-uncased", "bert_vocab.txt") {
		t.Errorf("Unexpected bert_vocab_path %s", joint.BertVocabPath)
	}
	if joint.XLNetVocabPath != filepath.Join("pybert", "pretrain", "xlnet", "base-cased", "spiece.model") {
		t.Errorf("Unexpected xlnet_vocab_path %s", joint.XLNetVocabPath)
	}
}

func TestUnknownVariant(t *testing.T) {
	if _, err := Variant("label_nope"); !errors.Is(err, ErrUnknownVariant) {
		t.Errorf("Expected ErrUnknownVariant, got %v", err)
	}
}

func TestVariantNames(t *testing.T) {
	names := VariantNames()
	if len(names) != 2 || names[0] != VariantLabelEmoRand || names[1] != VariantLabelFinetuneSoftJointCorr {
		t.Errorf("Unexpected variant names %v", names)
	}
}

func TestRolesAndLookup(t *testing.T) {
	emo, _ := Variant(VariantLabelEmoRand)
	roles := emo.Roles()

	if _, ok := roles["unlabel_data_path"]; ok {
		t.Error("Expected empty roles to be omitted")
	}
	if len(roles) != 16 {
		t.Errorf("Expected 16 roles, got %d", len(roles))
	}

	path, ok := emo.Lookup("log_dir")
	if !ok || path != filepath.Join("pybert", "output", "log") {
		t.Errorf("Unexpected log_dir %q (%v)", path, ok)
	}
	if _, ok := emo.Lookup("nope"); ok {
		t.Error("Expected unknown role lookup to fail")
	}
}

func TestWithBase(t *testing.T) {
	emo, _ := Variant(VariantLabelEmoRand)
	rebased := emo.WithBase("/data/run1")

	if rebased.CheckpointDir != filepath.Join("/data/run1", "output", "checkpoints_label_emo_rand") {
		t.Errorf("Unexpected rebased checkpoint_dir %s", rebased.CheckpointDir)
	}
	if rebased.BertVocabPath != emo.BertVocabPath {
		t.Errorf("Expected absolute paths to be kept, got %s", rebased.BertVocabPath)
	}
	if rebased.UnlabelDataPath != "" {
		t.Errorf("Expected empty roles to stay empty, got %s", rebased.UnlabelDataPath)
	}
	if emo.CheckpointDir != filepath.Join("pybert", "output", "checkpoints_label_emo_rand") {
		t.Error("WithBase modified the receiver")
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
variant: label_emo_rand
base_dir: /srv/pybert
paths:
  log_dir: /var/log/pybert
checkpoint:
  arch: bert
  monitor: valid_f1
  mode: max
  epoch_freq: 2
  save_best_only: false
  format: json
  best: 0.42
`)

	manager := NewManager(path, nil)
	if err := manager.LoadConfig(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	cfg := manager.GetConfig()

	if cfg.Checkpoint.Monitor != "valid_f1" || cfg.Checkpoint.Mode != "max" || cfg.Checkpoint.EpochFreq != 2 {
		t.Errorf("Unexpected checkpoint section %+v", cfg.Checkpoint)
	}
	if cfg.Checkpoint.BestOnly() {
		t.Error("Expected save_best_only false")
	}
	if cfg.Checkpoint.Best == nil || *cfg.Checkpoint.Best != 0.42 {
		t.Errorf("Expected best 0.42, got %v", cfg.Checkpoint.Best)
	}

	paths, err := cfg.ResolvedPaths()
	if err != nil {
		t.Fatalf("Failed to resolve paths: %v", err)
	}
	if paths.LogDir != "/var/log/pybert" {
		t.Errorf("Expected override log_dir, got %s", paths.LogDir)
	}
	if paths.CheckpointDir != filepath.Join("/srv/pybert", "output", "checkpoints_label_emo_rand") {
		t.Errorf("Expected rebased checkpoint_dir, got %s", paths.CheckpointDir)
	}
}

func TestLoadConfigDefaultsFill(t *testing.T) {
	path := writeConfig(t, "variant: label_emo_rand\n")

	manager := NewManager(path, nil)
	if err := manager.LoadConfig(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	cfg := manager.GetConfig()

	if cfg.Checkpoint.Mode != "min" || cfg.Checkpoint.Monitor != "valid_loss" {
		t.Errorf("Expected defaults for the checkpoint section, got %+v", cfg.Checkpoint)
	}
	if !cfg.Checkpoint.BestOnly() {
		t.Error("Expected save_best_only to default to true")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown variant", "variant: nope\n"},
		{"auto mode", "checkpoint:\n  mode: auto\n"},
		{"zero frequency", "checkpoint:\n  save_best_only: false\n  epoch_freq: 0\n"},
		{"bad format", "checkpoint:\n  format: onnx\n"},
		{"bad yaml", "variant: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(writeConfig(t, tt.body), nil)
			if err := manager.LoadConfig(); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err := manager.LoadConfig(); err == nil {
		t.Error("Expected an error for a missing explicit config file")
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Failed to chdir: %v", err)
	}
	defer os.Chdir(wd)

	manager := NewManager("", nil)
	if err := manager.LoadConfig(); err != nil {
		t.Fatalf("Expected defaults without a config file, got %v", err)
	}
	if manager.GetConfig().Variant != VariantLabelFinetuneSoftJointCorr {
		t.Errorf("Unexpected default variant %s", manager.GetConfig().Variant)
	}
}
