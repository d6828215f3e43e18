package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
)

// ErrUnknownVariant is returned for experiment variants with no path table
var ErrUnknownVariant = errors.New("unknown experiment variant")

// BaseDir is the root every built-in path table is relative to
const BaseDir = "pybert"

const (
	VariantLabelEmoRand               = "label_emo_rand"
	VariantLabelFinetuneSoftJointCorr = "label_finetune_soft_joint_corr"
)

// Paths maps the logical dataset/model roles of an experiment to filesystem paths.
// Empty fields are roles the variant does not use.
type Paths struct {
	RawDataPath     string `yaml:"raw_data_path"`
	UnlabelDataPath string `yaml:"unlabel_data_path"`
	TestPath        string `yaml:"test_path"`
	DataCache       string `yaml:"data_cache"`
	DataDir         string `yaml:"data_dir"`
	LogDir          string `yaml:"log_dir"`
	WriterDir       string `yaml:"writer_dir"`
	FigureDir       string `yaml:"figure_dir"`
	CheckpointDir   string `yaml:"checkpoint_dir"`
	CacheDir        string `yaml:"cache_dir"`
	Result          string `yaml:"result"`

	BertVocabPath  string `yaml:"bert_vocab_path"`
	BertConfigFile string `yaml:"bert_config_file"`
	BertModelDir   string `yaml:"bert_model_dir"`

	XLNetVocabPath  string `yaml:"xlnet_vocab_path"`
	XLNetConfigFile string `yaml:"xlnet_config_file"`
	XLNetModelDir   string `yaml:"xlnet_model_dir"`
}

// commonPaths builds the table shared by all variants
func commonPaths(base, checkpointsName string) Paths {
	j := filepath.Join
	return Paths{
		RawDataPath:   j(base, "dataset", "train_char_label_df.csv"),
		TestPath:      j(base, "dataset", "test_char_label_df.csv"),
		DataCache:     j(base, "dataset", checkpointsName),
		DataDir:       j(base, "dataset"),
		LogDir:        j(base, "output", "log"),
		WriterDir:     j(base, "output", "TSboard"),
		FigureDir:     j(base, "output", "figure"),
		CheckpointDir: j(base, "output", checkpointsName),
		CacheDir:      j(base, "model"),
		Result:        j(base, "output", "result"),

		BertVocabPath:  j(base, "pretrain", "bert", "base-uncased", "bert_vocab.txt"),
		BertConfigFile: j(base, "pretrain", "bert", "base-uncased", "config.json"),
		BertModelDir:   j(base, "pretrain", "bert", "base-uncased"),

		XLNetVocabPath:  j(base, "pretrain", "xlnet", "base-cased", "spiece.model"),
		XLNetConfigFile: j(base, "pretrain", "xlnet", "base-cased", "config.json"),
		XLNetModelDir:   j(base, "pretrain", "xlnet", "base-cased"),
	}
}

var variants = map[string]func() Paths{
	VariantLabelEmoRand: func() Paths {
		p := commonPaths(BaseDir, "checkpoints_label_emo_rand")
		// vocab comes from a masked-LM run outside the project tree
		p.BertVocabPath = "/home/rgaonkar/context_home/rgaonkar/label_embeddings/code/Bert_Masked_LM/output/random_emotion/model_checkpoint/vocab.txt"
		return p
	},
	VariantLabelFinetuneSoftJointCorr: func() Paths {
		p := commonPaths(BaseDir, "checkpoints_label_finetune_soft_joint_corr")
		p.UnlabelDataPath = filepath.Join(BaseDir, "dataset", "data_semisupervised_small.csv")
		return p
	},
}

// Variant returns the path table of a built-in experiment variant
func Variant(name string) (Paths, error) {
	build, ok := variants[name]
	if !ok {
		return Paths{}, fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}
	return build(), nil
}

// VariantNames lists the built-in variants in sorted order
func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Roles returns the non-empty entries keyed by role name
func (p Paths) Roles() map[string]string {
	roles := make(map[string]string)
	v := reflect.ValueOf(p)
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		value := v.Field(i).String()
		if value == "" {
			continue
		}
		roles[t.Field(i).Tag.Get("yaml")] = value
	}

	return roles
}

// Lookup resolves a single role
func (p Paths) Lookup(role string) (string, bool) {
	path, ok := p.Roles()[role]
	return path, ok
}

// WithBase re-roots every relative entry that lives under BaseDir onto dir
func (p Paths) WithBase(dir string) Paths {
	v := reflect.ValueOf(&p).Elem()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.String() == "" || filepath.IsAbs(field.String()) {
			continue
		}
		rel, err := filepath.Rel(BaseDir, field.String())
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		field.SetString(filepath.Join(dir, rel))
	}
	return p
}

// Merge overlays the non-empty entries of override onto p
func (p Paths) Merge(override Paths) Paths {
	dst := reflect.ValueOf(&p).Elem()
	src := reflect.ValueOf(override)
	for i := 0; i < src.NumField(); i++ {
		if s := src.Field(i).String(); s != "" {
			dst.Field(i).SetString(s)
		}
	}
	return p
}
